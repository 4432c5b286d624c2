// Package ruleadmin is the authoring side of the rule engine. Every mutation
// is validated, persisted and then invalidated locally and on the broadcast
// bus so that no replica keeps serving the old rule set.
package ruleadmin

import (
	"context"
	"fmt"
	"strings"

	"github.com/liamcoop/txrules/internal/logger"
	"github.com/liamcoop/txrules/rules"
)

// Broadcaster fans invalidations out to other processes.
type Broadcaster interface {
	Publish(ctx context.Context, scope int64) error
	PublishAll(ctx context.Context) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithBroadcaster publishes every invalidation on b.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) { m.bus = b }
}

// Manager creates, updates and deletes rules for a scope.
type Manager struct {
	store     rules.RuleStore
	engine    *rules.Engine
	validator *rules.Validator
	bus       Broadcaster
}

// NewManager creates a manager. The engine's cache is invalidated after every
// successful mutation.
func NewManager(store rules.RuleStore, engine *rules.Engine, validator *rules.Validator, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		engine:    engine,
		validator: validator,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks def without persisting it.
func (m *Manager) Validate(ctx context.Context, scope int64, def rules.RuleDefinition, sample *rules.Transaction) (rules.ValidationResult, error) {
	return m.validator.Validate(ctx, scope, def, sample)
}

// Create validates def and stores it as a new rule. Priority defaults to 0 and
// is_active to true. A rejected definition returns a *rules.ValidationError.
func (m *Manager) Create(ctx context.Context, scope int64, def rules.RuleDefinition) (*rules.Rule, error) {
	res, err := m.validator.Validate(ctx, scope, def, nil)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	rule := &rules.Rule{
		ScopeID:     scope,
		Name:        strings.TrimSpace(def.Name),
		Description: stringValue(def.Description),
		Condition:   def.Condition,
		Action:      def.Action,
		Priority:    rules.MinPriority,
		IsActive:    true,
	}
	if def.Priority != nil {
		rule.Priority = *def.Priority
	}
	if def.IsActive != nil {
		rule.IsActive = *def.IsActive
	}

	if err := m.store.Add(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	m.invalidate(ctx, scope)
	logger.Info("rule created", "scope", scope, "rule_id", rule.ID, "name", rule.Name)
	return rule, nil
}

// Update applies the set fields of patch to rule id and re-validates the
// merged rule before storing it.
func (m *Manager) Update(ctx context.Context, scope, id int64, patch rules.RuleDefinition) (*rules.Rule, error) {
	rule, err := m.store.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != "" {
		rule.Name = strings.TrimSpace(patch.Name)
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if len(patch.Condition) > 0 {
		rule.Condition = patch.Condition
	}
	if len(patch.Action) > 0 {
		rule.Action = patch.Action
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}

	res, err := m.validator.ValidateRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	if err := m.store.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule %d: %w", id, err)
	}
	m.invalidate(ctx, scope)
	logger.Info("rule updated", "scope", scope, "rule_id", id)
	return rule, nil
}

// SetActive enables or disables rule id.
func (m *Manager) SetActive(ctx context.Context, scope, id int64, active bool) (*rules.Rule, error) {
	rule, err := m.store.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if rule.IsActive == active {
		return rule, nil
	}
	rule.IsActive = active
	if err := m.store.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule %d: %w", id, err)
	}
	m.invalidate(ctx, scope)
	logger.Info("rule toggled", "scope", scope, "rule_id", id, "is_active", active)
	return rule, nil
}

// Toggle flips the active flag of rule id.
func (m *Manager) Toggle(ctx context.Context, scope, id int64) (*rules.Rule, error) {
	rule, err := m.store.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	return m.SetActive(ctx, scope, id, !rule.IsActive)
}

// Delete removes rule id.
func (m *Manager) Delete(ctx context.Context, scope, id int64) error {
	if err := m.store.Delete(ctx, scope, id); err != nil {
		return err
	}
	m.invalidate(ctx, scope)
	logger.Info("rule deleted", "scope", scope, "rule_id", id)
	return nil
}

// Get returns rule id.
func (m *Manager) Get(ctx context.Context, scope, id int64) (*rules.Rule, error) {
	return m.store.Get(ctx, scope, id)
}

// List returns the scope's rules in evaluation order.
func (m *Manager) List(ctx context.Context, scope int64, activeOnly bool) ([]*rules.Rule, error) {
	return m.store.List(ctx, scope, activeOnly)
}

// Import validates every rule of pack and then stores them all for scope.
// Nothing is stored if any rule is rejected.
func (m *Manager) Import(ctx context.Context, scope int64, pack *Pack) ([]*rules.Rule, error) {
	if err := ValidatePack(pack); err != nil {
		return nil, err
	}

	defs := make([]rules.RuleDefinition, len(pack.Rules))
	var problems []rules.FieldError
	for i, pr := range pack.Rules {
		def, err := pr.Definition()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", pr.Name, err)
		}
		res, err := m.validator.Validate(ctx, scope, def, nil)
		if err != nil {
			return nil, err
		}
		for _, fe := range res.Errors {
			fe.Field = fmt.Sprintf("rules[%d].%s", i, fe.Field)
			problems = append(problems, fe)
		}
		defs[i] = def
	}
	if len(problems) > 0 {
		return nil, &rules.ValidationError{Errors: problems}
	}

	created := make([]*rules.Rule, 0, len(defs))
	for _, def := range defs {
		rule := &rules.Rule{
			ScopeID:     scope,
			Name:        strings.TrimSpace(def.Name),
			Description: stringValue(def.Description),
			Condition:   def.Condition,
			Action:      def.Action,
			Priority:    *def.Priority,
			IsActive:    *def.IsActive,
		}
		if err := m.store.Add(ctx, rule); err != nil {
			// earlier rules of the pack are already stored
			m.invalidate(ctx, scope)
			return created, fmt.Errorf("failed to import rule %q: %w", def.Name, err)
		}
		created = append(created, rule)
	}
	m.invalidate(ctx, scope)
	logger.Info("rule pack imported", "scope", scope, "rules", len(created))
	return created, nil
}

// InvalidateAll drops every cached rule set here and on every replica.
func (m *Manager) InvalidateAll(ctx context.Context) {
	m.engine.InvalidateAll()
	if m.bus == nil {
		return
	}
	if err := m.bus.PublishAll(ctx); err != nil {
		logger.Warn("failed to broadcast invalidation", "error", err)
	}
}

// Invalidate drops the cached rule set of scope on every replica.
func (m *Manager) Invalidate(ctx context.Context, scope int64) {
	m.invalidate(ctx, scope)
}

// invalidate drops scope locally. A failed broadcast is only logged.
func (m *Manager) invalidate(ctx context.Context, scope int64) {
	m.engine.InvalidateCache(scope)
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, scope); err != nil {
		logger.Warn("failed to broadcast invalidation", "scope", scope, "error", err)
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
