package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RuleLoader supplies the active rules of a scope. It is the only collaborator
// the engine needs on a cache miss.
type RuleLoader interface {
	LoadActiveRules(ctx context.Context, scope int64) ([]*Rule, error)
}

// RuleStore manages rule persistence and retrieval
type RuleStore interface {
	RuleLoader

	// Add inserts a new rule, assigning its ID and timestamps
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID within a scope
	Get(ctx context.Context, scope, id int64) (*Rule, error)

	// List the rules of a scope in evaluation order
	List(ctx context.Context, scope int64, activeOnly bool) ([]*Rule, error)

	// Update an existing rule
	Update(ctx context.Context, rule *Rule) error

	// Delete a rule
	Delete(ctx context.Context, scope, id int64) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
// Thread-safe with RWMutex; rules are copied in and out
type InMemoryRuleStore struct {
	rules  map[int64]*Rule
	nextID int64
	mu     sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[int64]*Rule),
	}
}

// Add adds a new rule to the store
// A zero ID is assigned the next free one; CreatedAt and UpdatedAt are set
func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == 0 {
		s.nextID++
		for s.rules[s.nextID] != nil {
			s.nextID++
		}
		rule.ID = s.nextID
	} else if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %d already exists", rule.ID)
	} else if rule.ID > s.nextID {
		s.nextID = rule.ID
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a rule by ID
// Returns ErrRuleNotFound when the rule does not exist in the scope
func (s *InMemoryRuleStore) Get(_ context.Context, scope, id int64) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists || rule.ScopeID != scope {
		return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

// List returns the rules of a scope, priority descending then ID ascending
func (s *InMemoryRuleStore) List(_ context.Context, scope int64, activeOnly bool) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0)
	for _, rule := range s.rules {
		if rule.ScopeID != scope || (activeOnly && !rule.IsActive) {
			continue
		}
		out = append(out, rule.Clone())
	}
	SortRules(out)
	return out, nil
}

// LoadActiveRules returns the active rules of a scope
func (s *InMemoryRuleStore) LoadActiveRules(ctx context.Context, scope int64) ([]*Rule, error) {
	return s.List(ctx, scope, true)
}

// Update updates an existing rule
// Updates UpdatedAt and preserves CreatedAt
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists || existing.ScopeID != rule.ScopeID {
		return fmt.Errorf("rule %d: %w", rule.ID, ErrRuleNotFound)
	}

	// Preserve original CreatedAt timestamp
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, scope, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists || existing.ScopeID != scope {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}
