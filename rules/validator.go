package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds rule names.
const MaxNameLength = 255

// CategoryChecker reports whether a category exists for the scope.
type CategoryChecker interface {
	CategoryExists(ctx context.Context, scope, id int64) (bool, error)
}

// GoalChecker reports whether a savings goal exists for the scope.
type GoalChecker interface {
	GoalExists(ctx context.Context, scope, id int64) (bool, error)
}

// RuleDefinition is the authoring payload for a rule. Pointer fields are
// optional; nil means "use the default" on create and "leave unchanged" on
// update.
type RuleDefinition struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Condition   json.RawMessage `json:"condition"`
	Action      json.RawMessage `json:"action"`
	Priority    *int            `json:"priority,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// SampleEvaluation reports how a rule's condition behaved against a sample
// transaction.
type SampleEvaluation struct {
	Matched     bool   `json:"matched"`
	Explanation string `json:"explanation,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ValidationResult is the structured outcome of Validate.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  []FieldError      `json:"errors,omitempty"`
	Sample  *SampleEvaluation `json:"sample_evaluation,omitempty"`
}

// Err returns the result as a *ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithCategoryChecker enables existence checks for category ids referenced by
// actions.
func WithCategoryChecker(c CategoryChecker) ValidatorOption {
	return func(v *Validator) { v.categories = c }
}

// WithGoalChecker enables existence checks for goal ids referenced by actions.
func WithGoalChecker(g GoalChecker) ValidatorOption {
	return func(v *Validator) { v.goals = g }
}

// Validator checks rule definitions. Without checkers the checks are purely
// structural.
type Validator struct {
	eval       *Evaluator
	categories CategoryChecker
	goals      GoalChecker
}

// NewValidator creates a validator that compiles patterns and samples with ev.
func NewValidator(ev *Evaluator, opts ...ValidatorOption) *Validator {
	v := &Validator{eval: ev}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks def for the given scope and collects every problem found.
// When sample is non-nil and the condition is well formed, the condition is
// also evaluated against it. The error return is reserved for checker
// failures; an invalid rule is reported through the result.
func (v *Validator) Validate(ctx context.Context, scope int64, def RuleDefinition, sample *Transaction) (ValidationResult, error) {
	var problems []FieldError

	name := strings.TrimSpace(def.Name)
	switch {
	case name == "":
		problems = append(problems, FieldError{Field: "name", Message: "name is required"})
	case utf8.RuneCountInString(name) > MaxNameLength:
		problems = append(problems, FieldError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", MaxNameLength)})
	}
	if def.Priority != nil && (*def.Priority < MinPriority || *def.Priority > MaxPriority) {
		problems = append(problems, FieldError{
			Field:   "priority",
			Message: fmt.Sprintf("priority must be between %d and %d", MinPriority, MaxPriority),
		})
	}

	cond := compileCondition(def.Condition, "condition", v.eval)
	condProblems := Problems(cond)
	problems = append(problems, condProblems...)

	action := compileAction(def.Action, "action")
	if m, ok := action.(*MalformedAction); ok {
		problems = append(problems, m.Problems...)
	} else {
		refProblems, err := v.checkReferences(ctx, scope, action)
		if err != nil {
			return ValidationResult{}, err
		}
		problems = append(problems, refProblems...)
	}

	res := ValidationResult{Valid: len(problems) == 0, Errors: problems}
	if res.Valid {
		res.Message = "Rule is valid"
	} else if len(problems) == 1 {
		res.Error = problems[0].String()
	}

	if sample != nil && len(condProblems) == 0 {
		matched, why, err := v.eval.Evaluate(cond, *sample)
		res.Sample = &SampleEvaluation{Matched: matched, Explanation: why}
		if err != nil {
			res.Sample.Error = err.Error()
		}
	}
	return res, nil
}

// ValidateRule checks a complete rule, such as an existing rule with an
// update merged in.
func (v *Validator) ValidateRule(ctx context.Context, r *Rule) (ValidationResult, error) {
	p := r.Priority
	active := r.IsActive
	desc := r.Description
	return v.Validate(ctx, r.ScopeID, RuleDefinition{
		Name:        r.Name,
		Description: &desc,
		Condition:   r.Condition,
		Action:      r.Action,
		Priority:    &p,
		IsActive:    &active,
	}, nil)
}

func (v *Validator) checkReferences(ctx context.Context, scope int64, a Action) ([]FieldError, error) {
	var problems []FieldError
	checkCategory := func(id int64) error {
		if v.categories == nil {
			return nil
		}
		ok, err := v.categories.CategoryExists(ctx, scope, id)
		if err != nil {
			return fmt.Errorf("failed to check category %d: %w", id, err)
		}
		if !ok {
			problems = append(problems, FieldError{Field: "action.category_id", Message: fmt.Sprintf("category %d does not exist", id)})
		}
		return nil
	}

	switch n := a.(type) {
	case *SetCategory:
		if err := checkCategory(n.CategoryID); err != nil {
			return nil, err
		}
	case *RecommendBudgetChange:
		if err := checkCategory(n.CategoryID); err != nil {
			return nil, err
		}
	case *RecommendGoal:
		if n.GoalID != nil && v.goals != nil {
			ok, err := v.goals.GoalExists(ctx, scope, *n.GoalID)
			if err != nil {
				return nil, fmt.Errorf("failed to check goal %d: %w", *n.GoalID, err)
			}
			if !ok {
				problems = append(problems, FieldError{Field: "action.goal_id", Message: fmt.Sprintf("goal %d does not exist", *n.GoalID)})
			}
		}
	}
	return problems, nil
}
