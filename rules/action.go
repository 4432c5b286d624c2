package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ActionType names an action in the wire format.
type ActionType string

const (
	ActionSetCategory           ActionType = "set_category"
	ActionSetTags               ActionType = "set_tags"
	ActionRecommendBudgetChange ActionType = "recommend_budget_change"
	ActionRecommendGoal         ActionType = "recommend_goal"
	ActionStopProcessing        ActionType = "stop_processing"
)

// ActionTypes lists the closed action set.
var ActionTypes = []ActionType{
	ActionSetCategory, ActionSetTags, ActionRecommendBudgetChange,
	ActionRecommendGoal, ActionStopProcessing,
}

// Action is the effect applied when a rule matches.
type Action interface {
	Type() ActionType
	action()
}

// SetCategory replaces the transaction's category.
type SetCategory struct{ CategoryID int64 }

// SetTags unions Tags into the transaction's tag set.
type SetTags struct{ Tags []string }

// RecommendBudgetChange emits a budget advisory.
type RecommendBudgetChange struct {
	CategoryID        int64
	RecommendedAmount decimal.Decimal
	Reason            string
}

// RecommendGoal emits a savings goal advisory. GoalID optionally ties the
// recommendation to an existing goal.
type RecommendGoal struct {
	Name         string
	TargetAmount decimal.Decimal
	GoalID       *int64
	Reason       string
}

// StopProcessing ends the evaluation pass after the current rule.
type StopProcessing struct{}

// MalformedAction stands in for an action that failed to parse.
type MalformedAction struct {
	ActionType ActionType
	Problems   []FieldError
}

func (*SetCategory) Type() ActionType           { return ActionSetCategory }
func (*SetTags) Type() ActionType               { return ActionSetTags }
func (*RecommendBudgetChange) Type() ActionType { return ActionRecommendBudgetChange }
func (*RecommendGoal) Type() ActionType         { return ActionRecommendGoal }
func (*StopProcessing) Type() ActionType        { return ActionStopProcessing }
func (m *MalformedAction) Type() ActionType     { return m.ActionType }

func (*SetCategory) action()           {}
func (*SetTags) action()               {}
func (*RecommendBudgetChange) action() {}
func (*RecommendGoal) action()         {}
func (*StopProcessing) action()        {}
func (*MalformedAction) action()       {}

// ParseAction compiles wire JSON into an Action. On failure it returns a
// *MalformedAction together with a *ValidationError.
func ParseAction(raw []byte) (Action, error) {
	a := compileAction(raw, "action")
	if m, ok := a.(*MalformedAction); ok {
		return a, &ValidationError{Errors: m.Problems}
	}
	return a, nil
}

func compileAction(raw []byte, path string) Action {
	if isEmptyJSON(raw) {
		return badAction("", path, "action is required")
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return badAction("", path, "invalid JSON: "+err.Error())
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return badAction("", path, "action must be an object")
	}
	rawType, present := obj["type"]
	if !present {
		return badAction("", path+".type", "action must have 'type' field")
	}
	name, ok := rawType.(string)
	if !ok {
		return badAction("", path+".type", "action type must be a string")
	}
	t := ActionType(name)

	switch t {
	case ActionSetCategory:
		id, fe := intField(obj, path, "category_id", t)
		if fe != nil {
			return &MalformedAction{ActionType: t, Problems: []FieldError{*fe}}
		}
		return &SetCategory{CategoryID: id}

	case ActionSetTags:
		raw, present := obj["tags"]
		if !present {
			return badAction(t, path+".tags", "'set_tags' action requires 'tags'")
		}
		list, ok := raw.([]any)
		if !ok {
			return badAction(t, path+".tags", "'set_tags' tags must be a list")
		}
		var problems []FieldError
		tags := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				problems = append(problems, FieldError{
					Field:   fmt.Sprintf("%s.tags[%d]", path, i),
					Message: "each tag must be a non-empty string",
				})
				continue
			}
			tags = append(tags, s)
		}
		if problems != nil {
			return &MalformedAction{ActionType: t, Problems: problems}
		}
		return &SetTags{Tags: tags}

	case ActionRecommendBudgetChange:
		var problems []FieldError
		id, fe := intField(obj, path, "category_id", t)
		if fe != nil {
			problems = append(problems, *fe)
		}
		amount, fe := decimalField(obj, path, "recommended_amount", t)
		if fe != nil {
			problems = append(problems, *fe)
		}
		reason, fe := optionalString(obj, path, "reason")
		if fe != nil {
			problems = append(problems, *fe)
		}
		if problems != nil {
			return &MalformedAction{ActionType: t, Problems: problems}
		}
		return &RecommendBudgetChange{CategoryID: id, RecommendedAmount: amount, Reason: reason}

	case ActionRecommendGoal:
		var problems []FieldError
		name, fe := optionalString(obj, path, "name")
		if fe != nil {
			problems = append(problems, *fe)
		} else if strings.TrimSpace(name) == "" {
			problems = append(problems, FieldError{Field: path + ".name", Message: "'recommend_goal' requires 'name'"})
		}
		amount, fe := decimalField(obj, path, "target_amount", t)
		if fe != nil {
			problems = append(problems, *fe)
		}
		reason, fe := optionalString(obj, path, "reason")
		if fe != nil {
			problems = append(problems, *fe)
		}
		var goalID *int64
		if _, present := obj["goal_id"]; present {
			id, fe := intField(obj, path, "goal_id", t)
			if fe != nil {
				problems = append(problems, *fe)
			} else {
				goalID = &id
			}
		}
		if problems != nil {
			return &MalformedAction{ActionType: t, Problems: problems}
		}
		return &RecommendGoal{Name: name, TargetAmount: amount, GoalID: goalID, Reason: reason}

	case ActionStopProcessing:
		return &StopProcessing{}
	}

	names := make([]string, len(ActionTypes))
	for i, a := range ActionTypes {
		names[i] = string(a)
	}
	return badAction(t, path+".type",
		fmt.Sprintf("unknown action type %q; supported: %s", name, strings.Join(names, ", ")))
}

func badAction(t ActionType, field, msg string) *MalformedAction {
	return &MalformedAction{ActionType: t, Problems: []FieldError{{Field: field, Message: msg}}}
}

func intField(obj map[string]any, path, key string, t ActionType) (int64, *FieldError) {
	raw, present := obj[key]
	if !present {
		return 0, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' action requires '%s'", t, key)}
	}
	id, ok := toInt64(raw)
	if !ok {
		return 0, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' %s must be an integer", t, key)}
	}
	return id, nil
}

func decimalField(obj map[string]any, path, key string, t ActionType) (decimal.Decimal, *FieldError) {
	raw, present := obj[key]
	if !present {
		return decimal.Decimal{}, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' requires '%s'", t, key)}
	}
	d, ok := toDecimal(raw)
	if !ok {
		return decimal.Decimal{}, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' %s must be numeric", t, key)}
	}
	return d, nil
}

func optionalString(obj map[string]any, path, key string) (string, *FieldError) {
	raw, present := obj[key]
	if !present || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &FieldError{Field: path + "." + key, Message: key + " must be a string"}
	}
	return s, nil
}
