package rules

import (
	"fmt"
	"strings"
)

// Executor applies actions to transactions. It holds no state and performs no
// I/O; existence of referenced ids is the caller's concern.
type Executor struct{}

// Execute applies a to a copy of tx. Advisories go to sink and never touch the
// transaction. stop is true only for stop_processing.
func (Executor) Execute(a Action, tx Transaction, sink AdvisorySink) (Transaction, string, bool, error) {
	out := tx.Clone()
	switch n := a.(type) {
	case *SetCategory:
		id := n.CategoryID
		out.CategoryID = &id
		return out, fmt.Sprintf("Set category to %d", id), false, nil

	case *SetTags:
		var added []string
		out.Tags, added = unionTags(out.Tags, n.Tags)
		if len(added) == 0 {
			return out, "Tags already present: " + strings.Join(n.Tags, ", "), false, nil
		}
		return out, "Added tags: " + strings.Join(added, ", "), false, nil

	case *RecommendBudgetChange:
		id := n.CategoryID
		amount := n.RecommendedAmount
		if sink != nil {
			sink.Append(Advisory{
				Kind:              AdvisoryBudgetChange,
				CategoryID:        &id,
				RecommendedAmount: &amount,
				Reason:            n.Reason,
			})
		}
		return out, fmt.Sprintf("Recommended budget of %s for category %d", amount, id), false, nil

	case *RecommendGoal:
		target := n.TargetAmount
		adv := Advisory{
			Kind:         AdvisoryGoal,
			Name:         n.Name,
			TargetAmount: &target,
			Reason:       n.Reason,
		}
		if n.GoalID != nil {
			id := *n.GoalID
			adv.GoalID = &id
		}
		if sink != nil {
			sink.Append(adv)
		}
		return out, fmt.Sprintf("Recommended goal %q with target %s", n.Name, target), false, nil

	case *StopProcessing:
		return out, "Stopped further rule processing", true, nil

	case *MalformedAction:
		msgs := make([]string, len(n.Problems))
		for i, p := range n.Problems {
			msgs[i] = p.String()
		}
		return tx, "", false, faultf(FaultMalformedAction, "%s", strings.Join(msgs, "; "))

	case nil:
		return tx, "", false, faultf(FaultUnknownNode, "nil action")
	}
	return tx, "", false, faultf(FaultUnknownNode, "unhandled action type %T", a)
}

// unionTags appends the tags from add that are not already in have, keeping
// the order of both. It also drops duplicates within add.
func unionTags(have, add []string) ([]string, []string) {
	seen := make(map[string]struct{}, len(have)+len(add))
	for _, t := range have {
		seen[t] = struct{}{}
	}
	out := have
	if out == nil {
		out = []string{}
	}
	var added []string
	for _, t := range add {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		added = append(added, t)
	}
	return out, added
}
