package rules

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func mustAction(t *testing.T, raw string) Action {
	t.Helper()
	a, err := ParseAction(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ParseAction(%s) failed: %v", raw, err)
	}
	return a
}

func TestExecuteSetCategory(t *testing.T) {
	var exec Executor
	tx := testTx("Kroger", "10")
	tx.CategoryID = int64Ptr(3)

	out, why, stop, err := exec.Execute(mustAction(t, `{"type":"set_category","category_id":12}`), tx, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if stop {
		t.Error("set_category should not stop processing")
	}
	if out.CategoryID == nil || *out.CategoryID != 12 {
		t.Errorf("CategoryID = %v, want 12", out.CategoryID)
	}
	if *tx.CategoryID != 3 {
		t.Errorf("input transaction was mutated: CategoryID = %d", *tx.CategoryID)
	}
	if why != "Set category to 12" {
		t.Errorf("explanation = %q", why)
	}
}

func TestExecuteSetTags(t *testing.T) {
	var exec Executor

	testCases := []struct {
		name string
		have []string
		add  string
		want []string
	}{
		{"into empty", nil, `["groceries","food"]`, []string{"groceries", "food"}},
		{"keeps order and appends", []string{"b", "a"}, `["c","a","d"]`, []string{"b", "a", "c", "d"}},
		{"drops duplicates in input", []string{}, `["x","x","y"]`, []string{"x", "y"}},
		{"all present", []string{"a", "b"}, `["b","a"]`, []string{"a", "b"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tx := testTx("x", "1")
			tx.Tags = tc.have
			out, _, _, err := exec.Execute(mustAction(t, `{"type":"set_tags","tags":`+tc.add+`}`), tx, nil)
			if err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			if !reflect.DeepEqual(out.Tags, tc.want) {
				t.Errorf("Tags = %v, want %v", out.Tags, tc.want)
			}
		})
	}
}

func TestExecuteSetTagsIdempotent(t *testing.T) {
	var exec Executor
	action := mustAction(t, `{"type":"set_tags","tags":["groceries","weekly"]}`)

	tx := testTx("x", "1")
	tx.Tags = []string{"food"}
	once, _, _, _ := exec.Execute(action, tx, nil)
	twice, why, _, _ := exec.Execute(action, once, nil)

	if !reflect.DeepEqual(once.Tags, twice.Tags) {
		t.Errorf("second application changed tags: %v -> %v", once.Tags, twice.Tags)
	}
	if !strings.HasPrefix(why, "Tags already present") {
		t.Errorf("explanation = %q", why)
	}
	if len(tx.Tags) != 1 {
		t.Errorf("input tags were mutated: %v", tx.Tags)
	}
}

func TestExecuteAdvisories(t *testing.T) {
	var exec Executor
	tx := testTx("Target", "250")
	var sink AdvisoryBuffer

	out, _, stop, err := exec.Execute(mustAction(t,
		`{"type":"recommend_budget_change","category_id":4,"recommended_amount":"300.00","reason":"overspent"}`), tx, &sink)
	if err != nil || stop {
		t.Fatalf("Execute() = stop %v, err %v", stop, err)
	}
	if !reflect.DeepEqual(out, tx) {
		t.Error("recommend_budget_change must not mutate the transaction")
	}

	_, _, _, err = exec.Execute(mustAction(t,
		`{"type":"recommend_goal","name":"Emergency fund","target_amount":1000,"goal_id":9}`), tx, &sink)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if len(sink) != 2 {
		t.Fatalf("got %d advisories, want 2", len(sink))
	}
	budget := sink[0]
	if budget.Kind != AdvisoryBudgetChange || *budget.CategoryID != 4 || budget.RecommendedAmount.String() != "300" || budget.Reason != "overspent" {
		t.Errorf("budget advisory = %+v", budget)
	}
	goal := sink[1]
	if goal.Kind != AdvisoryGoal || goal.Name != "Emergency fund" || goal.TargetAmount.String() != "1000" || *goal.GoalID != 9 {
		t.Errorf("goal advisory = %+v", goal)
	}
}

func TestExecuteStopProcessing(t *testing.T) {
	var exec Executor
	tx := testTx("x", "1")
	out, why, stop, err := exec.Execute(mustAction(t, `{"type":"stop_processing"}`), tx, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !stop {
		t.Error("stop_processing should signal stop")
	}
	if !reflect.DeepEqual(out, tx) {
		t.Error("stop_processing must not mutate the transaction")
	}
	if why != "Stopped further rule processing" {
		t.Errorf("explanation = %q", why)
	}
}

func TestExecuteMalformedActionFaults(t *testing.T) {
	var exec Executor
	a, perr := ParseAction(json.RawMessage(`{"type":"set_category"}`))
	if perr == nil {
		t.Fatal("ParseAction() should fail without category_id")
	}
	_, _, _, err := exec.Execute(a, testTx("x", "1"), nil)
	if !IsEvaluationFault(err) {
		t.Fatalf("Execute() error = %v, want EvaluationFault", err)
	}
}

func TestParseActionErrors(t *testing.T) {
	testCases := []struct {
		name   string
		action string
		fields []string
	}{
		{"missing type", `{"category_id":1}`, []string{"action.type"}},
		{"unknown type", `{"type":"delete_transaction"}`, []string{"action.type"}},
		{"category not integer", `{"type":"set_category","category_id":"12"}`, []string{"action.category_id"}},
		{"tags not list", `{"type":"set_tags","tags":"a"}`, []string{"action.tags"}},
		{"blank tag", `{"type":"set_tags","tags":["a",""]}`, []string{"action.tags[1]"}},
		{"budget missing both", `{"type":"recommend_budget_change"}`, []string{"action.category_id", "action.recommended_amount"}},
		{"goal missing both", `{"type":"recommend_goal","reason":5}`, []string{"action.name", "action.target_amount", "action.reason"}},
		{"null action", `null`, []string{"action"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := ParseAction(json.RawMessage(tc.action))
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("ParseAction() error = %v, want *ValidationError", err)
			}
			if _, ok := a.(*MalformedAction); !ok {
				t.Errorf("ParseAction() returned %T, want *MalformedAction", a)
			}
			var got []string
			for _, fe := range ve.Errors {
				got = append(got, fe.Field)
			}
			if !reflect.DeepEqual(got, tc.fields) {
				t.Errorf("fields = %v, want %v", got, tc.fields)
			}
		})
	}
}
