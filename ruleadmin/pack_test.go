package ruleadmin

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const samplePack = `
rules:
  - name: Groceries
    description: grocery stores
    priority: 10
    condition:
      operator: any
      conditions:
        - operator: merchant_regex
          value: "(whole foods|trader joe|kroger)"
        - operator: date_range
          start_date: 2024-01-01
          end_date: 2024-12-31
    action:
      type: set_category
      category_id: 12
  - name: Big purchase
    is_active: false
    condition:
      operator: amount_gt
      value: 500.25
    action:
      type: set_tags
      tags: [large, review]
`

func TestParsePack(t *testing.T) {
	p, err := ParsePack(strings.NewReader(samplePack))
	if err != nil {
		t.Fatalf("ParsePack() failed: %v", err)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("ParsePack() returned %d rules, want 2", len(p.Rules))
	}
	if err := ValidatePack(p); err != nil {
		t.Fatalf("ValidatePack() error = %v", err)
	}

	d, err := p.Rules[0].Definition()
	if err != nil {
		t.Fatalf("Definition() failed: %v", err)
	}
	if *d.Priority != 10 || !*d.IsActive {
		t.Errorf("Priority = %d, IsActive = %v", *d.Priority, *d.IsActive)
	}

	var cond struct {
		Operator   string `json:"operator"`
		Conditions []struct {
			StartDate string `json:"start_date"`
			EndDate   string `json:"end_date"`
		} `json:"conditions"`
	}
	if err := json.Unmarshal(d.Condition, &cond); err != nil {
		t.Fatalf("condition is not valid JSON: %v", err)
	}
	if cond.Operator != "any" || len(cond.Conditions) != 2 {
		t.Fatalf("condition = %s", d.Condition)
	}
	if cond.Conditions[1].StartDate != "2024-01-01" || cond.Conditions[1].EndDate != "2024-12-31" {
		t.Errorf("dates = %q, %q; want calendar dates", cond.Conditions[1].StartDate, cond.Conditions[1].EndDate)
	}

	second, _ := p.Rules[1].Definition()
	if *second.Priority != 0 || *second.IsActive {
		t.Errorf("defaults = %d, %v; want 0, false", *second.Priority, *second.IsActive)
	}
	if string(second.Action) != `{"tags":["large","review"],"type":"set_tags"}` {
		t.Errorf("Action = %s", second.Action)
	}
}

func TestParsePackUnknownField(t *testing.T) {
	_, err := ParsePack(strings.NewReader("rulez: []\n"))
	if err == nil {
		t.Error("ParsePack() should reject unknown top-level fields")
	}
}

func TestValidatePack(t *testing.T) {
	rule := func(name string) PackRule {
		return PackRule{
			Name:      name,
			Condition: map[string]any{"operator": "amount_gt", "value": 1},
			Action:    map[string]any{"type": "stop_processing"},
		}
	}
	tooMany := &Pack{}
	for i := 0; i <= MaxPackRules; i++ {
		tooMany.Rules = append(tooMany.Rules, rule(fmt.Sprintf("rule %d", i)))
	}
	noCondition := rule("a")
	noCondition.Condition = nil
	noAction := rule("a")
	noAction.Action = nil

	testCases := []struct {
		name    string
		pack    *Pack
		wantErr string
	}{
		{"valid", &Pack{Rules: []PackRule{rule("a"), rule("b")}}, ""},
		{"nil", nil, "empty"},
		{"empty", &Pack{}, "empty"},
		{"too many", tooMany, "500"},
		{"unnamed", &Pack{Rules: []PackRule{rule("  ")}}, "no name"},
		{"duplicate names", &Pack{Rules: []PackRule{rule("Groceries"), rule("groceries")}}, "used by rules 0 and 1"},
		{"no condition", &Pack{Rules: []PackRule{noCondition}}, "no condition"},
		{"no action", &Pack{Rules: []PackRule{noAction}}, "no action"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePack(tc.pack)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("ValidatePack() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("ValidatePack() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
