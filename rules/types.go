package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Priority bounds. Higher priorities are evaluated first.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// Rule is a single condition/action pair owned by a scope (a user).
// Condition and Action hold the wire JSON exactly as authored so that it can be
// persisted and served back byte-for-byte.
type Rule struct {
	ID          int64           `json:"id"`
	ScopeID     int64           `json:"user_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Condition   json.RawMessage `json:"condition"`
	Action      json.RawMessage `json:"action"`
	Priority    int             `json:"priority"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Condition = append(json.RawMessage(nil), r.Condition...)
	c.Action = append(json.RawMessage(nil), r.Action...)
	return &c
}

// Transaction is the snapshot a rule set is evaluated against. The engine never
// persists it; callers receive a modified copy.
type Transaction struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"transaction_date"`
	Type        string          `json:"type,omitempty"`
	CategoryID  *int64          `json:"category_id"`
	IsRecurring bool            `json:"is_recurring"`
	Tags        []string        `json:"tags"`
}

// UnmarshalJSON accepts transaction_date as either YYYY-MM-DD or RFC 3339.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type alias Transaction
	var aux struct {
		alias
		Date string `json:"transaction_date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Transaction(aux.alias)
	if aux.Date != "" {
		d, _, err := parseDate(aux.Date)
		if err != nil {
			return fmt.Errorf("transaction_date: %w", err)
		}
		t.Date = d
	}
	return nil
}

// Clone returns a copy that shares no mutable state with t.
func (t Transaction) Clone() Transaction {
	c := t
	if t.CategoryID != nil {
		id := *t.CategoryID
		c.CategoryID = &id
	}
	if t.Tags != nil {
		c.Tags = append(make([]string, 0, len(t.Tags)), t.Tags...)
	}
	return c
}

// SampleTransaction is the transaction used by validate-mode when the caller
// asks for a sample without supplying one.
func SampleTransaction(now time.Time) Transaction {
	return Transaction{
		ID:          999,
		Description: "Trader Joe's Grocery Store",
		Amount:      decimal.RequireFromString("50.00"),
		Date:        now,
		Type:        "expense",
		Tags:        []string{},
	}
}

// TraceEntry records one rule that fired during an evaluation pass.
type TraceEntry struct {
	RuleID      int64  `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	Explanation string `json:"explanation"`
}

// AdvisoryKind distinguishes the advisory records produced by recommend_* actions.
type AdvisoryKind string

const (
	AdvisoryBudgetChange AdvisoryKind = "budget_change"
	AdvisoryGoal         AdvisoryKind = "goal"
)

// Advisory is a recommendation for another subsystem. It never mutates the
// transaction it was produced from.
type Advisory struct {
	Kind              AdvisoryKind     `json:"kind"`
	RuleID            int64            `json:"rule_id,omitempty"`
	CategoryID        *int64           `json:"category_id,omitempty"`
	RecommendedAmount *decimal.Decimal `json:"recommended_amount,omitempty"`
	GoalID            *int64           `json:"goal_id,omitempty"`
	Name              string           `json:"name,omitempty"`
	TargetAmount      *decimal.Decimal `json:"target_amount,omitempty"`
	Reason            string           `json:"reason"`
}

// AdvisorySink collects advisories emitted by the executor.
type AdvisorySink interface {
	Append(Advisory)
}

// AdvisoryBuffer is a slice-backed AdvisorySink.
type AdvisoryBuffer []Advisory

// Append adds a to the buffer.
func (b *AdvisoryBuffer) Append(a Advisory) {
	*b = append(*b, a)
}

// RuleFault records a rule that was skipped because it could not be evaluated.
type RuleFault struct {
	RuleID   int64     `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Code     FaultCode `json:"code"`
	Message  string    `json:"message"`
}

// EvaluationResult is the outcome of one evaluation pass.
type EvaluationResult struct {
	PassID      string       `json:"pass_id"`
	Scope       int64        `json:"scope"`
	Generation  uint64       `json:"generation"`
	Transaction Transaction  `json:"transaction"`
	Trace       []TraceEntry `json:"trace"`
	Advisories  []Advisory   `json:"advisories"`
	Faults      []RuleFault  `json:"faults,omitempty"`
	Halted      bool         `json:"halted"`
}

// Fired reports whether the rule with the given id appears in the trace.
func (r *EvaluationResult) Fired(ruleID int64) bool {
	for _, e := range r.Trace {
		if e.RuleID == ruleID {
			return true
		}
	}
	return false
}
