package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

// EvaluatorConfig sizes the compiled-pattern memo.
type EvaluatorConfig struct {
	// MaxPatterns bounds how many compiled regular expressions are kept.
	MaxPatterns int64
}

// DefaultEvaluatorConfig returns the memo size used by NewEngine.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{MaxPatterns: 10000}
}

// Evaluator evaluates condition trees against transactions. It is safe for
// concurrent use; compiled patterns are shared across rules by pattern string.
type Evaluator struct {
	patterns *ristretto.Cache
}

// NewEvaluator creates an evaluator with its own pattern memo.
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.MaxPatterns <= 0 {
		cfg.MaxPatterns = DefaultEvaluatorConfig().MaxPatterns
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxPatterns * 10,
		MaxCost:     cfg.MaxPatterns,
		BufferItems: 64,
		// every pattern costs 1, so MaxCost counts patterns
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &Evaluator{patterns: cache}, nil
}

// Close releases the pattern memo.
func (e *Evaluator) Close() {
	e.patterns.Close()
}

// compilePattern returns the memoized case-insensitive form of pattern.
// Concurrent misses on the same pattern may both compile; the results are
// identical so whichever Set lands is fine.
func (e *Evaluator) compilePattern(pattern string) (*regexp.Regexp, error) {
	if v, ok := e.patterns.Get(pattern); ok {
		if re, ok := v.(*regexp.Regexp); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		// report the error against the pattern as the author wrote it
		if _, plainErr := regexp.Compile(pattern); plainErr != nil {
			return nil, plainErr
		}
		return nil, err
	}
	e.patterns.Set(pattern, re, 1)
	return re, nil
}

// ParseCondition compiles wire JSON into a condition tree. Malformed subtrees
// are kept as *Malformed nodes; if there are any, the tree is returned along
// with a *ValidationError listing them.
func (e *Evaluator) ParseCondition(raw json.RawMessage) (Condition, error) {
	c := compileCondition(raw, "condition", e)
	if problems := Problems(c); len(problems) > 0 {
		return c, &ValidationError{Errors: problems}
	}
	return c, nil
}

// Evaluate reports whether tx satisfies c, with an explanation naming the
// operator, the compared value and the transaction field. A non-nil error is
// always an *EvaluationFault.
func (e *Evaluator) Evaluate(c Condition, tx Transaction) (bool, string, error) {
	return e.eval(c, &tx)
}

func (e *Evaluator) eval(c Condition, tx *Transaction) (bool, string, error) {
	switch n := c.(type) {
	case *Any:
		for _, child := range n.Conditions {
			ok, why, err := e.eval(child, tx)
			if err != nil {
				return false, "", err
			}
			if ok {
				return true, "any: " + why, nil
			}
		}
		return false, fmt.Sprintf("any: none of %d conditions matched", len(n.Conditions)), nil

	case *All:
		reasons := make([]string, 0, len(n.Conditions))
		for _, child := range n.Conditions {
			ok, why, err := e.eval(child, tx)
			if err != nil {
				return false, "", err
			}
			if !ok {
				return false, "all: " + why, nil
			}
			reasons = append(reasons, why)
		}
		return true, "all: [" + strings.Join(reasons, "; ") + "]", nil

	case *MerchantContains:
		if strings.Contains(strings.ToLower(tx.Description), strings.ToLower(n.Value)) {
			return true, fmt.Sprintf("merchant_contains: description %q contains %q", tx.Description, n.Value), nil
		}
		return false, fmt.Sprintf("merchant_contains: description %q does not contain %q", tx.Description, n.Value), nil

	case *MerchantRegex:
		re, err := e.compilePattern(n.Pattern)
		if err != nil {
			return false, "", faultf(FaultMalformedCondition, "merchant_regex pattern %q: %v", n.Pattern, err)
		}
		if loc := re.FindStringIndex(tx.Description); loc != nil {
			m := tx.Description[loc[0]:loc[1]]
			return true, fmt.Sprintf("merchant_regex: description %q matches /%s/ at %q", tx.Description, n.Pattern, m), nil
		}
		return false, fmt.Sprintf("merchant_regex: description %q does not match /%s/", tx.Description, n.Pattern), nil

	case *AmountCompare:
		return evalAmount(n, tx)

	case *IsRecurring:
		if tx.IsRecurring == n.Value {
			return true, fmt.Sprintf("is_recurring: is_recurring %t == %t", tx.IsRecurring, n.Value), nil
		}
		return false, fmt.Sprintf("is_recurring: is_recurring %t != %t", tx.IsRecurring, n.Value), nil

	case *DateRange:
		afterStart := boundCompare(tx.Date, n.Start) >= 0
		beforeEnd := boundCompare(tx.Date, n.End) <= 0
		window := fmt.Sprintf("[%s, %s]", formatBound(n.Start), formatBound(n.End))
		if afterStart && beforeEnd {
			return true, fmt.Sprintf("date_range: transaction_date %s within %s", formatTxDate(tx.Date), window), nil
		}
		return false, fmt.Sprintf("date_range: transaction_date %s outside %s", formatTxDate(tx.Date), window), nil

	case *CategoryIDEq:
		if tx.CategoryID == nil {
			return false, fmt.Sprintf("category_id_eq: category_id is unset, want %d", n.Value), nil
		}
		if *tx.CategoryID == n.Value {
			return true, fmt.Sprintf("category_id_eq: category_id %d == %d", *tx.CategoryID, n.Value), nil
		}
		return false, fmt.Sprintf("category_id_eq: category_id %d != %d", *tx.CategoryID, n.Value), nil

	case *Malformed:
		msgs := make([]string, len(n.Problems))
		for i, p := range n.Problems {
			msgs[i] = p.String()
		}
		return false, "", faultf(FaultMalformedCondition, "%s", strings.Join(msgs, "; "))

	case nil:
		return false, "", faultf(FaultUnknownNode, "nil condition")
	}
	return false, "", faultf(FaultUnknownNode, "unhandled condition type %T", c)
}

func evalAmount(n *AmountCompare, tx *Transaction) (bool, string, error) {
	var ok bool
	var sym string
	switch n.Op {
	case OpAmountGT:
		ok, sym = tx.Amount.GreaterThan(n.Value), ">"
	case OpAmountGTE:
		ok, sym = tx.Amount.GreaterThanOrEqual(n.Value), ">="
	case OpAmountLT:
		ok, sym = tx.Amount.LessThan(n.Value), "<"
	case OpAmountLTE:
		ok, sym = tx.Amount.LessThanOrEqual(n.Value), "<="
	case OpAmountEQ:
		ok, sym = tx.Amount.Equal(n.Value), "=="
	default:
		return false, "", faultf(FaultUnknownNode, "unhandled amount operator %q", n.Op)
	}
	if ok {
		return true, fmt.Sprintf("%s: amount %s %s %s", n.Op, tx.Amount, sym, n.Value), nil
	}
	return false, fmt.Sprintf("%s: amount %s not %s %s", n.Op, tx.Amount, sym, n.Value), nil
}

// boundCompare returns -1, 0 or 1 as t is before, on, or after b.
func boundCompare(t time.Time, b DateBound) int {
	if b.DateOnly {
		return compareInts(dayNumber(t), dayNumber(b.Time))
	}
	return t.Compare(b.Time)
}

func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func formatBound(b DateBound) string {
	if b.DateOnly {
		return b.Time.Format(time.DateOnly)
	}
	return b.Time.Format(time.RFC3339)
}

func formatTxDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}
