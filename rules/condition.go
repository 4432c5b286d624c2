package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Operator names a condition node in the wire format.
type Operator string

const (
	OpAny              Operator = "any"
	OpAll              Operator = "all"
	OpMerchantContains Operator = "merchant_contains"
	OpMerchantRegex    Operator = "merchant_regex"
	OpAmountGT         Operator = "amount_gt"
	OpAmountGTE        Operator = "amount_gte"
	OpAmountLT         Operator = "amount_lt"
	OpAmountLTE        Operator = "amount_lte"
	OpAmountEQ         Operator = "amount_eq"
	OpIsRecurring      Operator = "is_recurring"
	OpDateRange        Operator = "date_range"
	OpCategoryIDEq     Operator = "category_id_eq"
)

// Operators lists the closed operator set in documentation order.
var Operators = []Operator{
	OpAny, OpAll, OpMerchantContains, OpMerchantRegex,
	OpAmountGT, OpAmountGTE, OpAmountLT, OpAmountLTE, OpAmountEQ,
	OpIsRecurring, OpDateRange, OpCategoryIDEq,
}

// Condition is a node of the condition tree. The set of implementations is
// closed; see the concrete types in this file.
type Condition interface {
	Operator() Operator
	condition()
}

// Any matches when at least one child matches.
type Any struct{ Conditions []Condition }

// All matches when every child matches.
type All struct{ Conditions []Condition }

// MerchantContains is a case-insensitive substring test on the description.
type MerchantContains struct{ Value string }

// MerchantRegex searches the description with a case-insensitive pattern.
type MerchantRegex struct{ Pattern string }

// AmountCompare compares the transaction amount against Value. Op is one of
// the amount_* operators.
type AmountCompare struct {
	Op    Operator
	Value decimal.Decimal
}

// IsRecurring compares the recurring flag.
type IsRecurring struct{ Value bool }

// DateBound is one end of a date_range. A date-only bound compares calendar
// dates; otherwise instants are compared.
type DateBound struct {
	Time     time.Time
	DateOnly bool
}

// DateRange matches Start <= transaction_date <= End.
type DateRange struct{ Start, End DateBound }

// CategoryIDEq matches a transaction whose category equals Value.
type CategoryIDEq struct{ Value int64 }

// Malformed stands in for a subtree that failed to parse. It only faults if
// evaluation actually reaches it.
type Malformed struct {
	Op       Operator
	Problems []FieldError
}

func (*Any) Operator() Operator              { return OpAny }
func (*All) Operator() Operator              { return OpAll }
func (*MerchantContains) Operator() Operator { return OpMerchantContains }
func (*MerchantRegex) Operator() Operator    { return OpMerchantRegex }
func (c *AmountCompare) Operator() Operator  { return c.Op }
func (*IsRecurring) Operator() Operator      { return OpIsRecurring }
func (*DateRange) Operator() Operator        { return OpDateRange }
func (*CategoryIDEq) Operator() Operator     { return OpCategoryIDEq }
func (m *Malformed) Operator() Operator      { return m.Op }

func (*Any) condition()              {}
func (*All) condition()              {}
func (*MerchantContains) condition() {}
func (*MerchantRegex) condition()    {}
func (*AmountCompare) condition()    {}
func (*IsRecurring) condition()      {}
func (*DateRange) condition()        {}
func (*CategoryIDEq) condition()     {}
func (*Malformed) condition()        {}

// Problems returns the field errors of every Malformed node in the tree, in
// depth-first order.
func Problems(c Condition) []FieldError {
	var out []FieldError
	var walk func(Condition)
	walk = func(c Condition) {
		switch n := c.(type) {
		case *Any:
			for _, child := range n.Conditions {
				walk(child)
			}
		case *All:
			for _, child := range n.Conditions {
				walk(child)
			}
		case *Malformed:
			out = append(out, n.Problems...)
		}
	}
	walk(c)
	return out
}

type patternCompiler interface {
	compilePattern(pattern string) (*regexp.Regexp, error)
}

// decodeJSON decodes raw with json.Number preserved so amounts never pass
// through float64.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isEmptyJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func compileCondition(raw []byte, path string, pc patternCompiler) Condition {
	if isEmptyJSON(raw) {
		return malformed("", path, "condition is required")
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return malformed("", path, "invalid JSON: "+err.Error())
	}
	return parseCondition(v, path, pc)
}

func malformed(op Operator, field, msg string) *Malformed {
	return &Malformed{Op: op, Problems: []FieldError{{Field: field, Message: msg}}}
}

func parseCondition(v any, path string, pc patternCompiler) Condition {
	obj, ok := v.(map[string]any)
	if !ok {
		return malformed("", path, "condition must be an object")
	}
	rawOp, present := obj["operator"]
	if !present {
		return malformed("", path+".operator", "operator is required")
	}
	name, ok := rawOp.(string)
	if !ok {
		return malformed("", path+".operator", "operator must be a string")
	}
	op := Operator(name)

	switch op {
	case OpAny, OpAll:
		children, problem := parseChildren(obj, path, op, pc)
		if problem != nil {
			return problem
		}
		if op == OpAny {
			return &Any{Conditions: children}
		}
		return &All{Conditions: children}

	case OpMerchantContains:
		s, fe := stringValue(obj, path, "value", op)
		if fe != nil {
			return &Malformed{Op: op, Problems: []FieldError{*fe}}
		}
		return &MerchantContains{Value: s}

	case OpMerchantRegex:
		s, fe := stringValue(obj, path, "value", op)
		if fe != nil {
			return &Malformed{Op: op, Problems: []FieldError{*fe}}
		}
		if _, err := pc.compilePattern(s); err != nil {
			return malformed(op, path+".value", "invalid regex pattern: "+err.Error())
		}
		return &MerchantRegex{Pattern: s}

	case OpAmountGT, OpAmountGTE, OpAmountLT, OpAmountLTE, OpAmountEQ:
		raw, present := obj["value"]
		if !present {
			return malformed(op, path+".value", fmt.Sprintf("'%s' requires 'value' field", op))
		}
		d, ok := toDecimal(raw)
		if !ok {
			return malformed(op, path+".value", fmt.Sprintf("'%s' value must be numeric", op))
		}
		return &AmountCompare{Op: op, Value: d}

	case OpIsRecurring:
		raw, present := obj["value"]
		if !present {
			return malformed(op, path+".value", "'is_recurring' requires 'value' field")
		}
		b, ok := raw.(bool)
		if !ok {
			return malformed(op, path+".value", "'is_recurring' value must be boolean")
		}
		return &IsRecurring{Value: b}

	case OpDateRange:
		var problems []FieldError
		start, fe := dateValue(obj, path, "start_date")
		if fe != nil {
			problems = append(problems, *fe)
		}
		end, fe := dateValue(obj, path, "end_date")
		if fe != nil {
			problems = append(problems, *fe)
		}
		if problems == nil && start.Time.After(end.Time) {
			problems = append(problems, FieldError{Field: path + ".start_date", Message: "start_date must not be after end_date"})
		}
		if problems != nil {
			return &Malformed{Op: op, Problems: problems}
		}
		return &DateRange{Start: start, End: end}

	case OpCategoryIDEq:
		raw, present := obj["value"]
		if !present {
			return malformed(op, path+".value", "'category_id_eq' requires 'value' field")
		}
		id, ok := toInt64(raw)
		if !ok {
			return malformed(op, path+".value", "'category_id_eq' value must be an integer")
		}
		return &CategoryIDEq{Value: id}
	}

	names := make([]string, len(Operators))
	for i, o := range Operators {
		names[i] = string(o)
	}
	return malformed(op, path+".operator",
		fmt.Sprintf("unknown operator %q; supported: %s", name, strings.Join(names, ", ")))
}

func parseChildren(obj map[string]any, path string, op Operator, pc patternCompiler) ([]Condition, *Malformed) {
	raw, present := obj["conditions"]
	if !present {
		return nil, malformed(op, path+".conditions", fmt.Sprintf("'%s' operator requires 'conditions' array", op))
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, malformed(op, path+".conditions", fmt.Sprintf("'%s' conditions must be a list", op))
	}
	if len(list) == 0 {
		return nil, malformed(op, path+".conditions", fmt.Sprintf("'%s' conditions cannot be empty", op))
	}
	children := make([]Condition, len(list))
	for i, item := range list {
		children[i] = parseCondition(item, fmt.Sprintf("%s.conditions[%d]", path, i), pc)
	}
	return children, nil
}

func stringValue(obj map[string]any, path, key string, op Operator) (string, *FieldError) {
	raw, present := obj[key]
	if !present {
		return "", &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' requires '%s' field", op, key)}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' %s must be a string", op, key)}
	}
	return s, nil
}

func dateValue(obj map[string]any, path, key string) (DateBound, *FieldError) {
	raw, present := obj[key]
	if !present {
		return DateBound{}, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'date_range' requires '%s' field", key)}
	}
	s, ok := raw.(string)
	if !ok {
		return DateBound{}, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' must be an ISO format date/datetime string", key)}
	}
	t, dateOnly, err := parseDate(s)
	if err != nil {
		return DateBound{}, &FieldError{Field: path + "." + key, Message: fmt.Sprintf("'%s' must be ISO format date/datetime: %v", key, err)}
	}
	return DateBound{Time: t, DateOnly: dateOnly}, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseDate accepts YYYY-MM-DD (reported as date-only) or an ISO datetime.
func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("cannot parse %q", s)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	}
	return decimal.Decimal{}, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
