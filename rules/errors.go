package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRuleNotFound is returned by stores when a rule does not exist in the scope.
var ErrRuleNotFound = errors.New("rule not found")

// FieldError attributes a validation problem to a path inside the rule
// definition, e.g. "condition.conditions[1].value".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationError is returned when a rule definition is malformed. It carries
// every problem found, not just the first.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid rule: " + e.Errors[0].String()
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.String()
	}
	return fmt.Sprintf("invalid rule: %d problems: %s", len(e.Errors), strings.Join(parts, "; "))
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FaultCode categorizes evaluation faults.
type FaultCode string

const (
	// FaultMalformedCondition: evaluation reached a condition node that failed to parse.
	FaultMalformedCondition FaultCode = "MALFORMED_CONDITION"

	// FaultMalformedAction: the matched rule's action failed to parse.
	FaultMalformedAction FaultCode = "MALFORMED_ACTION"

	// FaultUnknownNode: a condition or action type the evaluator does not handle.
	FaultUnknownNode FaultCode = "UNKNOWN_NODE"

	// FaultCategoryMissing: set_category references a category the caller no longer has.
	FaultCategoryMissing FaultCode = "CATEGORY_MISSING"

	// FaultReferenceCheck: the existence collaborator itself failed.
	FaultReferenceCheck FaultCode = "REFERENCE_CHECK_FAILED"

	// FaultPanic: evaluation of the rule panicked.
	FaultPanic FaultCode = "PANIC"
)

// EvaluationFault is raised for a rule that cannot be evaluated. The engine
// treats the rule as non-matching and continues with the next one.
type EvaluationFault struct {
	Code    FaultCode
	RuleID  int64
	Message string
}

func (f *EvaluationFault) Error() string {
	if f.RuleID != 0 {
		return fmt.Sprintf("%s: %s (rule=%d)", f.Code, f.Message, f.RuleID)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// IsEvaluationFault reports whether err wraps an *EvaluationFault.
func IsEvaluationFault(err error) bool {
	var f *EvaluationFault
	return errors.As(err, &f)
}

func faultf(code FaultCode, format string, args ...any) *EvaluationFault {
	return &EvaluationFault{Code: code, Message: fmt.Sprintf(format, args...)}
}
