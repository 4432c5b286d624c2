package main

import (
	"github.com/liamcoop/txrules/rules"
)

// EvaluateRequest is the body of POST /api/v1/evaluate. When RuleIDs is set
// only those rules are evaluated, bypassing the cache.
type EvaluateRequest struct {
	Transaction *rules.Transaction `json:"transaction"`
	RuleIDs     []int64            `json:"rule_ids,omitempty"`
}

// EvaluateResponse wraps the evaluation result with its duration.
type EvaluateResponse struct {
	*rules.EvaluationResult
	EvaluationTime string `json:"evaluation_time"`
}

// ValidateRequest is a rule definition plus an optional sample transaction.
// Without a sample the built-in sample transaction is used.
type ValidateRequest struct {
	rules.RuleDefinition
	SampleTransaction *rules.Transaction `json:"sample_transaction,omitempty"`
}

// RulesListResponse is a page of rules.
type RulesListResponse struct {
	Data        []*rules.Rule `json:"data"`
	Total       int           `json:"total"`
	Pages       int           `json:"pages"`
	CurrentPage int           `json:"current_page"`
}

// InvalidateRequest targets one scope; an empty body invalidates every scope.
type InvalidateRequest struct {
	UserID *int64 `json:"user_id,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
