package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/txrules/rules"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Rules string
	Tx    string
}

// fileRule is a rule as written in a rules file. Missing ids are numbered by
// position and a missing is_active means active.
type fileRule struct {
	ID int64 `json:"id"`
	rules.RuleDefinition
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval --rules rules.json --tx tx.json",
		Short: "Evaluate a list of rules against one transaction",
		Long: `Evaluate a JSON array of rules against one transaction.

Rules run in evaluation order (priority descending, then id). The output
is the modified transaction, the trace and any advisories or faults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Rules, "rules", "", "JSON file holding an array of rules")
	cmd.Flags().StringVar(&opts.Tx, "tx", "", "JSON file holding the transaction")
	cmd.MarkFlagRequired("rules")
	cmd.MarkFlagRequired("tx")

	return cmd
}

func runEval(cmd *cobra.Command, opts *EvalOptions) error {
	var defs []fileRule
	if err := readJSONFile(opts.Rules, &defs); err != nil {
		return err
	}
	var tx rules.Transaction
	if err := readJSONFile(opts.Tx, &tx); err != nil {
		return err
	}

	list := make([]*rules.Rule, len(defs))
	for i, d := range defs {
		r := &rules.Rule{
			ID:          d.ID,
			Name:        d.Name,
			Condition:   d.Condition,
			Action:      d.Action,
			IsActive:    true,
		}
		if r.ID == 0 {
			r.ID = int64(i + 1)
		}
		if d.Description != nil {
			r.Description = *d.Description
		}
		if d.Priority != nil {
			r.Priority = *d.Priority
		}
		if d.IsActive != nil {
			r.IsActive = *d.IsActive
		}
		list[i] = r
	}

	engine, err := rules.NewEngine(rules.NewInMemoryRuleStore())
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to create engine", Err: err}
	}
	defer engine.Close()

	res := engine.EvaluateRules(context.Background(), list, tx)

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, res)
	}
	if len(res.Trace) == 0 {
		fmt.Fprintln(out, "no rule matched")
	}
	for _, e := range res.Trace {
		fmt.Fprintf(out, "rule %d %q: %s\n", e.RuleID, e.RuleName, e.Explanation)
	}
	for _, f := range res.Faults {
		fmt.Fprintf(out, "fault rule %d %q: %s %s\n", f.RuleID, f.RuleName, f.Code, f.Message)
	}
	for _, a := range res.Advisories {
		fmt.Fprintf(out, "advisory %s from rule %d: %s\n", a.Kind, a.RuleID, a.Reason)
	}
	if res.Transaction.CategoryID != nil {
		fmt.Fprintf(out, "category_id: %d\n", *res.Transaction.CategoryID)
	}
	if len(res.Transaction.Tags) > 0 {
		fmt.Fprintf(out, "tags: %v\n", res.Transaction.Tags)
	}
	return nil
}
