package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/txrules/rules"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Sample string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <rule.json>",
		Short: "Check a rule definition",
		Long: `Check a rule definition for structural errors.

Every problem is reported, not only the first. With --sample the rule's
condition is also evaluated against the given transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Sample, "sample", "", "transaction JSON file to evaluate the condition against")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions, path string) error {
	var def rules.RuleDefinition
	if err := readJSONFile(path, &def); err != nil {
		return err
	}
	var sample *rules.Transaction
	if opts.Sample != "" {
		sample = &rules.Transaction{}
		if err := readJSONFile(opts.Sample, sample); err != nil {
			return err
		}
	}

	ev, err := rules.NewEvaluator(rules.DefaultEvaluatorConfig())
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to create evaluator", Err: err}
	}
	defer ev.Close()

	res, err := rules.NewValidator(ev).Validate(context.Background(), 0, def, sample)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "validation failed", Err: err}
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		if res.Valid {
			fmt.Fprintln(out, "✓ rule is valid")
		}
		for _, fe := range res.Errors {
			fmt.Fprintf(out, "✗ %s\n", fe.String())
		}
		if res.Sample != nil {
			fmt.Fprintf(out, "sample: matched=%v %s\n", res.Sample.Matched, res.Sample.Explanation)
		}
	}

	if !res.Valid {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("rule has %d problem(s)", len(res.Errors))}
	}
	return nil
}
