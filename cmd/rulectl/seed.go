package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/liamcoop/txrules/catalog"
	"github.com/liamcoop/txrules/internal/config"
	"github.com/liamcoop/txrules/ruleadmin"
	"github.com/liamcoop/txrules/rules"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	File     string
	UserID   int64
	Database string
	DryRun   bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed --file pack.yaml --user N",
		Short: "Import a YAML rule pack for a user",
		Long: `Import a YAML rule pack into the rules database for one user.

Every rule is validated first, including category and goal references;
nothing is written if any rule is rejected. --dry-run validates the pack
structurally without a database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "YAML rule pack")
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id that will own the rules")
	cmd.Flags().StringVar(&opts.Database, "database", "", "database URL (default: DATABASE_URL)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate only, write nothing")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *SeedOptions) error {
	if opts.UserID <= 0 {
		return &ExitError{Code: ExitCommandError, Message: "--user must be a positive id"}
	}
	pack, err := ruleadmin.LoadPack(opts.File)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to load pack", Err: err}
	}

	ctx := context.Background()
	ev, err := rules.NewEvaluator(rules.DefaultEvaluatorConfig())
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to create evaluator", Err: err}
	}
	defer ev.Close()

	var store rules.RuleStore = rules.NewInMemoryRuleStore()
	validator := rules.NewValidator(ev)
	if !opts.DryRun {
		url := opts.Database
		if url == "" {
			cfg, err := config.Load()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "failed to load configuration", Err: err}
			}
			url = cfg.DatabaseURL
		}
		if url == "" {
			return &ExitError{Code: ExitCommandError, Message: "database URL is required; use --database or DATABASE_URL"}
		}

		db, err := sql.Open("postgres", url)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "failed to open database", Err: err}
		}
		defer db.Close()
		pool, err := catalog.Connect(ctx, url)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "failed to connect to database", Err: err}
		}
		defer pool.Close()

		store = rules.NewPostgresRuleStore(db)
		categories := catalog.NewPostgres(pool)
		validator = rules.NewValidator(ev, rules.WithCategoryChecker(categories), rules.WithGoalChecker(categories))
	}

	engine, err := rules.NewEngine(store, rules.WithEvaluator(ev))
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to create engine", Err: err}
	}
	defer engine.Close()

	created, err := ruleadmin.NewManager(store, engine, validator).Import(ctx, opts.UserID, pack)
	if err != nil {
		if rules.IsValidationError(err) {
			return &ExitError{Code: ExitFailure, Message: "rule pack rejected", Err: err}
		}
		return &ExitError{Code: ExitCommandError, Message: "import failed", Err: err}
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, created)
	}
	verb := "imported"
	if opts.DryRun {
		verb = "validated"
	}
	fmt.Fprintf(out, "%s %d rules for user %d\n", verb, len(created), opts.UserID)
	for _, r := range created {
		fmt.Fprintf(out, "  %d %s (priority %d)\n", r.ID, r.Name, r.Priority)
	}
	return nil
}
