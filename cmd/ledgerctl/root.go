package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcclellann/kidLedger/pkg/app"
	"github.com/mcclellann/kidLedger/pkg/config"
	"github.com/mcclellann/kidLedger/pkg/interest"
)

// newRootCommand creates the root command with all subcommands registered.
func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Administer the kid ledger: interest runs, reconciliation and rates",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config (defaults and KIDLEDGER_* env apply without it)")

	open := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg)
	}

	rootCmd.AddCommand(
		newInitConfigCommand(),
		newAccountsCommand(open),
		newAccrueCommand(open),
		newPostMonthEndCommand(open),
		newCalculateInterestCommand(open),
		newReconcileCommand(open),
		newRatesCommand(open),
	)
	return rootCmd
}

type opener func(ctx context.Context) (*app.App, error)

// withApp opens the services for the duration of fn.
func withApp(cmd *cobra.Command, open opener, fn func(a *app.App) error) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// parseAt reads an optional RFC 3339 time flag, defaulting to now.
func parseAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected RFC 3339): %w", raw, err)
	}
	return t.UTC(), nil
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", what, raw, err)
	}
	return id, nil
}

func printBatch(cmd *cobra.Command, name string, r *interest.BatchResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: processed %d, skipped %d, posted %d, failed %d\n",
		name, r.Processed, r.Skipped, r.Posted, len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(out, "  %s: %s\n", f.AccountID, f.Error)
	}
}

func printResult(cmd *cobra.Command, name string, r *interest.Result) {
	out := cmd.OutOrStdout()
	if r.Skipped {
		fmt.Fprintf(out, "%s: %s skipped\n", name, r.AccountID)
		return
	}
	fmt.Fprintf(out, "%s: %s posted %d\n", name, r.AccountID, len(r.Posted))
	for _, t := range r.Posted {
		fmt.Fprintf(out, "  %s %s\n", t.Kind, t.Amount.StringFixed(2))
	}
}
