package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mcclellann/kidLedger/pkg/app"
	"github.com/mcclellann/kidLedger/pkg/config"
	"github.com/mcclellann/kidLedger/pkg/models"
)

func newInitConfigCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a config file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "kidledger.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newAccountsCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List and create accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts with their cached balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				accounts, err := a.Ledger.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSAVINGS\tFD\tLOAN")
				for _, acc := range accounts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", acc.ID, acc.Name,
						acc.SavingsBalance.StringFixed(2), acc.FDBalance.StringFixed(2), acc.LoanBalance.StringFixed(2))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Open an account with zero balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				acc, err := a.Ledger.CreateAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), acc.ID)
				return nil
			})
		},
	})
	return cmd
}

func newAccrueCommand(open opener) *cobra.Command {
	var at, account string

	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Accrue a day of interest, posting it on the last day of the month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				if account != "" {
					id, err := parseID("account", account)
					if err != nil {
						return err
					}
					r, err := a.Engine.AccrueDaily(cmd.Context(), id, now)
					if err != nil {
						return err
					}
					printResult(cmd, "accrue", r)
					return nil
				}
				r, err := a.Engine.RunDaily(cmd.Context(), now)
				if err != nil {
					return err
				}
				printBatch(cmd, "accrue", r)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "accrual time (RFC 3339, default now)")
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	return cmd
}

func newPostMonthEndCommand(open opener) *cobra.Command {
	var at, account string

	cmd := &cobra.Command{
		Use:   "post-month-end",
		Short: "Post accrued interest to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				if account != "" {
					id, err := parseID("account", account)
					if err != nil {
						return err
					}
					r, err := a.Engine.PostMonthEnd(cmd.Context(), id, now)
					if err != nil {
						return err
					}
					printResult(cmd, "post-month-end", r)
					return nil
				}
				r, err := a.Engine.RunMonthEnd(cmd.Context(), now)
				if err != nil {
					return err
				}
				printBatch(cmd, "post-month-end", r)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "posting time (RFC 3339, default now)")
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	return cmd
}

func newCalculateInterestCommand(open opener) *cobra.Command {
	var asOf, account string

	cmd := &cobra.Command{
		Use:   "calculate-interest",
		Short: "Post pro-rata interest for the period since the last calculation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAt(asOf)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				if account != "" {
					id, err := parseID("account", account)
					if err != nil {
						return err
					}
					r, err := a.Engine.CalculateNow(cmd.Context(), id, at)
					if err != nil {
						return err
					}
					printResult(cmd, "calculate-interest", r)
					return nil
				}
				r, err := a.Engine.RunCalculateNow(cmd.Context(), at)
				if err != nil {
					return err
				}
				printBatch(cmd, "calculate-interest", r)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "end of the period (RFC 3339, default now)")
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	return cmd
}

func newReconcileCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [account-id...]",
		Short: "Recompute cached balances from the ledger (all accounts by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				ids := args
				if len(ids) == 0 {
					accounts, err := a.Ledger.ListAccounts(cmd.Context())
					if err != nil {
						return err
					}
					for _, acc := range accounts {
						ids = append(ids, acc.ID.String())
					}
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSAVINGS\tFD\tLOAN")
				for _, raw := range ids {
					id, err := parseID("account", raw)
					if err != nil {
						return err
					}
					b, err := a.Ledger.Reconcile(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("reconciling %s: %w", id, err)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, b.Savings.StringFixed(2), b.FD.StringFixed(2), b.Loan.StringFixed(2))
				}
				return w.Flush()
			})
		},
	}
}

func parseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	return rate, nil
}

func newRatesCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Administer interest rate schemes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schemes and their current rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				schemes, err := a.Schedule.ListSchemes(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tRATE%\tUPDATED")
				for _, sc := range schemes {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sc.ID, sc.Name, sc.AnnualRatePercent, sc.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <deposit|fd|loan> <rate>",
		Short: "Create a scheme",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := parseRate(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				sc, err := a.Schedule.CreateScheme(cmd.Context(), models.SchemeName(args[0]), rate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %s%% (%s)\n", sc.Name, sc.AnnualRatePercent, sc.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <deposit|fd|loan> <rate>",
		Short: "Change a scheme's rate from now on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := parseRate(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				sc, err := a.Schedule.SetRate(cmd.Context(), models.SchemeName(args[0]), rate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "set %s to %s%%\n", sc.Name, sc.AnnualRatePercent)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <scheme-id>",
		Short: "Delete a scheme and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("scheme", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				if err := a.Schedule.DeleteScheme(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <deposit|fd|loan>",
		Short: "Show every rate a scheme has carried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				versions, err := a.Schedule.History(cmd.Context(), models.SchemeName(args[0]))
				if err != nil {
					return err
				}
				for _, v := range versions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s%%\n", v.EffectiveFrom.Format("2006-01-02 15:04:05"), v.AnnualRatePercent)
				}
				return nil
			})
		},
	})
	return cmd
}
