package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tola_ledger/internal/bootstrap"
	"tola_ledger/internal/domain"
	"tola_ledger/internal/service"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(milestoneCmd)
	rootCmd.AddCommand(reportCmd)

	walletCmd.AddCommand(walletShowCmd)
	walletCmd.AddCommand(walletFreezeCmd)
	walletCmd.AddCommand(walletUnfreezeCmd)

	reportCmd.AddCommand(reportGenerateCmd)
	reportCmd.AddCommand(reportGetCmd)
	reportCmd.AddCommand(reportListCmd)

	recoverCmd.Flags().Duration("older-than", 0, "only pending requests older than this (never less than twice the settlement timeout)")
	reportCmd.PersistentFlags().String("type", string(domain.ReportDaily), "report type (daily|monthly)")
	reportGenerateCmd.Flags().String("period", "", "YYYY-MM-DD or YYYY-MM; defaults to the previous period")
	reportListCmd.Flags().Int("limit", 30, "number of reports")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(true, func(ctx context.Context, app *bootstrap.App) error {
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", app.Cfg.StoreDriver)
			return nil
		})
	},
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Inspect and freeze wallets",
}

var walletShowCmd = &cobra.Command{
	Use:   "show USER_ID",
	Short: "Print a wallet and its ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUser(args[0])
		if err != nil {
			return err
		}
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			w, err := app.Ledger.GetWallet(ctx, userID)
			if err != nil {
				return err
			}
			entries, err := app.Ledger.History(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"wallet": w, "entries": entries})
		})
	},
}

var walletFreezeCmd = &cobra.Command{
	Use:   "freeze USER_ID",
	Short: "Deactivate a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWalletStatus(cmd, args[0], false)
	},
}

var walletUnfreezeCmd = &cobra.Command{
	Use:   "unfreeze USER_ID",
	Short: "Reactivate a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWalletStatus(cmd, args[0], true)
	},
}

func setWalletStatus(cmd *cobra.Command, arg string, active bool) error {
	userID, err := parseUser(arg)
	if err != nil {
		return err
	}
	return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
		if active {
			err = app.Ledger.Activate(ctx, userID)
		} else {
			err = app.Ledger.Deactivate(ctx, userID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wallet %d active=%t\n", userID, active)
		return nil
	})
}

var replayCmd = &cobra.Command{
	Use:   "replay USER_ID",
	Short: "Recompute a wallet from its completed entries and repair drift",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUser(args[0])
		if err != nil {
			return err
		}
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			res, err := app.Ledger.Replay(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Finish conversions left pending by a crash",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			stats, err := app.Conversions.RecoverPending(ctx, olderThan)
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Show the conversion gate state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			st, err := app.Milestone.State(ctx)
			if err != nil {
				return err
			}
			count, err := app.Milestone.ParticipantCount(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"state": st, "participants": count})
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and read accounting reports",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Aggregate a period and store the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := reportType(cmd)
		period, _ := cmd.Flags().GetString("period")
		if period == "" {
			period = service.PreviousPeriod(typ, time.Now())
		}
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			rep, err := app.Accounting.GenerateReport(ctx, typ, period)
			if err != nil {
				return err
			}
			return printJSON(rep)
		})
	},
}

var reportGetCmd = &cobra.Command{
	Use:   "get PERIOD",
	Short: "Print a stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := reportType(cmd)
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			rep, err := app.Accounting.GetReport(ctx, typ, args[0])
			if err != nil {
				return err
			}
			return printJSON(rep)
		})
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest stored reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := reportType(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(false, func(ctx context.Context, app *bootstrap.App) error {
			reps, err := app.Accounting.ListReports(ctx, typ, limit)
			if err != nil {
				return err
			}
			return printJSON(reps)
		})
	},
}

func reportType(cmd *cobra.Command) domain.ReportType {
	v, _ := cmd.Flags().GetString("type")
	return domain.ReportType(v)
}

func parseUser(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}
