package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/goodtune/ktimer/internal/report"
	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportUntil  string
)

var reportCmd = &cobra.Command{
	Use:   "report [user...]",
	Short: "Show daily usage history",
	Long: `Show, for each day from the first ledger entry until today, the limit, the
minutes used and the minutes remaining. Without arguments every user found in
the ledger or the configuration is listed.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, json or yaml")
	reportCmd.Flags().StringVar(&reportUntil, "until", "", "Last day to show (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	today := calendar.Today(calendar.RealClock{})
	if reportUntil != "" {
		if today, err = calendar.ParseDate(reportUntil); err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
	}

	cfg, logger, cfgErr := loadConfig()

	var snap *quota.Snapshot
	if cfgErr == nil {
		if snap, err = buildSnapshot(cfg, logger); err != nil {
			logger.Warn().Err(err).Msg("Failed to build quotas, showing limits as zero")
		}
	}
	if snap == nil {
		snap = quota.NewSnapshot()
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	result, err := store.Load(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	for _, pe := range result.Skipped {
		logger.Warn().Int("line", pe.Line).Str("text", pe.Text).Err(pe.Err).Msg("Skipped ledger entry")
	}

	users := make([]string, 0, len(args))
	for _, a := range args {
		users = append(users, identity.Normalize(a))
	}
	if len(users) == 0 {
		users = report.Users(result.Records, snap.Users())
	}
	if len(users) == 0 {
		fmt.Fprintln(os.Stderr, "No users in the ledger or configuration")
		return nil
	}

	reports := make([]report.Report, 0, len(users))
	for _, u := range users {
		reports = append(reports, report.Build(u, result.Records, snap, today))
	}

	return report.Render(os.Stdout, format, reports)
}
