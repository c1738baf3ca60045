package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	monitorUser  string
	monitorQuiet bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch remaining time and warn before it runs out",
	Long: `Poll the ledger for a user (by default the user running this command) and
print warnings as the daily limit approaches. The monitor only reads the ledger;
a running service or periodic tick does the accounting.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorUser, "user", "u", "", "User to watch (default: current user)")
	monitorCmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false, "Only print warnings, not the status line")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, _ := loadConfig()

	user := monitorUser
	if user == "" {
		user = identity.ProcessOwner()
	}
	user = identity.Normalize(user)
	if user == "" {
		return fmt.Errorf("could not determine the user to monitor, use --user")
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

	m := monitor.New(
		ledger.New(store, logger),
		quotaLoader(logger),
		user,
		cfg.Monitor.WarnMinutes,
		&monitor.WriterNotifier{Out: os.Stdout},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var last string
	return m.Run(ctx, cfg.PollInterval(), func(s monitor.Status) {
		line := s.String()
		if monitorQuiet || line == last {
			return
		}
		last = line
		monitor.StatusLine(os.Stdout, s)
	})
}
