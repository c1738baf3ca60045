package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/ktimer/internal/accrual"
	"github.com/goodtune/ktimer/internal/metrics"
	"github.com/goodtune/ktimer/internal/systemd"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run accounting cycles on a timer",
	Long: `Run an accounting cycle every interval minutes until interrupted. The first
cycle runs one interval after startup. Cycles never overlap.`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, logger, _ := loadConfig()

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Int("interval", cfg.Interval).
		Msg("Starting ktimer service")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get systemd listeners")
		sdListeners = &systemd.Listeners{}
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	acct, err := newAccounting(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := acct.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start Metrics Server")
			metricsServer = nil
		}
	}

	// Initialize Scheduler
	scheduler, err := accrual.NewScheduler(acct.engine, time.Duration(cfg.Interval)*time.Minute, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	scheduler.OnCycle(func(result accrual.CycleResult) {
		if err := systemd.NotifyWatchdog(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
		}
	})
	scheduler.Start()

	if wd := systemd.WatchdogInterval(); wd > 0 && wd < time.Duration(cfg.Interval)*time.Minute {
		logger.Warn().
			Dur("watchdog", wd).
			Int("interval_minutes", cfg.Interval).
			Msg("systemd WatchdogSec is shorter than the accrual interval")
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	logger.Info().Msg("ktimer service startup complete")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			// Quotas and the policy command are already re-read every cycle
			logger.Info().Msg("SIGHUP received, configuration is reloaded on the next cycle")
			continue
		}

		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	scheduler.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("ktimer service stopped")

	return nil
}
