package main

import (
	"context"
	"fmt"

	"github.com/goodtune/ktimer/internal/accrual"
	"github.com/goodtune/ktimer/internal/config"
	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/policy"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/goodtune/ktimer/internal/storage"
	"github.com/goodtune/ktimer/internal/storage/bolt"
	"github.com/goodtune/ktimer/internal/storage/file"
	"github.com/goodtune/ktimer/internal/storage/redis"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loadConfig reads the configuration file. When it cannot be read the
// fallback configuration is returned together with the error, so callers can
// keep going in degraded mode.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Fallback()
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	if err != nil {
		logger.Warn().
			Err(err).
			Str("config", configPath).
			Int("interval", cfg.Interval).
			Str("ledger", cfg.Storage.Path).
			Msg("Configuration unavailable, using fallback defaults")
	}
	return cfg, logger, err
}

func openStorage(cfg config.StorageConfig) (storage.LedgerStore, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "file"
	}

	switch storageType {
	case "file":
		return file.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be file, bolt or redis)", storageType)
	}
}

// settingsLoader re-reads the configuration file on every call.
func settingsLoader(logger zerolog.Logger) accrual.SettingsLoader {
	return func(ctx context.Context) (accrual.Settings, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return accrual.Settings{}, err
		}
		snap, err := buildSnapshot(cfg, logger)
		if err != nil {
			return accrual.Settings{}, err
		}
		return accrual.Settings{Quotas: snap, Command: cfg.PolicyCommand()}, nil
	}
}

// quotaLoader re-reads the configuration and returns only the quota view.
func quotaLoader(logger zerolog.Logger) func(ctx context.Context) (quota.Resolver, error) {
	return func(ctx context.Context) (quota.Resolver, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return buildSnapshot(cfg, logger)
	}
}

func buildSnapshot(cfg *config.Config, logger zerolog.Logger) (*quota.Snapshot, error) {
	snap, warnings, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}
	return snap, nil
}

// accounting bundles everything a cycle needs
type accounting struct {
	store  storage.LedgerStore
	engine *accrual.Engine
}

func (a *accounting) Close() error {
	return a.store.Close()
}

// newAccounting opens the ledger and builds the accrual engine. The ledger
// location and interval are fixed here; quotas and the policy command are
// re-read on every cycle.
func newAccounting(cfg *config.Config, logger zerolog.Logger) (*accounting, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("location", store.Location()).
		Msg("Storage initialized")

	pe, err := policy.NewEngine(policy.ExecLauncher{}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	users := identity.NewCollector(cfg.HostSource(), logger)
	engine, err := accrual.NewEngine(
		ledger.New(store, logger),
		users,
		settingsLoader(logger),
		pe,
		cfg.Interval,
		logger,
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize accrual engine: %w", err)
	}

	return &accounting{store: store, engine: engine}, nil
}
