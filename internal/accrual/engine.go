package accrual

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/metrics"
	"github.com/goodtune/ktimer/internal/policy"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Settings is the part of the configuration re-read on every cycle
type Settings struct {
	Quotas  quota.Resolver
	Command policy.Command
}

// SettingsLoader reads the current Settings. An error leaves every user
// unmonitored for that cycle.
type SettingsLoader func(ctx context.Context) (Settings, error)

// CycleResult summarizes one accrual cycle
type CycleResult struct {
	ID        string            `json:"id"`
	Date      calendar.Date     `json:"date"`
	Users     []string          `json:"users"`
	Decisions []policy.Decision `json:"decisions"`
	Overruns  []string          `json:"overruns"`
	Degraded  bool              `json:"degraded"`
	Saved     bool              `json:"saved"`
	Errors    []error           `json:"-"`
	Duration  time.Duration     `json:"duration"`
}

// Status returns a short label for logs and metrics.
func (r CycleResult) Status() string {
	switch {
	case len(r.Errors) > 0:
		return "error"
	case r.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}

// Engine runs accrual cycles. It keeps no state between cycles: each one
// reloads the ledger and the settings.
type Engine struct {
	ledger   *ledger.Ledger
	users    *identity.Collector
	settings SettingsLoader
	policy   *policy.Engine
	clock    calendar.Clock
	interval int
	logger   zerolog.Logger
}

// NewEngine creates an accrual engine adding interval minutes per cycle
func NewEngine(l *ledger.Ledger, users *identity.Collector, settings SettingsLoader, pe *policy.Engine, interval int, logger zerolog.Logger) (*Engine, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %d", interval)
	}

	return &Engine{
		ledger:   l,
		users:    users,
		settings: settings,
		policy:   pe,
		clock:    calendar.RealClock{},
		interval: interval,
		logger:   logger.With().Str("component", "accrual").Logger(),
	}, nil
}

// SetClock sets the clock used to pick the current day (for testing)
func (e *Engine) SetClock(clock calendar.Clock) {
	e.clock = clock
}

// Interval returns the minutes added per cycle.
func (e *Engine) Interval() int {
	return e.interval
}

// RunCycle performs one accrual cycle. Failures are logged and collected in
// the result; none of them stops the remaining users from being processed.
func (e *Engine) RunCycle(ctx context.Context) (result CycleResult) {
	start := time.Now()
	result = CycleResult{ID: uuid.NewString()}
	logger := e.logger.With().Str("cycle_id", result.ID).Logger()

	defer func() {
		result.Duration = time.Since(start)
		metrics.CycleDuration.Observe(result.Duration.Seconds())
		metrics.CyclesTotal.WithLabelValues(result.Status()).Inc()
	}()

	skipped, err := e.ledger.Load(ctx)
	metrics.LedgerEntriesSkipped.Add(float64(len(skipped)))
	if err != nil {
		// Saving after a failed load would overwrite the table with
		// today's records only.
		metrics.LedgerErrors.WithLabelValues("load").Inc()
		logger.Error().Err(err).Str("location", e.ledger.Location()).Msg("Failed to load ledger, skipping cycle")
		result.Errors = append(result.Errors, err)
		return result
	}

	settings := e.loadSettings(ctx, logger, &result)

	result.Users = e.users.Collect(ctx)
	metrics.ActiveUsers.Set(float64(len(result.Users)))

	result.Date = calendar.Today(e.clock)

	for _, user := range result.Users {
		d, err := e.accrue(ctx, user, result.Date, settings)
		if err != nil {
			logger.Error().Err(err).Str("user", user).Msg("Failed to account user")
			result.Errors = append(result.Errors, err)
		}
		if d.Action == "" || d.Action == policy.ActionSkip {
			continue
		}
		result.Decisions = append(result.Decisions, d)
		if d.Action == policy.ActionEnforce {
			result.Overruns = append(result.Overruns, user)
		}
	}

	if err := e.ledger.Save(ctx); err != nil {
		metrics.LedgerErrors.WithLabelValues("save").Inc()
		logger.Error().Err(err).Str("location", e.ledger.Location()).Msg("Failed to save ledger")
		result.Errors = append(result.Errors, err)
	} else {
		result.Saved = true
	}

	logger.Debug().
		Str("date", result.Date.String()).
		Int("active_users", len(result.Users)).
		Int("overruns", len(result.Overruns)).
		Msg("Accrual cycle complete")

	return result
}

func (e *Engine) loadSettings(ctx context.Context, logger zerolog.Logger, result *CycleResult) Settings {
	if e.settings == nil {
		return Settings{Quotas: quota.NewSnapshot()}
	}

	settings, err := e.settings(ctx)
	if err != nil {
		metrics.ConfigErrors.Inc()
		logger.Warn().Err(err).Msg("Failed to load configuration, all users unmonitored this cycle")
		result.Degraded = true
		return Settings{Quotas: quota.NewSnapshot()}
	}
	if settings.Quotas == nil {
		settings.Quotas = quota.NewSnapshot()
	}
	return settings
}

// accrue adds one interval to user's record and enforces the limit.
func (e *Engine) accrue(ctx context.Context, user string, today calendar.Date, settings Settings) (policy.Decision, error) {
	limit := settings.Quotas.Resolve(user, today)
	if !limit.Monitored {
		e.logger.Debug().Str("user", user).Msg("User not monitored")
		return e.policy.Decide(ctx, user, today, limit, 0), nil
	}

	used, err := e.ledger.Add(user, today, e.interval)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("accrue %s: %w", user, err)
	}
	metrics.MinutesAccrued.WithLabelValues(user).Add(float64(e.interval))

	d := e.policy.Decide(ctx, user, today, limit, used)

	e.logger.Info().
		Str("user", user).
		Str("date", today.String()).
		Int("minutes", used).
		Int("limit", limit.Minutes).
		Str("action", string(d.Action)).
		Msg("Usage accrued")

	if d.Action != policy.ActionEnforce {
		return d, nil
	}

	metrics.OverrunsTotal.WithLabelValues(user).Inc()
	if err := e.policy.Enforce(ctx, d, settings.Command); err != nil {
		metrics.TriggerFailures.Inc()
		return d, err
	}
	return d, nil
}
