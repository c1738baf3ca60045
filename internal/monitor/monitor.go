package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/rs/zerolog"
)

// QuotaLoader returns the current quota view
type QuotaLoader func(ctx context.Context) (quota.Resolver, error)

// Status is the usage of the watched user today
type Status struct {
	User    string
	Date    calendar.Date
	Used    int
	Limit   quota.Limit
	Tracked bool // a ledger record exists for today
}

// Remaining returns the minutes left today.
func (s Status) Remaining() int {
	return s.Limit.Remaining(s.Used)
}

// String renders the status line shown to the user.
func (s Status) String() string {
	if !s.Limit.Monitored || !s.Tracked {
		return "No time limit is active right now"
	}
	used := min(s.Used, s.Limit.Minutes)
	if used > 1 {
		return fmt.Sprintf("%d of %d minutes used", used, s.Limit.Minutes)
	}
	return fmt.Sprintf("Today's limit: %d minutes", s.Limit.Minutes)
}

// Monitor polls the ledger for one user and raises notices as the daily
// limit approaches. It only reads; the accrual service does all writing.
type Monitor struct {
	ledger     *ledger.Ledger
	quotas     QuotaLoader
	user       string
	warnAt     map[int]bool
	notifier   Notifier
	clock      calendar.Clock
	logger     zerolog.Logger
	lastWarned int
}

// New creates a monitor for user
func New(l *ledger.Ledger, quotas QuotaLoader, user string, warnAt []int, notifier Notifier, logger zerolog.Logger) *Monitor {
	set := make(map[int]bool, len(warnAt))
	for _, m := range warnAt {
		set[m] = true
	}
	return &Monitor{
		ledger:     l,
		quotas:     quotas,
		user:       user,
		warnAt:     set,
		notifier:   notifier,
		clock:      calendar.RealClock{},
		logger:     logger.With().Str("component", "monitor").Str("user", user).Logger(),
		lastWarned: -1,
	}
}

// SetClock sets the clock used to pick the current day (for testing)
func (m *Monitor) SetClock(clock calendar.Clock) {
	m.clock = clock
}

// Check polls once and delivers a notice if one is due.
func (m *Monitor) Check(ctx context.Context) (Status, error) {
	status := Status{User: m.user, Date: calendar.Today(m.clock)}

	if _, err := m.ledger.Load(ctx); err != nil {
		return status, err
	}

	resolver, err := m.quotas(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load configuration, treating user as unmonitored")
		resolver = quota.NewSnapshot()
	}
	status.Limit = resolver.Resolve(m.user, status.Date)

	record, err := m.ledger.Find(m.user, status.Date)
	if err == nil {
		status.Tracked = true
		status.Used = record.Minutes
	}

	if n, ok := m.noticeFor(status); ok {
		m.notifier.Notify(n)
	}
	return status, nil
}

// noticeFor decides whether status warrants a notice. A given remaining
// value is announced once, so polling faster than accrual does not repeat it.
func (m *Monitor) noticeFor(s Status) (Notice, bool) {
	if !s.Limit.Monitored || !s.Tracked {
		m.lastWarned = -1
		return Notice{}, false
	}

	remaining := s.Limit.Minutes - s.Used
	if !m.warnAt[remaining] || remaining == m.lastWarned {
		return Notice{}, false
	}
	m.lastWarned = remaining

	n := Notice{User: s.User, Remaining: remaining, Level: LevelWarning}
	if remaining == 1 {
		n.Level = LevelFinal
		n.Message = "Only one minute left!"
	} else {
		n.Message = fmt.Sprintf("Only %d minutes left!", remaining)
	}
	return n, true
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, onStatus func(Status)) error {
	if interval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", interval)
	}

	m.logger.Info().Dur("interval", interval).Msg("Monitor started")

	poll := func() {
		status, err := m.Check(ctx)
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to read ledger")
			return
		}
		if onStatus != nil {
			onStatus(status)
		}
	}

	poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			poll()
		case <-ctx.Done():
			m.logger.Info().Msg("Monitor stopped")
			return nil
		}
	}
}
