package accrual

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/ktimer/internal/metrics"
	"github.com/rs/zerolog"
)

// Cycler runs one accrual cycle
type Cycler interface {
	RunCycle(ctx context.Context) CycleResult
}

// Scheduler fires a cycle every period. A firing while the previous cycle
// is still running is dropped, so cycles never overlap.
type Scheduler struct {
	cycler   Cycler
	period   time.Duration
	logger   zerolog.Logger
	onCycle  func(CycleResult)
	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a new scheduler
func NewScheduler(cycler Cycler, period time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if cycler == nil {
		return nil, fmt.Errorf("scheduler requires a cycle runner")
	}
	if period <= 0 {
		return nil, fmt.Errorf("invalid scheduler period: %s", period)
	}

	return &Scheduler{
		cycler:   cycler,
		period:   period,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		stopChan: make(chan struct{}),
	}, nil
}

// OnCycle registers fn to be called after every completed cycle. It must be
// set before Start.
func (s *Scheduler) OnCycle(fn func(CycleResult)) {
	s.onCycle = fn
}

// Start begins the scheduler. The first cycle runs one period after Start.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().
		Dur("period", s.period).
		Msg("Accrual scheduler started")
}

// Stop stops the scheduler and waits for a running cycle to complete
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info().Msg("Accrual scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fire()
		case <-s.stopChan:
			return
		}
	}
}

// fire starts a cycle unless one is already in progress. It reports
// whether a cycle was started.
func (s *Scheduler) fire() bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.CyclesSuppressed.Inc()
		s.logger.Warn().Msg("Previous cycle still running, skipping this one")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		result := s.cycler.RunCycle(context.Background())
		if s.onCycle != nil {
			s.onCycle(result)
		}
	}()
	return true
}
