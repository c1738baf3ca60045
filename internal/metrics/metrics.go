package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktimer_cycles_total",
			Help: "Total accrual cycles run",
		},
		[]string{"result"},
	)

	CyclesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktimer_cycles_suppressed_total",
			Help: "Timer firings skipped because a cycle was still running",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ktimer_cycle_duration_seconds",
			Help:    "Accrual cycle duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)

	// Usage metrics
	MinutesAccrued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktimer_minutes_accrued_total",
			Help: "Total minutes accrued to monitored users",
		},
		[]string{"user"},
	)

	OverrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktimer_overruns_total",
			Help: "Cycles in which a user was over their daily limit",
		},
		[]string{"user"},
	)

	ActiveUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ktimer_active_users",
			Help: "Number of active users seen in the last cycle",
		},
	)

	// Failure metrics
	TriggerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktimer_trigger_failures_total",
			Help: "Policy command launches that failed",
		},
	)

	LedgerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktimer_ledger_errors_total",
			Help: "Ledger load and save failures",
		},
		[]string{"operation"},
	)

	LedgerEntriesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktimer_ledger_entries_skipped_total",
			Help: "Malformed ledger entries skipped on load",
		},
	)

	ConfigErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ktimer_config_errors_total",
			Help: "Configuration reloads that failed and fell back to defaults",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		CyclesTotal,
		CyclesSuppressed,
		CycleDuration,
		MinutesAccrued,
		OverrunsTotal,
		ActiveUsers,
		TriggerFailures,
		LedgerErrors,
		LedgerEntriesSkipped,
		ConfigErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
