package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"routelimit/internal/pkg/config"
)

// SweeperMetrics provides Prometheus metrics for the sweeper.
//
// Embedded metrics (from ConfigMetrics):
//   - sweeper_config_load_timestamp, sweeper_config_fallbacks_total, ...
//
// Sweeper-specific metrics:
//   - sweeper_runs_total: Total sweeps by status (success/failure)
//   - sweeper_duration_seconds: Duration histogram of sweeps
//   - sweeper_entries_removed_total: Total expired entries removed
//   - sweeper_last_success_timestamp: Unix timestamp of last successful sweep
type SweeperMetrics struct {
	*config.ConfigMetrics

	RunsTotal            *prometheus.CounterVec
	DurationSeconds      prometheus.Histogram
	EntriesRemovedTotal  prometheus.Counter
	LastSuccessTimestamp prometheus.Gauge
}

// NewSweeperMetrics creates the sweeper metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewSweeperMetrics(reg prometheus.Registerer) *SweeperMetrics {
	m := &SweeperMetrics{
		ConfigMetrics: config.NewConfigMetrics("sweeper", reg),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_runs_total",
			Help: "Total number of expired entry sweeps by status (success/failure)",
		}, []string{"status"}),

		DurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweeper_duration_seconds",
			Help:    "Duration of expired entry sweeps in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30},
		}),

		EntriesRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_entries_removed_total",
			Help: "Total number of expired counter entries removed",
		}),

		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweeper_last_success_timestamp",
			Help: "Unix timestamp of the last successful sweep",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.DurationSeconds, m.EntriesRemovedTotal, m.LastSuccessTimestamp)
	}
	return m
}

// RecordRun records one sweep.
func (m *SweeperMetrics) RecordRun(status string, seconds float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.DurationSeconds.Observe(seconds)
}

// RecordSuccess records the entries removed by a successful sweep.
func (m *SweeperMetrics) RecordSuccess(removed int) {
	m.EntriesRemovedTotal.Add(float64(removed))
	m.LastSuccessTimestamp.SetToCurrentTime()
}
