package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements RateLimitMetrics using Prometheus.
//
// All metrics use a custom registry for better testability and isolation.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// decisionsTotal counts evaluated requests.
	// Labels:
	//   - route: matched route pattern ("" when none matched)
	//   - outcome: "allowed", "denied", "exempt" or "no_key"
	decisionsTotal *prometheus.CounterVec

	// checkDuration tracks the duration of Check calls, store round trips
	// included. Buckets cover fast in-memory checks (<1ms) up to slow
	// remote stores.
	checkDuration *prometheus.HistogramVec

	// storeErrorsTotal counts failed storage operations by operation.
	storeErrorsTotal *prometheus.CounterVec

	// activeKeys is the number of counters held by the store.
	activeKeys prometheus.Gauge

	// evictionsTotal counts LRU evictions of the in-memory store.
	evictionsTotal prometheus.Counter
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with a custom registry.
//
// The registry can be passed to promhttp.HandlerFor() to expose metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_decisions_total",
			Help: "Total rate limit decisions by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_rate_limit_check_duration_seconds",
			Help:    "Duration of rate limit check operations",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"route"},
	)

	storeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_store_errors_total",
			Help: "Total counter store failures by operation",
		},
		[]string{"op"},
	)

	activeKeys := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_rate_limit_active_keys",
			Help: "Current number of counters held by the store",
		},
	)

	evictionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limit_evictions_total",
			Help: "Total LRU evictions of the in-memory store",
		},
	)

	registry.MustRegister(
		decisionsTotal,
		checkDuration,
		storeErrorsTotal,
		activeKeys,
		evictionsTotal,
	)

	return &PrometheusMetrics{
		registry:         registry,
		decisionsTotal:   decisionsTotal,
		checkDuration:    checkDuration,
		storeErrorsTotal: storeErrorsTotal,
		activeKeys:       activeKeys,
		evictionsTotal:   evictionsTotal,
	}
}

// Registry returns the Prometheus registry containing all rate limit metrics.
//
//	metrics := NewPrometheusMetrics()
//	http.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecision records one evaluated request.
func (m *PrometheusMetrics) RecordDecision(route, outcome string) {
	m.decisionsTotal.WithLabelValues(route, outcome).Inc()
}

// RecordCheckDuration records the duration of a rate limit check.
func (m *PrometheusMetrics) RecordCheckDuration(route string, duration time.Duration) {
	m.checkDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordStoreError records a failed storage operation.
func (m *PrometheusMetrics) RecordStoreError(op string) {
	m.storeErrorsTotal.WithLabelValues(op).Inc()
}

// SetActiveKeys records the number of counters held by the store.
func (m *PrometheusMetrics) SetActiveKeys(count int) {
	m.activeKeys.Set(float64(count))
}

// RecordEviction records keys evicted from the store.
//
// High eviction rates may indicate many unique clients or a MaxKeys
// setting that is too low for the traffic.
func (m *PrometheusMetrics) RecordEviction(count int) {
	m.evictionsTotal.Add(float64(count))
}
