package ratelimit

import "time"

// NoOpMetrics implements RateLimitMetrics and discards everything.
//
// It is the default when no collector is configured, and keeps tests and
// benchmarks free of metric registration.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new NoOpMetrics instance.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// RecordDecision is a no-op implementation.
func (m *NoOpMetrics) RecordDecision(route, outcome string) {}

// RecordCheckDuration is a no-op implementation.
func (m *NoOpMetrics) RecordCheckDuration(route string, duration time.Duration) {}

// RecordStoreError is a no-op implementation.
func (m *NoOpMetrics) RecordStoreError(op string) {}

// SetActiveKeys is a no-op implementation.
func (m *NoOpMetrics) SetActiveKeys(count int) {}

// RecordEviction is a no-op implementation.
func (m *NoOpMetrics) RecordEviction(count int) {}
