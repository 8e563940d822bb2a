// Package http provides the gateway's HTTP handlers and middleware: health
// and readiness endpoints, Prometheus metrics, request logging, panic
// recovery and input validation. The rate limit middleware itself lives in
// the middleware subpackage.
package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"routelimit/pkg/ratelimit"
)

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string                 `json:"status"`    // "healthy" or "unhealthy"
	Timestamp string                 `json:"timestamp"` // ISO 8601 format
	Checks    map[string]CheckStatus `json:"checks"`    // Status of each check item
	Version   string                 `json:"version"`   // Application version
}

// CheckStatus represents the status of a single health check.
type CheckStatus struct {
	Status  string         `json:"status"`            // "healthy", "degraded" or "unhealthy"
	Message string         `json:"message,omitempty"` // Optional status message
	Details map[string]any `json:"details,omitempty"` // Optional additional details
}

// RateLimiterHealthInfo contains health information for the rate limiter.
type RateLimiterHealthInfo struct {
	Enabled        bool   `json:"enabled"`
	ActiveKeys     int    `json:"active_keys"`     // -1 when the store cannot count its keys
	CircuitBreaker string `json:"circuit_breaker"` // closed, open, half-open or not_configured
}

// StoreStatus is the view of a rate limiter the health endpoints need.
// *ratelimit.RateLimiter satisfies it.
type StoreStatus interface {
	Enabled() bool
	Store() ratelimit.AtomicCounterStore
}

type keyCounter interface {
	KeyCount() int
}

type breakerState interface {
	State() string
}

// HealthHandler handles health check endpoint requests.
// It pings the counter store and reports the rate limiter state. When DB is
// set (postgres backend) connection pool statistics are reported too.
type HealthHandler struct {
	Limiter StoreStatus
	DB      *sql.DB
	Version string
}

// ServeHTTP performs health checks and returns the gateway health status.
// Returns 200 OK if healthy, or 503 Service Unavailable if any check fails.
// An open circuit breaker is reported as degraded: requests are being
// rejected with 503, but the gateway itself is up.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckStatus)
	allHealthy := true

	if h.Limiter != nil {
		storeCheck := checkStore(ctx, h.Limiter.Store())
		checks["store"] = storeCheck
		if storeCheck.Status == "unhealthy" {
			allHealthy = false
		}
		checks["rate_limiter"] = h.checkRateLimiter()
	} else {
		checks["store"] = CheckStatus{Status: "unhealthy", Message: "not configured"}
		allHealthy = false
	}

	if h.DB != nil {
		dbCheck := h.checkDatabase(ctx)
		checks["database"] = dbCheck
		if dbCheck.Status == "unhealthy" {
			allHealthy = false
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("health: failed to encode response", slog.Any("error", err))
	}
}

// checkStore pings stores backed by a remote service. In-process stores
// are always healthy.
func checkStore(ctx context.Context, store ratelimit.CounterStore) CheckStatus {
	p, ok := ratelimit.Capability[ratelimit.Pinger](store)
	if !ok {
		return CheckStatus{Status: "healthy", Message: "in-process"}
	}

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return CheckStatus{Status: "unhealthy", Message: err.Error()}
	}
	return CheckStatus{
		Status:  "healthy",
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// checkRateLimiter reports limiter state. It is never unhealthy on its own;
// an open breaker makes it degraded.
func (h *HealthHandler) checkRateLimiter() CheckStatus {
	store := h.Limiter.Store()
	info := RateLimiterHealthInfo{
		Enabled:        h.Limiter.Enabled(),
		ActiveKeys:     -1,
		CircuitBreaker: "not_configured",
	}
	if kc, ok := ratelimit.Capability[keyCounter](store); ok {
		info.ActiveKeys = kc.KeyCount()
	}

	status := "healthy"
	message := ""
	if b, ok := ratelimit.Capability[breakerState](store); ok {
		info.CircuitBreaker = b.State()
		if info.CircuitBreaker == "open" {
			status = "degraded"
			message = "circuit breaker open, requests on limited routes are rejected"
		}
	}

	return CheckStatus{
		Status:  status,
		Message: message,
		Details: map[string]any{"limiter": info},
	}
}

// checkDatabase checks database connectivity and returns connection pool statistics.
func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if err := h.DB.PingContext(ctx); err != nil {
		return CheckStatus{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	}

	stats := h.DB.Stats()
	details := map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}

	// Guard against zero division when MaxOpenConnections is 0 (unlimited)
	if stats.MaxOpenConnections == 0 {
		return CheckStatus{
			Status:  "degraded",
			Message: "connection pool max connections not configured",
			Details: details,
		}
	}

	utilizationPercent := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	details["utilization_percent"] = utilizationPercent

	// Every Update holds a connection for its transaction.
	if utilizationPercent >= 80.0 {
		return CheckStatus{
			Status:  "degraded",
			Message: "connection pool utilization above 80%",
			Details: details,
		}
	}

	return CheckStatus{
		Status:  "healthy",
		Details: details,
	}
}

// ReadyHandler handles readiness probe requests.
// It reports ready once the counter store answers a ping.
type ReadyHandler struct {
	Limiter StoreStatus
}

// ServeHTTP returns 200 OK if ready, or 503 Service Unavailable if the
// counter store is not reachable.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.Limiter == nil {
		http.Error(w, "rate limiter not configured", http.StatusServiceUnavailable)
		return
	}

	if check := checkStore(ctx, h.Limiter.Store()); check.Status != "healthy" {
		http.Error(w, "store not ready: "+check.Message, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		slog.Error("ready: failed to write response", slog.Any("error", err))
	}
}

// LiveHandler handles liveness probe requests.
type LiveHandler struct{}

// ServeHTTP always returns 200 OK if the process is able to respond.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("alive")); err != nil {
		slog.Error("alive: failed to write response", slog.Any("error", err))
	}
}
