package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routelimit/internal/handler/http/responsewriter"
)

// unmatchedRoute labels requests no rate limit route applies to.
const unmatchedRoute = "unmatched"

// Prometheus metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// httpRequestDuration covers the whole proxied round trip, upstream
	// included.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route"},
	)
)

// RouteMatcher maps a request path to its rate limit route pattern.
// *ratelimit.RateLimiter satisfies it.
type RouteMatcher interface {
	MatchRoute(path string) (string, bool)
}

// MetricsMiddleware records HTTP request metrics.
//
// Requests are labelled with the rate limit route pattern that matched
// their path rather than the raw path, so label cardinality is bounded by
// the configured routes. Paths no route applies to share the "unmatched"
// label.
func MetricsMiddleware(routes RouteMatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			route, ok := routes.MatchRoute(r.URL.Path)
			if !ok {
				route = unmatchedRoute
			}

			wrapped := responsewriter.Wrap(w)
			start := time.Now()
			next.ServeHTTP(wrapped, r)
			duration := time.Since(start).Seconds()

			status := strconv.Itoa(wrapped.StatusCode())
			httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(duration)
			httpResponseSize.WithLabelValues(r.Method, route).Observe(float64(wrapped.BytesWritten()))
		})
	}
}

// MetricsHandler serves the default registry merged with the extra
// gatherers, such as the rate limiter's own registry.
func MetricsHandler(gatherers ...prometheus.Gatherer) http.Handler {
	all := append(prometheus.Gatherers{prometheus.DefaultGatherer}, gatherers...)
	return promhttp.HandlerFor(all, promhttp.HandlerOpts{})
}
