package main

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	hhttp "routelimit/internal/handler/http"
	"routelimit/internal/handler/http/middleware"
	"routelimit/internal/handler/http/requestid"
	"routelimit/internal/handler/http/respond"
	"routelimit/internal/observability/logging"
	"routelimit/internal/observability/tracing"
	"routelimit/pkg/ratelimit"
)

// serverDeps holds what the gateway handler is assembled from.
type serverDeps struct {
	Limiter         *ratelimit.RateLimiter
	Upstream        *url.URL
	UpstreamTimeout time.Duration
	Headers         bool
	Health          *hhttp.HealthHandler
	Gatherers       []prometheus.Gatherer
	Logger          *slog.Logger
}

// newUpstreamProxy returns a reverse proxy to upstream. Transport failures
// are answered with 502 without leaking connection details, and 504 when the
// upstream did not answer in time.
func newUpstreamProxy(upstream *url.URL, timeout time.Duration, logger *slog.Logger) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.WithRequestID(r.Context(), logger).Warn("upstream request failed",
				slog.String("path", r.URL.Path),
				slog.Any("error", respond.SanitizeError(err)))

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				respond.SafeError(w, http.StatusGatewayTimeout, err)
				return
			}
			respond.SafeError(w, http.StatusBadGateway, err)
		},
	}
}

// newHandler assembles the gateway.
//
// Operational endpoints (/health, /ready, /live, /metrics) are served by
// the gateway itself and are never rate limited. Everything else goes
// through the middleware chain to the upstream:
//
//	request ID → tracing → logging → recovery → metrics → input validation → rate limit → proxy
func newHandler(deps serverDeps) http.Handler {
	limited := hhttp.Chain(
		newUpstreamProxy(deps.Upstream, deps.UpstreamTimeout, deps.Logger),
		requestid.Middleware,
		tracing.Middleware(deps.Limiter),
		hhttp.Logging(deps.Logger),
		hhttp.Recover(deps.Logger),
		hhttp.MetricsMiddleware(deps.Limiter),
		hhttp.InputValidation(hhttp.DefaultInputLimits()),
		middleware.RateLimit(deps.Limiter, middleware.RateLimitOptions{
			Headers: deps.Headers,
			Logger:  deps.Logger,
		}),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /health", deps.Health)
	mux.Handle("GET /ready", &hhttp.ReadyHandler{Limiter: deps.Limiter})
	mux.Handle("GET /live", &hhttp.LiveHandler{})
	mux.Handle("GET /metrics", hhttp.MetricsHandler(deps.Gatherers...))
	mux.Handle("/", limited)
	return mux
}
