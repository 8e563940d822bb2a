// Package observability groups the gateway's logging and tracing setup.
//
// Subpackages:
//   - logging: slog loggers configured from LOG_LEVEL and LOG_FORMAT
//   - tracing: OpenTelemetry tracer provider and HTTP server spans
//
// Prometheus metrics are declared next to the code they measure: HTTP
// metrics in internal/handler/http, limiter metrics in pkg/ratelimit and
// sweeper metrics in internal/infra/worker.
package observability
