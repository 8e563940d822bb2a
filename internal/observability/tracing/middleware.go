package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"routelimit/internal/handler/http/responsewriter"
)

// RouteMatcher maps a request path to its rate limit route pattern.
type RouteMatcher interface {
	MatchRoute(path string) (string, bool)
}

// Middleware creates OpenTelemetry tracing middleware for HTTP handlers.
//
// The middleware:
//   - Extracts trace context from incoming request headers (W3C Trace Context format)
//   - Creates a server span named after the method and the matched route pattern
//   - Adds the trace ID to response headers (X-Trace-Id)
//   - Records method, path, route and status code as span attributes
//   - Marks the span as an error for 5xx responses
//
// Span names use the route pattern, not the raw path, so they stay low
// cardinality. Unmatched paths share the name "<METHOD> unmatched".
func Middleware(routes RouteMatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			route, ok := routes.MatchRoute(r.URL.Path)
			if !ok {
				route = "unmatched"
			}

			ctx, span := GetTracer().Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			w.Header().Set("X-Trace-Id", span.SpanContext().TraceID().String())

			rw := responsewriter.Wrap(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)

			span.SetAttributes(
				attribute.Int("http.status_code", rw.StatusCode()),
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("http.route", route),
			)

			if rw.StatusCode() >= 500 {
				span.SetAttributes(attribute.Bool("error", true))
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode()))
			}
		})
	}
}
