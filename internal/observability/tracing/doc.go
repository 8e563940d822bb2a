// Package tracing provides OpenTelemetry tracing for the gateway.
//
// Setup installs the tracer provider and propagator; Middleware opens a
// server span per request, continuing any incoming W3C trace context. The
// rate limiter opens its own child span for each check.
//
// Example usage:
//
//	tp := tracing.Setup(tracing.Config{ServiceName: "routelimit", SampleRatio: 0.1})
//	defer func() { _ = tp.Shutdown(context.Background()) }()
//
//	handler := tracing.Middleware(limiter)(mux)
package tracing
