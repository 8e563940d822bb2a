package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "routelimit/gateway"

// Config configures the tracer provider.
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string

	// SampleRatio is the fraction of root spans sampled, 0 to 1. Requests
	// arriving with a sampled traceparent are always sampled.
	SampleRatio float64
}

// Setup installs a global tracer provider and the W3C trace context
// propagator. No exporter is attached: spans carry trace IDs into logs and
// the X-Trace-Id header, and an exporter can be registered on the returned
// provider. Call Shutdown on it before exit.
func Setup(cfg Config) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp
}

// GetTracer returns the gateway tracer from the current global provider.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
