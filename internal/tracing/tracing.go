// Package tracing provides opt-in OpenTelemetry trace propagation for a
// pipeline run. StartPhase opens a child span for one phase of one run; the
// orchestrator and the triad reviewer do not call it, so a run produces no
// spans unless its caller opens them.
//
// When enabled, it sets up an OTLP HTTP exporter, a TracerProvider, and W3C
// TraceContext + Baggage propagation. When disabled, all functions are
// no-ops with zero overhead.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the OTel tracing configuration. When Enabled is false, Setup
// returns a no-op shutdown and Tracer() returns a no-op tracer.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName string // resource service name, e.g. "noesis"
}

// Setup initialises the OpenTelemetry TracerProvider with an OTLP HTTP exporter.
// It sets the global TextMapPropagator to W3C TraceContext + Baggage so that
// trace context is automatically propagated on outgoing HTTP calls.
//
// The returned shutdown function must be called (typically in a defer or
// server Close) to flush pending spans and release resources.
//
// When cfg.Enabled is false, Setup returns a no-op shutdown and nil error.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // typical for local collectors
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the named tracer to use for a pipeline run. Safe to call
// whether or not Setup enabled a real TracerProvider: the global otel
// tracer falls back to a no-op implementation automatically.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartPhase starts a child span for one orchestrator phase of one run. The
// caller must call the returned end func (typically via defer) once the
// phase completes; err, if non-nil, is recorded on the span.
func StartPhase(ctx context.Context, tracer trace.Tracer, runID, phase string) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, phase, trace.WithAttributes(
		attribute.String("run_id", runID),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
