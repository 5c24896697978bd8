// Package tracing wires OpenTelemetry distributed tracing across the HTTP
// Surface, Job Orchestrator, Worker Pipeline, and Webhook Engine stages, the
// same ambient-observability category pkg/metrics and pkg/log already carry
// for this process. Every component obtains its own tracer by name through
// otel.Tracer(...) rather than threading a tracer object through every
// constructor, so a request's trace context (propagated via context.Context,
// same as everywhere else in this codebase) is the only thing tying spans
// together across packages.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxcode/transcoder/internal/config"
)

// Shutdown flushes buffered spans and closes the exporter. Callers defer it
// from main alongside bootstrap.Services.Close and the metrics server's own
// Shutdown.
type Shutdown func(ctx context.Context) error

// NewProvider installs the process-wide trace.TracerProvider from cfg. When
// cfg.Enabled is false it installs otel's no-op provider, so every
// otel.Tracer(...).Start call elsewhere in the codebase stays cheap and
// side-effect-free without those call sites needing to branch on whether
// tracing is on.
func NewProvider(ctx context.Context, cfg config.TracingConfig) (trace.TracerProvider, Shutdown, error) {
	if !cfg.Enabled {
		noop := trace.NewNoopTracerProvider()
		otel.SetTracerProvider(noop)
		return noop, func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building trace exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return provider, func(ctx context.Context) error { return provider.Shutdown(ctx) }, nil
}

// newExporter dials an OTLP/gRPC collector when cfg.OTLPEndpoint is set, and
// otherwise exports to stdout — useful for the single-process local run this
// repository ships (internal/database.Connect and pkg/cache/redis.NewClient
// have the same "local/dev address by default" shape).
func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.OTLPEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
}
