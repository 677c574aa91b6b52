// Package telemetry sets up OpenTelemetry tracing for the fetcher.
//
// There is no collector dependency: finished spans are written to slog, which
// is enough to follow a fetch and its attempts from the command line.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config configures the trace provider.
type Config struct {
	ServiceName string
	SampleRate  float64 // 0 or >= 1 samples everything
}

// NewProvider creates a tracer provider that logs every sampled span.
func NewProvider(cfg Config, log *slog.Logger) *sdktrace.TracerProvider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fetcher"
	}
	if log == nil {
		log = slog.Default()
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithSpanProcessor(&logProcessor{log: log.With("component", "trace")}),
	)
}

// Install registers a provider as the global one and returns its shutdown.
func Install(cfg Config, log *slog.Logger) func(context.Context) error {
	tp := NewProvider(cfg, log)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// logProcessor writes ended spans to a logger.
type logProcessor struct {
	log *slog.Logger
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := []any{
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()),
		"events", len(s.Events()),
		"status", s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	if s.Status().Description != "" {
		attrs = append(attrs, "description", s.Status().Description)
	}
	p.log.Info("Span finished", attrs...)
}

func (p *logProcessor) Shutdown(context.Context) error { return nil }

func (p *logProcessor) ForceFlush(context.Context) error { return nil }
