package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry bundles the tracer and metric instruments that components record
// against. Components default to NopTelemetry so call sites never nil-check.
type Telemetry struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewTelemetry builds the instrument bundle on the provider's meter.
func NewTelemetry(p *Provider) (*Telemetry, error) {
	m, err := NewMetrics(p.Meter)
	if err != nil {
		return nil, err
	}
	return &Telemetry{Tracer: p.Tracer, Metrics: m}, nil
}

// NopTelemetry returns a bundle that records nothing.
func NopTelemetry() *Telemetry {
	// The noop meter's instrument constructors never fail.
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return &Telemetry{
		Tracer:  nooptrace.NewTracerProvider().Tracer(TracerName),
		Metrics: m,
	}
}

// Span starts an internal span on the bundle's tracer.
func (t *Telemetry) Span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, t.Tracer, name, attrs...)
}

// ClientSpan starts a span for an outbound call on the bundle's tracer.
func (t *Telemetry) ClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartClientSpan(ctx, t.Tracer, name, attrs...)
}
