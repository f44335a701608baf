package otel

import (
	"context"
	"testing"
)

func TestNewTelemetry(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	tele, err := NewTelemetry(p)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	if tele.Tracer == nil || tele.Metrics == nil {
		t.Fatal("telemetry bundle incomplete")
	}

	ctx, span := tele.Span(context.Background(), "test.op", AttrAgentName.String("security"))
	if ctx == nil {
		t.Fatal("span context missing")
	}
	span.End()
	tele.Metrics.RecordsSaved.Add(ctx, 1)
}

func TestNopTelemetry_RecordsSafely(t *testing.T) {
	tele := NopTelemetry()
	if tele.Tracer == nil || tele.Metrics == nil {
		t.Fatal("nop bundle incomplete")
	}

	ctx, span := tele.ClientSpan(context.Background(), "git.push")
	span.End()
	tele.Metrics.PushRetries.Add(ctx, 1)
	tele.Metrics.SearchDuration.Record(ctx, 0.5)
}
