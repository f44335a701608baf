package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.ReviewDuration == nil {
		t.Error("ReviewDuration is nil")
	}
	if m.AgentDuration == nil {
		t.Error("AgentDuration is nil")
	}
	if m.RecordsSaved == nil {
		t.Error("RecordsSaved is nil")
	}
	if m.EmbedFailures == nil {
		t.Error("EmbedFailures is nil")
	}
	if m.SearchDuration == nil {
		t.Error("SearchDuration is nil")
	}
	if m.IndexRebuilds == nil {
		t.Error("IndexRebuilds is nil")
	}
	if m.CorruptLogLines == nil {
		t.Error("CorruptLogLines is nil")
	}
	if m.PushRetries == nil {
		t.Error("PushRetries is nil")
	}
	if m.PushFailures == nil {
		t.Error("PushFailures is nil")
	}
	if m.RoutingDecisions == nil {
		t.Error("RoutingDecisions is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter, metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
