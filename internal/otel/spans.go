package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for revclaw spans.
var (
	AttrRunID       = attribute.Key("revclaw.run.id")
	AttrAgentName   = attribute.Key("revclaw.agent.name")
	AttrCategory    = attribute.Key("revclaw.category")
	AttrRecordID    = attribute.Key("revclaw.record.id")
	AttrQueryLength = attribute.Key("revclaw.search.query_length")
	AttrResultCount = attribute.Key("revclaw.search.result_count")
	AttrCommitSHA   = attribute.Key("revclaw.guard.commit")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API, embedding server, git remote).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
