package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all revclaw metrics instruments.
type Metrics struct {
	ReviewDuration   metric.Float64Histogram
	AgentDuration    metric.Float64Histogram
	FindingsTotal    metric.Int64Counter
	RecordsSaved     metric.Int64Counter
	EmbedFailures    metric.Int64Counter
	SearchDuration   metric.Float64Histogram
	IndexRebuilds    metric.Int64Counter
	CorruptLogLines  metric.Int64Counter
	PushRetries      metric.Int64Counter
	PushFailures     metric.Int64Counter
	ActiveAgents     metric.Int64UpDownCounter
	RoutingDecisions metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ReviewDuration, err = meter.Float64Histogram("revclaw.review.duration",
		metric.WithDescription("Full review run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("revclaw.agent.duration",
		metric.WithDescription("Per-agent review duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.FindingsTotal, err = meter.Int64Counter("revclaw.agent.findings",
		metric.WithDescription("Total findings produced by agents"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsSaved, err = meter.Int64Counter("revclaw.memory.records_saved",
		metric.WithDescription("Records appended to the memory log"),
	)
	if err != nil {
		return nil, err
	}

	m.EmbedFailures, err = meter.Int64Counter("revclaw.embed.failures",
		metric.WithDescription("Embedding calls that failed and degraded a save"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchDuration, err = meter.Float64Histogram("revclaw.memory.search.duration",
		metric.WithDescription("Memory search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.IndexRebuilds, err = meter.Int64Counter("revclaw.index.rebuilds",
		metric.WithDescription("Local index rebuilds from the append log"),
	)
	if err != nil {
		return nil, err
	}

	m.CorruptLogLines, err = meter.Int64Counter("revclaw.log.corrupt_lines",
		metric.WithDescription("Unparseable log lines skipped during replay"),
	)
	if err != nil {
		return nil, err
	}

	m.PushRetries, err = meter.Int64Counter("revclaw.guard.push_retries",
		metric.WithDescription("Rebase-and-retry attempts after a rejected push"),
	)
	if err != nil {
		return nil, err
	}

	m.PushFailures, err = meter.Int64Counter("revclaw.guard.push_failures",
		metric.WithDescription("Pushes that failed after retries"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveAgents, err = meter.Int64UpDownCounter("revclaw.agent.active",
		metric.WithDescription("Number of currently running reviewer agents"),
	)
	if err != nil {
		return nil, err
	}

	m.RoutingDecisions, err = meter.Int64Counter("revclaw.router.decisions",
		metric.WithDescription("Routing decisions made"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
