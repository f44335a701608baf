// Package orchestrator fans a pull request out to the selected reviewer
// agents, joins their results, and ingests findings into memory. Agents run
// in a bounded worker pool; ingestion is sequential so append ordering stays
// simple.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memory"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/review"
	"github.com/basket/revclaw/internal/shared"
)

// Agent is one unit of review work.
type Agent interface {
	Name() string
	Review(ctx context.Context, pr review.PullRequest, past []memindex.Hit) ([]review.Finding, error)
}

// Memory is the slice of the memory façade the orchestrator needs.
type Memory interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]memindex.Hit, error)
	Save(ctx context.Context, req memory.SaveRequest) (review.Record, error)
}

// Result is one agent's outcome. Err is set when the agent failed; a failed
// agent never blocks the others.
type Result struct {
	Agent    string
	Findings []review.Finding
	Err      error
}

// Options tunes the pool.
type Options struct {
	Workers      int
	AgentTimeout time.Duration
	MemoryHits   int
	MinScore     float64
}

// Orchestrator runs agents and persists what they find.
type Orchestrator struct {
	store  Memory
	opts   Options
	logger *slog.Logger
	events *bus.Bus
	tele   *otelPkg.Telemetry
}

// New builds an Orchestrator. store and events may be nil.
func New(store Memory, opts Options, logger *slog.Logger, events *bus.Bus) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 5 * time.Minute
	}
	if opts.MemoryHits <= 0 {
		opts.MemoryHits = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, opts: opts, logger: logger, events: events, tele: otelPkg.NopTelemetry()}
}

// SetTelemetry replaces the orchestrator's tracer and instruments.
func (o *Orchestrator) SetTelemetry(tele *otelPkg.Telemetry) {
	if tele != nil {
		o.tele = tele
	}
}

// Run executes the agents against pr and saves every finding. Results come
// back in the order the agents were given, regardless of completion order.
func (o *Orchestrator) Run(ctx context.Context, pr review.PullRequest, agents []Agent) []Result {
	ctx, span := o.tele.Span(ctx, "review.agents",
		otelPkg.AttrRunID.String(shared.RunID(ctx)))
	defer span.End()
	start := time.Now()

	past := o.pastFindings(ctx, pr)
	runID := shared.RunID(ctx)

	results := make([]Result, len(agents))
	sem := make(chan struct{}, o.opts.Workers)
	var wg sync.WaitGroup

	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent Agent) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			o.publish(bus.TopicAgentStarted, bus.AgentEvent{RunID: runID, Agent: agent.Name()})

			agentCtx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
			defer cancel()
			agentCtx = shared.WithAgentName(agentCtx, agent.Name())
			agentCtx, agentSpan := o.tele.Span(agentCtx, "agent.review",
				otelPkg.AttrAgentName.String(agent.Name()))
			defer agentSpan.End()

			o.tele.Metrics.ActiveAgents.Add(agentCtx, 1)
			agentStart := time.Now()
			findings, err := agent.Review(agentCtx, pr, past)
			o.tele.Metrics.AgentDuration.Record(agentCtx, time.Since(agentStart).Seconds())
			o.tele.Metrics.ActiveAgents.Add(agentCtx, -1)

			results[i] = Result{Agent: agent.Name(), Findings: findings, Err: err}

			if err != nil {
				o.logger.Error("agent failed", "agent", agent.Name(), "error", err)
				o.publish(bus.TopicAgentFailed, bus.AgentEvent{RunID: runID, Agent: agent.Name(), Err: err.Error()})
				return
			}
			o.tele.Metrics.FindingsTotal.Add(agentCtx, int64(len(findings)))
			o.publish(bus.TopicAgentFinished, bus.AgentEvent{RunID: runID, Agent: agent.Name(), Findings: len(findings)})
		}(i, agent)
	}
	wg.Wait()

	o.ingest(ctx, results)
	o.tele.Metrics.ReviewDuration.Record(ctx, time.Since(start).Seconds())
	return results
}

// pastFindings queries memory once per run; every agent shares the hits.
// Memory failure degrades to a review without historical context.
func (o *Orchestrator) pastFindings(ctx context.Context, pr review.PullRequest) []memindex.Hit {
	if o.store == nil {
		return nil
	}
	query := pr.Summary
	if query == "" {
		query = pr.Title
	}
	if query == "" {
		return nil
	}
	hits, err := o.store.Search(ctx, query, o.opts.MemoryHits, o.opts.MinScore)
	if err != nil {
		o.logger.Warn("memory search failed, reviewing without history", "error", err)
		return nil
	}
	return hits
}

// ingest saves findings one at a time, in result order.
func (o *Orchestrator) ingest(ctx context.Context, results []Result) {
	if o.store == nil {
		return
	}
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for _, f := range res.Findings {
			_, err := o.store.Save(ctx, memory.SaveRequest{
				Agent:    res.Agent,
				Category: f.Category,
				Text:     f.Text,
				FilePath: f.FilePath,
				Line:     f.Line,
				Severity: f.Severity,
			})
			if err != nil {
				o.logger.Error("finding not persisted", "agent", res.Agent, "error", err)
			}
		}
	}
}

func (o *Orchestrator) publish(topic string, payload interface{}) {
	if o.events != nil {
		o.events.Publish(topic, payload)
	}
}
