package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/channels"
	"github.com/basket/revclaw/internal/config"
	"github.com/basket/revclaw/internal/engine"
	"github.com/basket/revclaw/internal/guard"
	"github.com/basket/revclaw/internal/orchestrator"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/review"
	"github.com/basket/revclaw/internal/router"
	"github.com/basket/revclaw/internal/shared"
)

func runReviewCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	prPath := fs.String("pr", "-", "pull request JSON file, - for stdin")
	noPush := fs.Bool("no-push", false, "skip committing and pushing the memory log")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pr, err := loadPullRequest(*prPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// File-only logs on a terminal so the summary stays readable; in CI the
	// structured logs go to stderr as usual.
	rt, err := openRuntime(ctx, stdoutIsTerminal())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()
	cfg := rt.cfg

	ctx = shared.WithRunID(ctx, ciRunID())
	ctx, reviewSpan := rt.tele.Span(ctx, "review.run",
		otelPkg.AttrRunID.String(shared.RunID(ctx)))
	defer reviewSpan.End()

	rt.logger.Info("review run starting",
		"run_id", shared.RunID(ctx), "pr", pr.Number, "files", len(pr.ChangedFiles))

	// The router publishes its decision on the bus; capture it there so the
	// summary reports exactly what was decided.
	routeSub := rt.events.Subscribe(bus.TopicRouteDecided)
	defer rt.events.Unsubscribe(routeSub)

	rtr := router.New(rt.store, cfg.Router, cfg.Fingerprint(), rt.logger, rt.events)
	rtr.SetTelemetry(rt.tele)
	decision, err := rtr.Route(ctx, pr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routing failed: %v\n", err)
		return 1
	}
	if len(decision.SelectedAgents) == 0 {
		fmt.Printf("PR #%d: no review agents selected.\n", pr.Number)
		return 0
	}
	decisionEvent := routeEvent(ctx, decision)
	select {
	case ev := <-routeSub.Ch():
		if published, ok := ev.Payload.(bus.RouteDecidedEvent); ok {
			decisionEvent = published
		}
	default:
	}

	brain := engine.NewGenkitBrain(ctx, brainConfig(cfg))
	var agents []orchestrator.Agent
	for _, cat := range decision.SelectedAgents {
		rev, err := engine.NewReviewer(brain, cat, rt.logger)
		if err != nil {
			rt.logger.Warn("skipping reviewer", "category", cat, "error", err)
			continue
		}
		agents = append(agents, rev)
	}

	orch := orchestrator.New(rt.store, orchestrator.Options{
		Workers:      cfg.WorkerCount,
		AgentTimeout: time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		MemoryHits:   cfg.Router.MemoryMaxHits,
		MinScore:     cfg.Router.MemoryMinSimilarity,
	}, rt.logger, rt.events)
	orch.SetTelemetry(rt.tele)
	results := orch.Run(ctx, pr, agents)

	counts := make(map[string]int, len(results))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		counts[res.Agent] = len(res.Findings)
	}

	push := bus.PushEvent{RunID: shared.RunID(ctx)}
	if *noPush {
		rt.logger.Info("push disabled by flag, memory kept local")
	} else {
		logRel := filepath.Join(cfg.Memory.Dir, cfg.Memory.LogFile)
		g := guard.New(guard.ExecRunner{}, cfg.RepoDir, logRel, cfg.Guard, rt.logger, rt.events)
		g.SetTelemetry(rt.tele)
		outcome, gerr := g.Persist(ctx)
		push.Commit = outcome.CommitSHA
		push.Retried = outcome.Retried
		if gerr != nil {
			fmt.Fprintf(os.Stderr, "memory commit failed: %v\n", gerr)
			return 1
		}
		if outcome.Committed && !outcome.Pushed {
			push.Err = "push rejected"
		}
	}

	summary := channels.RunSummary(pr.Number, decisionEvent, counts, push)
	fmt.Println(summary)
	notifyChannels(ctx, rt, summary)

	if failed == len(agents) && len(agents) > 0 {
		fmt.Fprintln(os.Stderr, "all review agents failed")
		return 1
	}
	return 0
}

func brainConfig(cfg config.Config) engine.BrainConfig {
	provider, model, apiKey := cfg.ResolveLLMConfig()
	return engine.BrainConfig{
		Provider:                 provider,
		Model:                    model,
		APIKey:                   apiKey,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	}
}

// routeEvent reconstructs the decision event when the bus delivery was
// dropped. FromLabels holds when a forcing label bypassed the heuristics.
func routeEvent(ctx context.Context, decision review.RoutingDecision) bus.RouteDecidedEvent {
	ev := bus.RouteDecidedEvent{
		RunID:      shared.RunID(ctx),
		FromLabels: len(decision.RequestedLabels) > 0 && len(decision.InferredCategories) == 0,
	}
	for _, cat := range decision.SelectedAgents {
		ev.SelectedAgents = append(ev.SelectedAgents, string(cat))
	}
	for _, cat := range decision.MemoryAdded {
		ev.FromMemory = append(ev.FromMemory, string(cat))
	}
	return ev
}

func notifyChannels(ctx context.Context, rt *runtime, text string) {
	tg := rt.cfg.Channels.Telegram
	if !tg.Enabled || tg.Token == "" || len(tg.ChatIDs) == 0 {
		return
	}
	n := channels.NewTelegramNotifier(tg.Token, tg.ChatIDs, rt.logger)
	notifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := n.Notify(notifyCtx, text); err != nil {
		rt.logger.Warn("notification failed", "channel", n.Name(), "error", err)
	}
}

// ciRunID prefers the CI-provided run identifier so spans and memory records
// line up with the pipeline that produced them.
func ciRunID() string {
	for _, key := range []string{"REVCLAW_RUN_ID", "GITHUB_RUN_ID", "CI_PIPELINE_ID"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return shared.NewRunID()
}
