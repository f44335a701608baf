// Package router decides which reviewer agents run for a pull request. The
// decision is a deterministic function of the PR's labels, changed paths,
// diff size, and the memory state at decision time, and is itself persisted
// to memory so similar future PRs benefit from it.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/config"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memory"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/review"
	"github.com/basket/revclaw/internal/shared"
)

// Forcing labels. A matched label decides the agent set immediately and
// memory is not consulted: explicit human intent overrides inference.
const (
	LabelForceFull     = "force full review"
	LabelForceSecurity = "force security only"
	LabelQuickReview   = "quick review only"
)

// MemoryStore is the slice of the memory façade the router needs.
type MemoryStore interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]memindex.Hit, error)
	Save(ctx context.Context, req memory.SaveRequest) (review.Record, error)
}

// pathRule adds weight to a category when a changed path contains any of the
// keywords. Paths are lowercased before matching.
type pathRule struct {
	category review.Category
	weight   int
	keywords []string
}

var pathRules = []pathRule{
	{review.CategorySecurity, 2, []string{"auth", "login", "secret", "password", "token", "crypto", "oauth", "session", "acl", "permission", "cert"}},
	{review.CategoryPerformance, 2, []string{"cache", "query", "sql", "batch", "worker", "pool", "perf", "bench"}},
	{review.CategoryArchitecture, 1, []string{"schema", "migration", "proto", "api/", "interface"}},
	{review.CategoryDocumentation, 2, []string{".md", "docs/", "readme", "changelog"}},
	{review.CategoryTesting, 2, []string{"_test.", "test_", "tests/", ".spec.", "conftest"}},
}

// codeExtensions mark files whose change alone warrants a general quality pass.
var codeExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rb", ".rs", ".c", ".cc", ".cpp", ".h", ".cs", ".php", ".kt", ".swift",
}

// largeDiffLines is the diff size past which a change is considered
// structural and the architecture agent is pulled in.
const largeDiffLines = 500

// Router selects reviewer agents for pull requests.
type Router struct {
	store       MemoryStore
	cfg         config.RouterConfig
	fingerprint string
	logger      *slog.Logger
	events      *bus.Bus
	tele        *otelPkg.Telemetry
}

// New builds a Router. store may be nil, in which case memory stages are
// skipped entirely. events may be nil.
func New(store MemoryStore, cfg config.RouterConfig, fingerprint string, logger *slog.Logger, events *bus.Bus) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:       store,
		cfg:         cfg,
		fingerprint: fingerprint,
		logger:      logger,
		events:      events,
		tele:        otelPkg.NopTelemetry(),
	}
}

// SetTelemetry replaces the router's tracer and instruments.
func (r *Router) SetTelemetry(tele *otelPkg.Telemetry) {
	if tele != nil {
		r.tele = tele
	}
}

// Route decides the agent set for pr and persists the decision as a memory
// record. Memory unavailability degrades to label+heuristic routing; it
// never blocks the review.
func (r *Router) Route(ctx context.Context, pr review.PullRequest) (review.RoutingDecision, error) {
	ctx, span := r.tele.Span(ctx, "router.route",
		otelPkg.AttrRunID.String(shared.RunID(ctx)))
	defer span.End()

	decision := review.RoutingDecision{
		RequestedLabels:   pr.Labels,
		ConfigFingerprint: r.fingerprint,
	}

	// Stage 1: explicit forcing labels are terminal.
	if forced, ok := labelSet(pr.Labels); ok {
		decision.SelectedAgents = forced
		r.finish(ctx, pr, &decision, true)
		return decision, nil
	}

	// Stage 2: score changed paths and diff size against the rule table.
	scores := scorePR(pr)
	var inferred []review.Category
	for cat, score := range scores {
		if score >= r.cfg.MinScore {
			inferred = append(inferred, cat)
		}
	}
	inferred = review.SortByPriority(inferred)
	decision.InferredCategories = inferred

	// Stage 3: add-only adjustment from similar past decisions.
	selected := append([]review.Category(nil), inferred...)
	if added := r.memoryCategories(ctx, pr, selected); len(added) > 0 {
		decision.MemoryAdded = added
		selected = append(selected, added...)
	}

	// Stage 4: dedupe and fix the order so downstream reports are stable.
	selected = review.SortByPriority(selected)
	if r.cfg.MaxAgents > 0 && len(selected) > r.cfg.MaxAgents {
		selected = selected[:r.cfg.MaxAgents]
	}
	decision.SelectedAgents = selected

	r.finish(ctx, pr, &decision, false)
	return decision, nil
}

// labelSet maps a forcing label to its fixed agent set. The first matching
// label in priority order wins: full > security > quick.
func labelSet(labels []string) ([]review.Category, bool) {
	has := func(want string) bool {
		for _, l := range labels {
			if strings.EqualFold(strings.TrimSpace(l), want) {
				return true
			}
		}
		return false
	}
	switch {
	case has(LabelForceFull):
		return append([]review.Category(nil), review.AgentCategories...), true
	case has(LabelForceSecurity):
		return []review.Category{review.CategorySecurity}, true
	case has(LabelQuickReview):
		return []review.Category{review.CategoryQuality}, true
	}
	return nil, false
}

// scorePR applies the rule table to the changed paths and diff size.
func scorePR(pr review.PullRequest) map[review.Category]int {
	scores := make(map[review.Category]int)
	for _, file := range pr.ChangedFiles {
		path := strings.ToLower(file)
		for _, rule := range pathRules {
			for _, kw := range rule.keywords {
				if strings.Contains(path, kw) {
					scores[rule.category] += rule.weight
					break
				}
			}
		}
		for _, ext := range codeExtensions {
			if strings.HasSuffix(path, ext) {
				scores[review.CategoryQuality] += 2
				break
			}
		}
	}
	if pr.DiffSize() > largeDiffLines {
		scores[review.CategoryArchitecture] += 2
	}
	return scores
}

// memoryCategories searches memory for similar past PRs and returns the
// categories their routing decisions selected beyond what is already chosen.
// This step only ever adds.
func (r *Router) memoryCategories(ctx context.Context, pr review.PullRequest, selected []review.Category) []review.Category {
	if r.store == nil {
		return nil
	}
	query := strings.TrimSpace(pr.Summary)
	if query == "" {
		query = pr.Title
	}
	if query == "" {
		return nil
	}

	hits, err := r.store.Search(ctx, query, r.cfg.MemoryMaxHits, r.cfg.MemoryMinSimilarity)
	if err != nil {
		r.logger.Warn("memory unavailable, routing on labels and heuristics only", "error", err)
		return nil
	}

	have := make(map[review.Category]bool, len(selected))
	for _, c := range selected {
		have[c] = true
	}
	var added []review.Category
	for _, hit := range hits {
		if hit.Record.Category != review.CategoryRouting || hit.Record.Payload.Decision == nil {
			continue
		}
		for _, c := range hit.Record.Payload.Decision.SelectedAgents {
			if !have[c] && review.ValidCategory(c) && c != review.CategoryRouting && c != review.CategorySummary {
				have[c] = true
				added = append(added, c)
			}
		}
	}
	return review.SortByPriority(added)
}

// finish persists the decision and announces it. Persistence is best-effort.
func (r *Router) finish(ctx context.Context, pr review.PullRequest, decision *review.RoutingDecision, fromLabels bool) {
	if r.store != nil {
		text := strings.TrimSpace(pr.Summary)
		if text == "" {
			text = pr.Title
		}
		if text == "" {
			text = fmt.Sprintf("pull request #%d", pr.Number)
		}
		_, err := r.store.Save(ctx, memory.SaveRequest{
			Agent:    "router",
			Category: review.CategoryRouting,
			Text:     text,
			Decision: decision,
		})
		if err != nil {
			r.logger.Warn("routing decision not persisted", "error", err)
		}
	}

	r.tele.Metrics.RoutingDecisions.Add(ctx, 1)
	r.logger.Info("routing decided",
		"pr", pr.Number,
		"agents", agentNames(decision.SelectedAgents),
		"from_labels", fromLabels,
		"memory_added", agentNames(decision.MemoryAdded))

	if r.events != nil {
		r.events.Publish(bus.TopicRouteDecided, bus.RouteDecidedEvent{
			RunID:          shared.RunID(ctx),
			SelectedAgents: agentNames(decision.SelectedAgents),
			FromLabels:     fromLabels,
			FromMemory:     agentNames(decision.MemoryAdded),
		})
	}
}

func agentNames(cats []review.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
