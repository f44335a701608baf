package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/basket/revclaw/internal/config"
	"github.com/basket/revclaw/internal/embed"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memlog"
	"github.com/basket/revclaw/internal/memory"
	"github.com/basket/revclaw/internal/review"
)

func testRouterCfg() config.RouterConfig {
	return config.RouterConfig{
		MinScore:            2,
		MemoryMinSimilarity: 0.75,
		MemoryMaxHits:       5,
	}
}

func testStore(t *testing.T) *memory.Store {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := memlog.Open(filepath.Join(dir, "log.jsonl"), logger)
	if err != nil {
		t.Fatal(err)
	}
	ix, err := memindex.Open(filepath.Join(dir, "index.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return memory.New(l, ix, embed.Disabled{}, logger, nil)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRoute_AuthLoginHeuristics(t *testing.T) {
	r := New(testStore(t), testRouterCfg(), "cfg-test", quietLogger(), nil)

	pr := review.PullRequest{
		Number:       7,
		ChangedFiles: []string{"auth/login.py"},
		LinesAdded:   40,
		Summary:      "tighten login session handling",
	}
	decision, err := r.Route(context.Background(), pr)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []review.Category{review.CategorySecurity, review.CategoryQuality}
	if !reflect.DeepEqual(decision.SelectedAgents, want) {
		t.Fatalf("SelectedAgents = %v, want %v", decision.SelectedAgents, want)
	}
}

func TestRoute_ForceSecurityOnlyLabel(t *testing.T) {
	r := New(testStore(t), testRouterCfg(), "cfg-test", quietLogger(), nil)

	pr := review.PullRequest{
		Labels:       []string{"Force Security Only"},
		ChangedFiles: []string{"docs/README.md", "tests/test_everything.py"},
		Summary:      "docs and tests only",
	}
	decision, err := r.Route(context.Background(), pr)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []review.Category{review.CategorySecurity}
	if !reflect.DeepEqual(decision.SelectedAgents, want) {
		t.Fatalf("SelectedAgents = %v, want %v (label overrides heuristics)", decision.SelectedAgents, want)
	}
}

func TestRoute_ForceFullReviewLabel(t *testing.T) {
	r := New(testStore(t), testRouterCfg(), "cfg-test", quietLogger(), nil)

	decision, err := r.Route(context.Background(), review.PullRequest{
		Labels:  []string{"force full review"},
		Summary: "anything",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decision.SelectedAgents, review.AgentCategories) {
		t.Fatalf("SelectedAgents = %v, want all agents", decision.SelectedAgents)
	}
}

func TestRoute_QuickReviewLabel(t *testing.T) {
	r := New(testStore(t), testRouterCfg(), "cfg-test", quietLogger(), nil)

	decision, err := r.Route(context.Background(), review.PullRequest{
		Labels:       []string{"quick review only"},
		ChangedFiles: []string{"auth/secrets.py"},
		Summary:      "quick fix",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []review.Category{review.CategoryQuality}
	if !reflect.DeepEqual(decision.SelectedAgents, want) {
		t.Fatalf("SelectedAgents = %v, want %v", decision.SelectedAgents, want)
	}
}

func TestRoute_LargeDiffAddsArchitecture(t *testing.T) {
	r := New(testStore(t), testRouterCfg(), "cfg-test", quietLogger(), nil)

	decision, err := r.Route(context.Background(), review.PullRequest{
		ChangedFiles: []string{"server/handler.go"},
		LinesAdded:   600,
		LinesDeleted: 100,
		Summary:      "rework request handling",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []review.Category{review.CategoryArchitecture, review.CategoryQuality}
	if !reflect.DeepEqual(decision.SelectedAgents, want) {
		t.Fatalf("SelectedAgents = %v, want %v", decision.SelectedAgents, want)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	store := testStore(t)
	r := New(store, testRouterCfg(), "cfg-test", quietLogger(), nil)

	pr := review.PullRequest{
		ChangedFiles: []string{"auth/login.py", "cache/invalidate.go", "docs/guide.md"},
		LinesAdded:   200,
		Summary:      "auth and caching changes",
	}
	first, err := r.Route(context.Background(), pr)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Route(context.Background(), pr)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(again.SelectedAgents, first.SelectedAgents) {
			t.Fatalf("run %d differs: %v vs %v", i, again.SelectedAgents, first.SelectedAgents)
		}
	}
}

func TestRoute_SecondRunLearnsFromMemory(t *testing.T) {
	store := testStore(t)
	cfg := testRouterCfg()
	cfg.MemoryMinSimilarity = 0.5
	r := New(store, cfg, "cfg-test", quietLogger(), nil)
	ctx := context.Background()

	// First run: labels force the full set, decision persisted to memory.
	first := review.PullRequest{
		Labels:       []string{"force full review"},
		ChangedFiles: []string{"auth/login.py"},
		Summary:      "harden the login flow against replay",
	}
	if _, err := r.Route(ctx, first); err != nil {
		t.Fatal(err)
	}

	// Second run: same diff, no labels. Heuristics alone give
	// [security, quality]; memory adds the rest from the first decision.
	second := review.PullRequest{
		ChangedFiles: []string{"auth/login.py"},
		Summary:      "harden the login flow against replay",
	}
	decision, err := r.Route(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decision.SelectedAgents, review.AgentCategories) {
		t.Fatalf("SelectedAgents = %v, want full set via memory", decision.SelectedAgents)
	}
	if len(decision.MemoryAdded) == 0 {
		t.Fatal("expected MemoryAdded to be recorded")
	}
	for _, c := range decision.MemoryAdded {
		if c == review.CategorySecurity || c == review.CategoryQuality {
			t.Fatalf("memory re-added a heuristic category: %v", decision.MemoryAdded)
		}
	}
}

func TestRoute_MemoryNeverRemoves(t *testing.T) {
	store := testStore(t)
	cfg := testRouterCfg()
	cfg.MemoryMinSimilarity = 0.5
	r := New(store, cfg, "cfg-test", quietLogger(), nil)
	ctx := context.Background()

	// Past decision selected only documentation.
	if _, err := r.Route(ctx, review.PullRequest{
		ChangedFiles: []string{"docs/setup.md"},
		Summary:      "fix flag name in the setup docs",
	}); err != nil {
		t.Fatal(err)
	}

	// Current PR hits security heuristics and matches that past decision.
	decision, err := r.Route(ctx, review.PullRequest{
		ChangedFiles: []string{"auth/token.go"},
		Summary:      "fix flag name in the setup docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range decision.SelectedAgents {
		if c == review.CategorySecurity {
			found = true
		}
	}
	if !found {
		t.Fatalf("memory removed a heuristic category: %v", decision.SelectedAgents)
	}
}

// failingStore simulates an unreadable memory log.
type failingStore struct{}

func (failingStore) Search(context.Context, string, int, float64) ([]memindex.Hit, error) {
	return nil, errors.New("log unreadable")
}

func (failingStore) Save(context.Context, memory.SaveRequest) (review.Record, error) {
	return review.Record{}, errors.New("log unwritable")
}

func TestRoute_DegradesWhenMemoryUnavailable(t *testing.T) {
	r := New(failingStore{}, testRouterCfg(), "cfg-test", quietLogger(), nil)

	decision, err := r.Route(context.Background(), review.PullRequest{
		ChangedFiles: []string{"auth/login.py"},
		Summary:      "login changes",
	})
	if err != nil {
		t.Fatalf("Route must not fail on memory errors: %v", err)
	}
	want := []review.Category{review.CategorySecurity, review.CategoryQuality}
	if !reflect.DeepEqual(decision.SelectedAgents, want) {
		t.Fatalf("SelectedAgents = %v, want %v", decision.SelectedAgents, want)
	}
}

func TestRoute_MaxAgentsCap(t *testing.T) {
	cfg := testRouterCfg()
	cfg.MaxAgents = 2
	r := New(testStore(t), cfg, "cfg-test", quietLogger(), nil)

	decision, err := r.Route(context.Background(), review.PullRequest{
		ChangedFiles: []string{"auth/login.py", "cache/store.go", "docs/api.md", "tests/test_login.py"},
		LinesAdded:   800,
		Summary:      "big mixed change",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(decision.SelectedAgents) != 2 {
		t.Fatalf("cap not applied: %v", decision.SelectedAgents)
	}
	if decision.SelectedAgents[0] != review.CategorySecurity {
		t.Fatalf("cap must keep highest priority first: %v", decision.SelectedAgents)
	}
}
