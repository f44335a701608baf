package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/embed"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memlog"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/review"
)

// stubEmbedder hashes text to a tiny deterministic vector, or fails on demand.
type stubEmbedder struct {
	mu   sync.Mutex
	fail bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("embedding server unreachable")
	}
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(len(text)), 1}, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func (s *stubEmbedder) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func testStore(t *testing.T, e embed.Embedder) *Store {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := memlog.Open(filepath.Join(dir, "memory", "log.jsonl"), logger)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	ix, err := memindex.Open(filepath.Join(dir, "index.db"), logger)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return New(l, ix, e, logger, bus.New())
}

func TestSaveAndSearch_WithTelemetryAttached(t *testing.T) {
	s := testStore(t, &stubEmbedder{})
	ctx := context.Background()

	p, err := otelPkg.Init(ctx, otelPkg.Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("telemetry init: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	tele, err := otelPkg.NewTelemetry(p)
	if err != nil {
		t.Fatalf("telemetry bundle: %v", err)
	}
	s.SetTelemetry(tele)
	s.SetTelemetry(nil) // nil must not clobber the bundle

	rec, err := s.Save(ctx, SaveRequest{
		Agent:    "security",
		Category: review.CategorySecurity,
		Text:     "unvalidated redirect in login flow",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	hits, err := s.Search(ctx, "unvalidated redirect in login flow", 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != rec.ID {
		t.Fatalf("expected the saved record back, got %+v", hits)
	}
}

func TestSaveThenReadAll_ExactOrder(t *testing.T) {
	s := testStore(t, embed.Disabled{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Save(ctx, SaveRequest{
			Agent:    "security",
			Category: review.CategorySecurity,
			Text:     fmt.Sprintf("finding %d", i),
		})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d records, want 5", len(all))
	}
	for i, rec := range all {
		if rec.Payload.Text != fmt.Sprintf("finding %d", i) {
			t.Fatalf("record %d out of order: %q", i, rec.Payload.Text)
		}
	}
}

func TestSave_RoundTripSearchable(t *testing.T) {
	s := testStore(t, &stubEmbedder{})
	ctx := context.Background()

	rec, err := s.Save(ctx, SaveRequest{
		Agent:    "performance",
		Category: review.CategoryPerformance,
		Text:     "n+1 query in the listing endpoint",
		FilePath: "api/list.py",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(rec.Embedding) != 3 {
		t.Fatalf("expected embedding, got %v", rec.Embedding)
	}

	hits, err := s.Search(ctx, "n+1 query in the listing endpoint", 5, 0.9)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 || hits[0].Record.ID != rec.ID {
		t.Fatalf("saved record not found by its own payload: %v", hits)
	}
	if hits[0].Score < 0.9 {
		t.Fatalf("self-similarity %v below threshold", hits[0].Score)
	}
}

func TestSave_DegradesWhenEmbeddingFails(t *testing.T) {
	e := &stubEmbedder{}
	e.setFail(true)
	s := testStore(t, e)
	ctx := context.Background()

	rec, err := s.Save(ctx, SaveRequest{
		Agent:    "security",
		Category: review.CategorySecurity,
		Text:     "hardcoded token in deploy script",
	})
	if err != nil {
		t.Fatalf("Save must succeed without embedding: %v", err)
	}
	if len(rec.Embedding) != 0 {
		t.Fatalf("expected no embedding, got %v", rec.Embedding)
	}

	hits, err := s.Search(ctx, "hardcoded token", 5, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != rec.ID {
		t.Fatalf("substring fallback failed: %v", hits)
	}
}

func TestSave_DisabledEmbedderStillSearchable(t *testing.T) {
	s := testStore(t, embed.Disabled{})
	ctx := context.Background()

	if _, err := s.Save(ctx, SaveRequest{
		Agent:    "quality",
		Category: review.CategoryQuality,
		Text:     "function too long to review comfortably",
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	hits, err := s.Search(ctx, "too long", 5, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
}

func TestSave_RejectsInvalidInput(t *testing.T) {
	s := testStore(t, embed.Disabled{})
	ctx := context.Background()

	if _, err := s.Save(ctx, SaveRequest{Agent: "x", Category: review.CategoryQuality}); err == nil {
		t.Fatal("expected error for empty text")
	}
	if _, err := s.Save(ctx, SaveRequest{Agent: "x", Category: "vibes", Text: "y"}); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestLazyRebuild_PicksUpPriorProcessRecords(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logPath := filepath.Join(dir, "memory", "log.jsonl")

	// First process saves and exits.
	{
		l, _ := memlog.Open(logPath, logger)
		ix, _ := memindex.Open(filepath.Join(dir, "index1.db"), logger)
		s := New(l, ix, embed.Disabled{}, logger, nil)
		if _, err := s.Save(context.Background(), SaveRequest{
			Agent: "security", Category: review.CategorySecurity, Text: "stale session tokens accepted",
		}); err != nil {
			t.Fatal(err)
		}
		ix.Close()
	}

	// Fresh process, fresh empty index: first search must rebuild from the log.
	l, _ := memlog.Open(logPath, logger)
	ix, _ := memindex.Open(filepath.Join(dir, "index2.db"), logger)
	defer ix.Close()
	s := New(l, ix, embed.Disabled{}, logger, nil)

	hits, err := s.Search(context.Background(), "stale session", 5, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("lazy rebuild missed prior records: %v", hits)
	}
}

func TestConcurrentSaves(t *testing.T) {
	s := testStore(t, &stubEmbedder{})
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Save(ctx, SaveRequest{
				Agent:    "testing",
				Category: review.CategoryTesting,
				Text:     fmt.Sprintf("flaky test %d", i),
			})
			if err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != n {
		t.Fatalf("got %d records, want %d", len(all), n)
	}
}

func TestReset_ClearsLogAndIndex(t *testing.T) {
	s := testStore(t, embed.Disabled{})
	ctx := context.Background()

	if _, err := s.Save(ctx, SaveRequest{Agent: "a", Category: review.CategoryQuality, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("log not cleared: %d records", len(all))
	}
	hits, err := s.Search(ctx, "x", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("index not cleared: %v", hits)
	}
}

func TestBackfill_RepairsDegradedRecords(t *testing.T) {
	e := &stubEmbedder{}
	e.setFail(true)
	s := testStore(t, e)
	ctx := context.Background()

	rec, err := s.Save(ctx, SaveRequest{Agent: "security", Category: review.CategorySecurity, Text: "open redirect"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Embedding) != 0 {
		t.Fatal("expected degraded save")
	}

	e.setFail(false)
	repaired, err := s.Backfill(ctx, 10)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("repaired = %d, want 1", repaired)
	}

	// Now a vector query should reach the record.
	hits, err := s.Search(ctx, "open redirect", 5, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("backfilled record not searchable by vector: %v", hits)
	}
}
