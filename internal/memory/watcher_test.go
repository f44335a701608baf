package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/revclaw/internal/embed"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memlog"
	"github.com/basket/revclaw/internal/review"
)

func TestWatcher_RebuildsOnExternalAppend(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logPath := filepath.Join(dir, "memory", "log.jsonl")

	l, err := memlog.Open(logPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	ix, err := memindex.Open(filepath.Join(dir, "index.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()

	store := New(l, ix, embed.Disabled{}, logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prime the lazy rebuild so the watcher's rebuild is observable.
	if _, err := store.Search(ctx, "anything", 1, 0); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(store, logPath, logger)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Another process (a second log handle) appends behind our back.
	other, err := memlog.Open(logPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	err = other.Append(review.Record{
		ID:          "external-1",
		Timestamp:   time.Now().UTC(),
		SourceRunID: "run-other",
		AgentName:   "security",
		Category:    review.CategorySecurity,
		Payload:     review.Payload{Text: "csrf token missing on delete form"},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the external append")
	}

	hits, err := store.Search(ctx, "csrf token", 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Record.ID != "external-1" {
		t.Fatalf("external record not searchable after rebuild: %v", hits)
	}
}
