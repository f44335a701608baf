// Package memory is the façade over the append log and local index: the only
// interface the rest of the system uses to persist and recall review
// knowledge. The log is the source of truth; the index is rebuilt lazily on
// first use each process and kept current incrementally after that.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/embed"
	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/memlog"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/review"
	"github.com/basket/revclaw/internal/shared"
)

// SaveRequest describes one unit of knowledge to persist.
type SaveRequest struct {
	Agent    string
	Category review.Category
	Text     string
	FilePath string
	Line     int
	Severity string

	// RefID points at an earlier record this one corrects.
	RefID string

	// Decision is set only for routing-decision records.
	Decision *review.RoutingDecision
}

// Store combines the append log and local index behind save/search/reset.
// All methods are safe for concurrent use within one process.
type Store struct {
	log      *memlog.Log
	index    *memindex.Index
	embedder embed.Embedder
	logger   *slog.Logger
	events   *bus.Bus
	tele     *otelPkg.Telemetry

	mu      sync.Mutex
	rebuilt bool
}

// New builds a Store. events may be nil.
func New(log *memlog.Log, index *memindex.Index, embedder embed.Embedder, logger *slog.Logger, events *bus.Bus) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		embedder = embed.Disabled{}
	}
	return &Store{
		log:      log,
		index:    index,
		embedder: embedder,
		logger:   logger,
		events:   events,
		tele:     otelPkg.NopTelemetry(),
	}
}

// SetTelemetry replaces the store's tracer and instruments.
func (s *Store) SetTelemetry(tele *otelPkg.Telemetry) {
	if tele != nil {
		s.tele = tele
	}
}

// Save constructs a record, appends it to the log, and inserts it into the
// index so it is searchable within the same run. The record is durable once
// Save returns nil; embedding failure degrades the record to substring
// search but never blocks the save.
func (s *Store) Save(ctx context.Context, req SaveRequest) (review.Record, error) {
	ctx, span := s.tele.Span(ctx, "memory.save",
		otelPkg.AttrAgentName.String(req.Agent),
		otelPkg.AttrCategory.String(string(req.Category)))
	defer span.End()

	if err := s.ensureRebuilt(ctx); err != nil {
		return review.Record{}, err
	}
	if req.Text == "" {
		return review.Record{}, errors.New("save: empty text")
	}
	if !review.ValidCategory(req.Category) {
		return review.Record{}, fmt.Errorf("save: unknown category %q", req.Category)
	}

	rec := review.Record{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		SourceRunID: shared.RunID(ctx),
		AgentName:   req.Agent,
		Category:    req.Category,
		Payload: review.Payload{
			Text:     req.Text,
			FilePath: req.FilePath,
			Line:     req.Line,
			Severity: req.Severity,
			Decision: req.Decision,
		},
		RefID: req.RefID,
	}

	vec, err := s.embedder.Embed(ctx, req.Text)
	switch {
	case err == nil:
		rec.Embedding = vec
	case errors.Is(err, embed.ErrDisabled):
		// Expected in substring-only mode, not worth a warning.
	default:
		s.logger.Warn("embedding failed, saving without vector",
			"agent", req.Agent, "error", err)
		s.tele.Metrics.EmbedFailures.Add(ctx, 1)
		s.publish(bus.TopicMemoryDegraded, bus.RecordSavedEvent{
			RecordID: rec.ID, Agent: req.Agent, Category: string(req.Category),
		})
	}

	if err := s.log.Append(rec); err != nil {
		return review.Record{}, fmt.Errorf("append record: %w", err)
	}

	// The record is already durable; an index miss heals on next rebuild.
	if err := s.index.Insert(ctx, rec); err != nil {
		s.logger.Warn("index insert failed, record durable but not searchable this run",
			"id", rec.ID, "error", err)
	}

	span.SetAttributes(otelPkg.AttrRecordID.String(rec.ID))
	s.tele.Metrics.RecordsSaved.Add(ctx, 1)
	s.publish(bus.TopicRecordSaved, bus.RecordSavedEvent{
		RecordID: rec.ID,
		Agent:    req.Agent,
		Category: string(req.Category),
		Embedded: len(rec.Embedding) > 0,
	})
	return rec, nil
}

// Search returns up to limit records similar to query, filtered to scores at
// or above threshold. When embedding is unavailable the search degrades to
// substring matching.
func (s *Store) Search(ctx context.Context, query string, limit int, threshold float64) ([]memindex.Hit, error) {
	ctx, span := s.tele.Span(ctx, "memory.search",
		otelPkg.AttrQueryLength.Int(len(query)))
	defer span.End()
	start := time.Now()

	if err := s.ensureRebuilt(ctx); err != nil {
		return nil, err
	}

	var queryVec []float32
	vec, err := s.embedder.Embed(ctx, query)
	if err == nil {
		queryVec = vec
	} else if !errors.Is(err, embed.ErrDisabled) {
		s.logger.Warn("query embedding failed, falling back to substring search", "error", err)
		s.tele.Metrics.EmbedFailures.Add(ctx, 1)
	}

	hits, err := s.index.Search(ctx, query, queryVec, limit, threshold)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(otelPkg.AttrResultCount.Int(len(hits)))
	s.tele.Metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
	return hits, nil
}

// All returns every record in log order. Used by export and the browser.
func (s *Store) All() ([]review.Record, error) {
	return s.log.All()
}

// Reset clears both the append log and the local index. Destructive and
// human-invoked only; ordinary review runs never call this.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Reset(); err != nil {
		return err
	}
	if err := s.index.Reset(ctx); err != nil {
		return err
	}
	s.rebuilt = true // both sides now empty and consistent
	return nil
}

// Backfill re-embeds up to limit records that were saved without a vector.
// Repaired vectors live only in the index; the log keeps the original
// records untouched (append-only).
func (s *Store) Backfill(ctx context.Context, limit int) (int, error) {
	if err := s.ensureRebuilt(ctx); err != nil {
		return 0, err
	}

	missing, err := s.index.Missing(ctx, limit)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, rec := range missing {
		vec, err := s.embedder.Embed(ctx, rec.Payload.Text)
		if err != nil {
			if errors.Is(err, embed.ErrDisabled) {
				return repaired, nil
			}
			s.logger.Warn("backfill embed failed", "id", rec.ID, "error", err)
			continue
		}
		rec.Embedding = vec
		if err := s.index.Insert(ctx, rec); err != nil {
			s.logger.Warn("backfill insert failed", "id", rec.ID, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// Rebuild forces a full index rebuild from the log, regardless of lazy state.
// The watcher calls this when the log file changes underneath a live process.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Store) ensureRebuilt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebuilt {
		return nil
	}
	return s.rebuildLocked(ctx)
}

func (s *Store) rebuildLocked(ctx context.Context) error {
	records, err := s.log.All()
	if err != nil {
		return fmt.Errorf("read log for rebuild: %w", err)
	}
	if err := s.index.Rebuild(ctx, records); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	s.tele.Metrics.IndexRebuilds.Add(ctx, 1)
	s.rebuilt = true
	s.logger.Debug("index rebuilt", "records", len(records))
	return nil
}

func (s *Store) publish(topic string, payload interface{}) {
	if s.events != nil {
		s.events.Publish(topic, payload)
	}
}
