// Package memindex implements the local index: a derived, disposable SQLite
// database over the append log supporting similarity search. The index is
// never the source of truth; it is rebuilt from the log at process start and
// can be deleted at any time without losing memory.
package memindex

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/revclaw/internal/review"
)

// Hit is a search result: a record plus its similarity score.
type Hit struct {
	Record review.Record
	Score  float64
}

// Index is a disposable SQLite index over memory records.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the index database at path.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{db: db, logger: logger}
	if err := ix.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) init(ctx context.Context) error {
	// synchronous=NORMAL is enough: the index is derived state, a crash
	// costs nothing that a rebuild cannot restore.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragmas {
		if _, err := ix.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	_, err := ix.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			agent_name TEXT NOT NULL,
			category TEXT NOT NULL,
			payload TEXT NOT NULL,
			payload_text TEXT NOT NULL,
			embedding BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
		CREATE INDEX IF NOT EXISTS idx_records_ts ON records(ts);
	`)
	if err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Rebuild drops all indexed state and re-inserts the given records. Running
// it twice on the same input yields identical query results.
func (ix *Index) Rebuild(ctx context.Context, records []review.Record) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	for _, rec := range records {
		if err := insertTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// Insert adds one record so it is searchable immediately, without a rebuild.
// Re-inserting an id replaces the row, keeping the index convergent with the
// log under replays.
func (ix *Index) Insert(ctx context.Context, rec review.Record) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTx(ctx context.Context, tx *sql.Tx, rec review.Record) error {
	full, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	var blob []byte
	if len(rec.Embedding) > 0 {
		blob = encodeVector(rec.Embedding)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO records (id, ts, agent_name, category, payload, payload_text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.AgentName, string(rec.Category),
		string(full), strings.ToLower(rec.Payload.Text), blob,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Search returns up to k records ranked by similarity to the query, filtered
// to scores >= minScore. Records with embeddings are scored by cosine
// similarity against queryVec; records without one (or when queryVec is nil)
// fall back to case-insensitive substring matching over the payload text.
// Ordering is deterministic: score descending, then most recent timestamp,
// then id.
func (ix *Index) Search(ctx context.Context, query string, queryVec []float32, k int, minScore float64) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx,
		"SELECT payload, payload_text, embedding, ts, id FROM records")
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(strings.TrimSpace(query))
	var hits []Hit
	for rows.Next() {
		var (
			full string
			text string
			blob []byte
			ts   int64
			id   string
		)
		if err := rows.Scan(&full, &text, &blob, &ts, &id); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		score, ok := scoreRecord(needle, queryVec, text, blob)
		if !ok || score < minScore {
			continue
		}

		var rec review.Record
		if err := json.Unmarshal([]byte(full), &rec); err != nil {
			ix.logger.Warn("dropping undecodable index row", "id", id, "error", err)
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ti, tj := hits[i].Record.Timestamp, hits[j].Record.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// scoreRecord computes the similarity of one indexed row to the query. The
// bool result is false when the row matches neither path.
func scoreRecord(needle string, queryVec []float32, text string, blob []byte) (float64, bool) {
	if len(queryVec) > 0 && len(blob) > 0 {
		vec, err := decodeVector(blob)
		if err == nil && len(vec) == len(queryVec) {
			return Cosine(queryVec, vec), true
		}
		// Dimension mismatch or garbage blob: fall through to substring.
	}
	if needle == "" {
		return 0, false
	}
	if strings.Contains(text, needle) {
		// Substring matches carry full score so degraded records are
		// still surfaced ahead of weak vector matches.
		return 1.0, true
	}
	return 0, false
}

// Reset drops all indexed state. The append log is untouched.
func (ix *Index) Reset(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return nil
}

// Count returns the number of indexed records.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Missing returns records that have no embedding, oldest first, capped at
// limit. The backfill scheduler uses this to find degraded saves to repair.
func (ix *Index) Missing(ctx context.Context, limit int) ([]review.Record, error) {
	if limit <= 0 {
		limit = -1 // no cap
	}
	rows, err := ix.db.QueryContext(ctx,
		"SELECT payload FROM records WHERE embedding IS NULL ORDER BY ts ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query missing embeddings: %w", err)
	}
	defer rows.Close()

	var out []review.Record
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec review.Record
		if err := json.Unmarshal([]byte(full), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Cosine returns the cosine similarity of two equal-length vectors, in [-1, 1].
// Zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	return v, nil
}
