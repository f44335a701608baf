// Package memlog implements the append log: an ordered, crash-safe JSONL file
// of memory records, committed to version control as the single source of
// truth. Lines are only ever added at the end, which keeps concurrent-run
// merge conflicts line-additive and union-mergeable.
package memlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/review"
)

// maxLineBytes bounds a single log line during replay. Embedded vectors make
// lines large but a line past this size is treated as corrupt.
const maxLineBytes = 10 << 20

// recordSchema validates replayed log lines. Fields beyond these are allowed
// so newer writers stay readable by older readers.
const recordSchema = `{
	"type": "object",
	"required": ["id", "timestamp", "agent_name", "category", "payload"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string"},
		"source_run_id": {"type": "string"},
		"agent_name": {"type": "string", "minLength": 1},
		"category": {"type": "string", "minLength": 1},
		"payload": {
			"type": "object",
			"required": ["text"],
			"properties": {
				"text": {"type": "string"}
			}
		},
		"embedding": {
			"type": "array",
			"items": {"type": "number"}
		},
		"ref_id": {"type": "string"}
	}
}`

// Log is a JSONL append log. Append is safe for concurrent use within one
// process; cross-process sharing is handled at the version-control layer.
type Log struct {
	path   string
	logger *slog.Logger
	schema *jsonschema.Schema
	tele   *otelPkg.Telemetry

	mu sync.Mutex
}

// Open prepares the append log at path, creating parent directories. The log
// file itself is created on first append.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("record.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Log{path: path, logger: logger, schema: schema, tele: otelPkg.NopTelemetry()}, nil
}

// SetTelemetry replaces the log's instruments.
func (l *Log) SetTelemetry(tele *otelPkg.Telemetry) {
	if tele != nil {
		l.tele = tele
	}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record as a single line at the end of the log. The record
// is durable only once Append returns nil. Prior content is never rewritten.
func (l *Log) Append(rec review.Record) error {
	line, err := rec.MarshalLine()
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	if err := l.validateLine(line); err != nil {
		return fmt.Errorf("record %s fails schema: %w", rec.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	// One Write call per record so the O_APPEND write lands as a unit.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record %s: %w", rec.ID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}

// Each streams records in file order. Corrupt or schema-invalid lines are
// skipped with a warning; the walk continues. Returning an error from fn
// stops the walk and propagates the error.
func (l *Log) Each(fn func(review.Record) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := l.validateLine(line); err != nil {
			l.logger.Warn("skipping corrupt log line", "line", lineNo, "error", err)
			l.tele.Metrics.CorruptLogLines.Add(context.Background(), 1)
			continue
		}
		var rec review.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			l.logger.Warn("skipping unparseable log line", "line", lineNo, "error", err)
			l.tele.Metrics.CorruptLogLines.Add(context.Background(), 1)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan log: %w", err)
	}
	return nil
}

// All reads the whole log into memory, in file order, skipping corrupt lines.
func (l *Log) All() ([]review.Record, error) {
	var out []review.Record
	err := l.Each(func(rec review.Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Count returns the number of valid records in the log.
func (l *Log) Count() (int, error) {
	n := 0
	err := l.Each(func(review.Record) error {
		n++
		return nil
	})
	return n, err
}

// Reset removes the log file entirely. Destructive; only the administrative
// reset path calls this.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

func (l *Log) validateLine(line []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(line)))
	if err != nil {
		return err
	}
	return l.schema.Validate(doc)
}
