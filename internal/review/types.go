// Package review defines the shared data model of the review-memory system:
// memory records, routing decisions, and the pull request inputs the router
// consumes.
package review

import (
	"encoding/json"
	"time"
)

// Category tags a memory record and names the reviewer agent responsible for it.
type Category string

const (
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryArchitecture  Category = "architecture"
	CategoryQuality       Category = "quality"
	CategoryDocumentation Category = "documentation"
	CategoryTesting       Category = "testing"

	// CategoryRouting tags records written by the router itself.
	CategoryRouting Category = "routing-decision"
	// CategorySummary tags executive synthesis records.
	CategorySummary Category = "summary"
)

// AgentCategories lists the categories that map to reviewer agents, in the
// fixed priority order used for every selected agent set. Report generation
// downstream depends on this order being stable.
var AgentCategories = []Category{
	CategorySecurity,
	CategoryPerformance,
	CategoryArchitecture,
	CategoryQuality,
	CategoryDocumentation,
	CategoryTesting,
}

// ValidCategory reports whether c is a known category tag.
func ValidCategory(c Category) bool {
	switch c {
	case CategorySecurity, CategoryPerformance, CategoryArchitecture,
		CategoryQuality, CategoryDocumentation, CategoryTesting,
		CategoryRouting, CategorySummary:
		return true
	}
	return false
}

// SortByPriority returns the subset of AgentCategories present in cats,
// deduplicated, in priority order. Unknown categories are dropped.
func SortByPriority(cats []Category) []Category {
	present := make(map[Category]bool, len(cats))
	for _, c := range cats {
		present[c] = true
	}
	var out []Category
	for _, c := range AgentCategories {
		if present[c] {
			out = append(out, c)
		}
	}
	return out
}

// Payload is the structured content of a memory record. Text is always set;
// the machine-checkable fields are optional and depend on the record kind.
type Payload struct {
	Text     string `json:"text"`
	FilePath string `json:"file_path,omitempty"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity,omitempty"`

	// Decision carries the routing decision for routing-decision records.
	Decision *RoutingDecision `json:"decision,omitempty"`
}

// Record is one immutable unit of persisted review knowledge.
// Once appended to the log a record is never edited; corrections are new
// records referencing the original through RefID.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	SourceRunID string    `json:"source_run_id"`
	AgentName   string    `json:"agent_name"`
	Category    Category  `json:"category"`
	Payload     Payload   `json:"payload"`

	// Embedding is absent when vector generation failed or was disabled.
	// Such records are still durable and fall back to substring search.
	Embedding []float32 `json:"embedding,omitempty"`

	// RefID points at an earlier record this one corrects or amends.
	RefID string `json:"ref_id,omitempty"`
}

// MarshalLine renders the record as a single JSON line for the append log.
func (r Record) MarshalLine() ([]byte, error) {
	return json.Marshal(r)
}

// RoutingDecision is the router's output for one pull request. It is derived
// state, persisted only by being logged as a routing-decision Record.
type RoutingDecision struct {
	RequestedLabels    []string   `json:"requested_labels"`
	InferredCategories []Category `json:"inferred_categories"`
	SelectedAgents     []Category `json:"selected_agents"`

	// MemoryAdded lists categories contributed by similarity search over
	// past runs, a subset of SelectedAgents.
	MemoryAdded []Category `json:"memory_added,omitempty"`

	// ConfigFingerprint identifies the router tuning active for this decision.
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
}

// PullRequest is the router's input, supplied by the CI orchestration layer.
type PullRequest struct {
	Number       int      `json:"number"`
	Title        string   `json:"title"`
	Labels       []string `json:"labels"`
	ChangedFiles []string `json:"changed_files"`
	LinesAdded   int      `json:"lines_added"`
	LinesDeleted int      `json:"lines_deleted"`

	// Summary is a short free-text description of the diff, used as the
	// similarity query against memory.
	Summary string `json:"summary"`
}

// DiffSize returns the total changed line count.
func (pr PullRequest) DiffSize() int {
	return pr.LinesAdded + pr.LinesDeleted
}

// Finding is a single issue produced by a reviewer agent.
type Finding struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
	FilePath string   `json:"file_path,omitempty"`
	Line     int      `json:"line,omitempty"`
	Severity string   `json:"severity,omitempty"` // "low", "medium", "high", "critical"
}
