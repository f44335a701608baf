package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/revclaw/internal/memindex"
	"github.com/basket/revclaw/internal/review"
)

// categoryInstructions is the per-agent focus, injected into the system prompt.
var categoryInstructions = map[review.Category]string{
	review.CategorySecurity:      "Focus on vulnerabilities: injection, authentication and session flaws, secrets in code, unsafe deserialization, missing authorization checks.",
	review.CategoryPerformance:   "Focus on performance: N+1 queries, unbounded allocations, missing caching, needless work in hot paths, blocking calls in concurrent code.",
	review.CategoryArchitecture:  "Focus on structure: layering violations, leaky abstractions, coupling introduced by this change, API surface growth, schema and migration risks.",
	review.CategoryQuality:       "Focus on correctness and readability: error handling gaps, off-by-one risks, dead code, misleading names, overlong functions.",
	review.CategoryDocumentation: "Focus on documentation: stale comments, missing doc updates for changed behavior, unclear public API docs.",
	review.CategoryTesting:       "Focus on tests: untested branches in the diff, brittle assertions, missing edge cases, flakiness risks.",
}

// Reviewer is one specialized review agent. It satisfies the orchestrator's
// Agent interface.
type Reviewer struct {
	brain     Brain
	category  review.Category
	validator *FindingsValidator
	logger    *slog.Logger
}

// NewReviewer builds an agent for the given category.
func NewReviewer(brain Brain, category review.Category, logger *slog.Logger) (*Reviewer, error) {
	if _, ok := categoryInstructions[category]; !ok {
		return nil, fmt.Errorf("no reviewer agent for category %q", category)
	}
	validator, err := NewFindingsValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{brain: brain, category: category, validator: validator, logger: logger}, nil
}

// Name returns the agent's identifier, equal to its category tag.
func (r *Reviewer) Name() string {
	return string(r.category)
}

// Review analyzes the pull request and returns findings. Past similar
// findings from memory are offered to the model as context. Findings the
// model tags with a foreign category are re-tagged to this agent's own, so
// one agent cannot pollute another's lane.
func (r *Reviewer) Review(ctx context.Context, pr review.PullRequest, past []memindex.Hit) ([]review.Finding, error) {
	raw, err := r.brain.Generate(ctx, r.systemPrompt(), r.userPrompt(pr, past))
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", r.Name(), err)
	}

	findings, err := r.validator.Parse(raw)
	if err != nil {
		// One re-ask with the validation error; a second malformed answer fails the agent.
		r.logger.Warn("agent output invalid, re-asking", "agent", r.Name(), "error", err)
		reask := fmt.Sprintf(
			"Your previous response was not a valid findings array (%v). "+
				"Respond again with ONLY the JSON array, no prose.", err)
		raw, err = r.brain.Generate(ctx, r.systemPrompt(), reask)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", r.Name(), err)
		}
		findings, err = r.validator.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", r.Name(), err)
		}
	}

	for i := range findings {
		if findings[i].Category != r.category {
			findings[i].Category = r.category
		}
		if findings[i].Severity == "" {
			findings[i].Severity = "medium"
		}
	}
	r.logger.Debug("agent finished", "agent", r.Name(), "findings", len(findings))
	return findings, nil
}

func (r *Reviewer) systemPrompt() string {
	return fmt.Sprintf(
		"You are the %s reviewer in an automated code review pipeline. %s\n"+
			"Respond with ONLY a JSON array of findings. Each finding: "+
			`{"text": string, "file_path": string, "line": integer, "severity": "low"|"medium"|"high"|"critical"}. `+
			"Return [] when there is nothing worth reporting.",
		r.category, categoryInstructions[r.category])
}

func (r *Reviewer) userPrompt(pr review.PullRequest, past []memindex.Hit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pull request #%d: %s\n", pr.Number, pr.Title)
	if pr.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", pr.Summary)
	}
	fmt.Fprintf(&b, "Diff size: +%d/-%d lines\n", pr.LinesAdded, pr.LinesDeleted)
	b.WriteString("Changed files:\n")
	for _, f := range pr.ChangedFiles {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	relevant := 0
	for _, hit := range past {
		if hit.Record.Category != r.category {
			continue
		}
		if relevant == 0 {
			b.WriteString("\nRelated findings from earlier reviews of similar changes:\n")
		}
		fmt.Fprintf(&b, "- %s\n", hit.Record.Payload.Text)
		relevant++
		if relevant == 5 {
			break
		}
	}
	return b.String()
}
