// Package guard persists append log changes back to the shared repository
// without re-triggering the CI pipeline that produced them. Every commit it
// creates carries a skip-CI marker checked by the trigger gate upstream.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/config"
	otelPkg "github.com/basket/revclaw/internal/otel"
	"github.com/basket/revclaw/internal/shared"
)

// GitRunner executes one git command in a repository and returns its combined
// output. Injectable so tests run without a repository or network.
type GitRunner interface {
	Git(ctx context.Context, repoDir string, args ...string) (string, error)
}

// ExecRunner runs git via os/exec.
type ExecRunner struct{}

func (ExecRunner) Git(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Outcome reports what a Persist call did.
type Outcome struct {
	Committed bool
	Pushed    bool
	Retried   bool
	CommitSHA string
}

// Guard commits and pushes the append log.
type Guard struct {
	git     GitRunner
	repoDir string
	logRel  string // log path relative to the repository root
	cfg     config.GuardConfig
	logger  *slog.Logger
	events  *bus.Bus
	tele    *otelPkg.Telemetry
}

// New builds a Guard. git defaults to ExecRunner; events may be nil.
func New(git GitRunner, repoDir, logRel string, cfg config.GuardConfig, logger *slog.Logger, events *bus.Bus) *Guard {
	if git == nil {
		git = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{git: git, repoDir: repoDir, logRel: logRel, cfg: cfg, logger: logger, events: events, tele: otelPkg.NopTelemetry()}
}

// SetTelemetry replaces the guard's tracer and instruments.
func (g *Guard) SetTelemetry(tele *otelPkg.Telemetry) {
	if tele != nil {
		g.tele = tele
	}
}

// HasPendingChanges reports whether the log file differs from HEAD.
func (g *Guard) HasPendingChanges(ctx context.Context) (bool, error) {
	out, err := g.git.Git(ctx, g.repoDir, "status", "--porcelain", "--", g.logRel)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Persist commits the log file with the skip-CI marker and pushes. With no
// pending changes it is a no-op: no commit, no push. A rejected push is
// retried after fetch and rebase, up to PushRetries times; exhausting the
// budget is reported in the outcome but best-effort, the caller must not
// fail the review over it.
func (g *Guard) Persist(ctx context.Context) (Outcome, error) {
	var out Outcome
	ctx, span := g.tele.Span(ctx, "guard.persist")
	defer span.End()

	pending, err := g.HasPendingChanges(ctx)
	if err != nil {
		return out, fmt.Errorf("check pending changes: %w", err)
	}
	if !pending {
		g.logger.Debug("no memory changes to persist")
		g.publish(bus.TopicMemoryPushSkip, bus.PushEvent{RunID: shared.RunID(ctx)})
		return out, nil
	}

	if _, err := g.git.Git(ctx, g.repoDir, "add", "--", g.logRel); err != nil {
		return out, fmt.Errorf("stage log: %w", err)
	}

	message := fmt.Sprintf("chore: update review memory %s", g.cfg.SkipCIMarker)
	commitArgs := []string{
		"-c", "user.name=" + g.cfg.AuthorName,
		"-c", "user.email=" + g.cfg.AuthorEmail,
		"commit", "-m", message, "--", g.logRel,
	}
	if _, err := g.git.Git(ctx, g.repoDir, commitArgs...); err != nil {
		return out, fmt.Errorf("commit log: %w", err)
	}
	out.Committed = true

	if sha, err := g.git.Git(ctx, g.repoDir, "rev-parse", "HEAD"); err == nil {
		out.CommitSHA = strings.TrimSpace(sha)
	}
	span.SetAttributes(otelPkg.AttrCommitSHA.String(out.CommitSHA))

	pushErr := g.push(ctx)
	if pushErr == nil {
		out.Pushed = true
		g.logger.Info("memory persisted", "commit", out.CommitSHA)
		g.publish(bus.TopicMemoryPushed, bus.PushEvent{RunID: shared.RunID(ctx), Commit: out.CommitSHA})
		return out, nil
	}

	// Another run pushed first. Replay our one commit on top of theirs; the
	// log is append-only so the rebase is conflict-free in practice.
	for attempt := 1; attempt <= g.cfg.PushRetries; attempt++ {
		g.logger.Warn("push rejected, fetching and rebasing",
			"attempt", attempt, "retries", g.cfg.PushRetries, "error", pushErr)
		out.Retried = true
		g.tele.Metrics.PushRetries.Add(ctx, 1)

		if pushErr = g.rebaseAndRetry(ctx); pushErr == nil {
			out.Pushed = true
			if sha, err := g.git.Git(ctx, g.repoDir, "rev-parse", "HEAD"); err == nil {
				out.CommitSHA = strings.TrimSpace(sha)
			}
			span.SetAttributes(otelPkg.AttrCommitSHA.String(out.CommitSHA))
			g.logger.Info("memory persisted after retry", "commit", out.CommitSHA, "attempt", attempt)
			g.publish(bus.TopicMemoryPushed, bus.PushEvent{
				RunID: shared.RunID(ctx), Commit: out.CommitSHA, Retried: true,
			})
			return out, nil
		}
	}

	g.tele.Metrics.PushFailures.Add(ctx, 1)
	g.logger.Error("memory not persisted this run", "error", pushErr)
	g.publish(bus.TopicMemoryPushFail, bus.PushEvent{
		RunID: shared.RunID(ctx), Commit: out.CommitSHA, Retried: out.Retried, Err: pushErr.Error(),
	})
	return out, nil
}

func (g *Guard) push(ctx context.Context) error {
	ctx, span := g.tele.ClientSpan(ctx, "git.push")
	defer span.End()
	args := []string{"push", g.cfg.Remote}
	if g.cfg.Branch != "" {
		args = append(args, "HEAD:"+g.cfg.Branch)
	}
	_, err := g.git.Git(ctx, g.repoDir, args...)
	return err
}

func (g *Guard) rebaseAndRetry(ctx context.Context) error {
	if _, err := g.git.Git(ctx, g.repoDir, "fetch", g.cfg.Remote); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	branch := g.cfg.Branch
	if branch == "" {
		out, err := g.git.Git(ctx, g.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return fmt.Errorf("resolve branch: %w", err)
		}
		branch = strings.TrimSpace(out)
	}
	if _, err := g.git.Git(ctx, g.repoDir, "rebase", g.cfg.Remote+"/"+branch); err != nil {
		// Leave the tree usable; the commit survives locally either way.
		_, _ = g.git.Git(ctx, g.repoDir, "rebase", "--abort")
		return fmt.Errorf("rebase: %w", err)
	}
	if err := g.push(ctx); err != nil {
		return fmt.Errorf("push after rebase: %w", err)
	}
	return nil
}

func (g *Guard) publish(topic string, payload interface{}) {
	if g.events != nil {
		g.events.Publish(topic, payload)
	}
}
