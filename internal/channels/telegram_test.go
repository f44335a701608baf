package channels

import (
	"strings"
	"testing"

	"github.com/basket/revclaw/internal/bus"
)

func TestRunSummary_OrdersByPriority(t *testing.T) {
	decision := bus.RouteDecidedEvent{
		SelectedAgents: []string{"security", "quality"},
		FromMemory:     []string{"quality"},
	}
	results := map[string]int{"quality": 3, "security": 1}
	msg := RunSummary(42, decision, results, bus.PushEvent{Commit: "abcdef1234567"})

	if !strings.Contains(msg, "PR #42") {
		t.Fatalf("missing PR number: %s", msg)
	}
	secIdx := strings.Index(msg, "security: 1")
	qualIdx := strings.Index(msg, "quality: 3")
	if secIdx < 0 || qualIdx < 0 || secIdx > qualIdx {
		t.Fatalf("categories out of priority order: %s", msg)
	}
	if !strings.Contains(msg, "Total: 4 findings") {
		t.Fatalf("bad total: %s", msg)
	}
	if !strings.Contains(msg, "(abcdef1)") {
		t.Fatalf("commit SHA not shortened: %s", msg)
	}
}

func TestRunSummary_PushFailure(t *testing.T) {
	msg := RunSummary(1, bus.RouteDecidedEvent{SelectedAgents: []string{"security"}}, nil,
		bus.PushEvent{Err: "remote rejected"})
	if !strings.Contains(msg, "NOT persisted") {
		t.Fatalf("push failure not surfaced: %s", msg)
	}
}

func TestTelegramNotifier_Name(t *testing.T) {
	n := NewTelegramNotifier("token", []int64{1}, nil)
	if n.Name() != "telegram" {
		t.Fatalf("Name = %q", n.Name())
	}
}
