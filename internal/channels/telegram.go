package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/revclaw/internal/bus"
	"github.com/basket/revclaw/internal/review"
)

// TelegramNotifier sends run summaries to a fixed set of chats. It is
// send-only: the review pipeline has no inbound command surface.
type TelegramNotifier struct {
	token   string
	chatIDs []int64
	logger  *slog.Logger
	bot     *tgbotapi.BotAPI
}

// NewTelegramNotifier creates a notifier for the given chats.
func NewTelegramNotifier(token string, chatIDs []int64, logger *slog.Logger) *TelegramNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramNotifier{token: token, chatIDs: chatIDs, logger: logger}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// Notify sends text to every configured chat. Partial failure is logged per
// chat and the first error is returned.
func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if t.bot == nil {
		bot, err := tgbotapi.NewBotAPI(t.token)
		if err != nil {
			return fmt.Errorf("telegram init failed: %w", err)
		}
		t.bot = bot
	}

	var firstErr error
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunSummary renders one run's events into a notification message.
func RunSummary(prNumber int, decision bus.RouteDecidedEvent, results map[string]int, push bus.PushEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review of PR #%d finished.\n", prNumber)
	fmt.Fprintf(&b, "Agents: %s\n", strings.Join(decision.SelectedAgents, ", "))
	if len(decision.FromMemory) > 0 {
		fmt.Fprintf(&b, "Added from memory: %s\n", strings.Join(decision.FromMemory, ", "))
	}

	total := 0
	for _, cat := range review.AgentCategories {
		if n, ok := results[string(cat)]; ok {
			fmt.Fprintf(&b, "- %s: %d findings\n", cat, n)
			total += n
		}
	}
	fmt.Fprintf(&b, "Total: %d findings.\n", total)

	switch {
	case push.Err != "":
		b.WriteString("Memory NOT persisted this run.")
	case push.Commit != "":
		fmt.Fprintf(&b, "Memory persisted (%s).", shortSHA(push.Commit))
	default:
		b.WriteString("No new memory to persist.")
	}
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
