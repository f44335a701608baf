package channels

import (
	"context"
)

// Notifier delivers review-run outcomes to a messaging platform. Delivery is
// best-effort; a failed notification never affects the review itself.
type Notifier interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Notify sends one message.
	Notify(ctx context.Context, text string) error
}
