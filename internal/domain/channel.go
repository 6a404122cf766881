package domain

import "context"

// Channel is the interface for message ingress (Telegram, webhook, CLI).
type Channel interface {
	Name() string
	// Start runs the channel until ctx is cancelled.
	Start(ctx context.Context, bus MessageBus) error
	// Send delivers a reply to one chat. Channels register it as their
	// outbound handler on the bus.
	Send(ctx context.Context, chatID string, content string) error
}
