package domain

import "context"

// Channel is a user-facing transport (web, CLI, Telegram, WebSocket).
type Channel interface {
	// Name returns the channel identifier used in message routing.
	Name() string

	// Start begins serving. Blocks until ctx is cancelled or a fatal error.
	Start(ctx context.Context) error

	// Stop shuts the channel down gracefully.
	Stop(ctx context.Context) error
}
