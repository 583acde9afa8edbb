package domain

import "context"

// OutboundHandler receives replies destined for a specific channel.
type OutboundHandler func(ctx context.Context, msg OutboundMessage)

// MessageBus decouples channels from the turn pipeline.
type MessageBus interface {
	// Publish delivers an inbound user turn to the pipeline.
	Publish(ctx context.Context, msg InboundMessage) error

	// Subscribe returns the stream of inbound turns.
	Subscribe() <-chan InboundMessage

	// SendOutbound routes a reply to the handler registered for its channel.
	SendOutbound(ctx context.Context, msg OutboundMessage) error

	// OnOutbound registers the reply handler for a channel name.
	OnOutbound(channel string, handler OutboundHandler)

	// Close shuts the bus down. Publish after Close is an error.
	Close() error
}
