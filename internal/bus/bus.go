package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"healthbot/internal/domain"
)

const (
	inboundBufferSize = 100
	publishTimeout    = 10 * time.Second
)

// InMemoryBus is a channel-based implementation of domain.MessageBus for a
// single-process deployment.
type InMemoryBus struct {
	inbound   chan domain.InboundMessage
	outbound  map[string]domain.OutboundHandler
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	logger    *slog.Logger
}

func NewInMemoryBus(logger *slog.Logger) *InMemoryBus {
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, inboundBufferSize),
		outbound: make(map[string]domain.OutboundHandler),
		logger:   logger,
	}
}

// Publish enqueues an inbound turn. When the buffer is full it waits up to
// publishTimeout before giving up.
func (b *InMemoryBus) Publish(ctx context.Context, msg domain.InboundMessage) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.RUnlock()

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("inbound buffer full, waiting", "channel", msg.Channel)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-timer.C:
		return fmt.Errorf("publish timed out after %s", publishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound routes a reply to the handler registered for its channel.
func (b *InMemoryBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.RLock()
	handler, ok := b.outbound[msg.Channel]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no outbound handler for channel %q", msg.Channel)
	}
	handler(ctx, msg)
	return nil
}

func (b *InMemoryBus) OnOutbound(channel string, handler domain.OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound[channel] = handler
}

func (b *InMemoryBus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.inbound)
		b.logger.Debug("message bus closed")
	})
	return nil
}
