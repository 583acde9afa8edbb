package turn

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthbot/internal/domain"
)

// PipelineConfig holds pipeline settings.
type PipelineConfig struct {
	// MaxConcurrent bounds the number of turns processed in parallel.
	MaxConcurrent int
	// TurnTimeout bounds one full normalize+dispatch cycle.
	TurnTimeout time.Duration
	// CleanupAudio removes temporary audio files after normalization.
	CleanupAudio bool
}

// Pipeline consumes inbound turns from the bus, normalizes them, dispatches
// to the agent, and sends the reply outbound. Within one turn the steps run
// sequentially; across turns concurrency is bounded by a semaphore.
type Pipeline struct {
	bus        domain.MessageBus
	normalizer *Normalizer
	dispatcher *Dispatcher
	config     PipelineConfig
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewPipeline(bus domain.MessageBus, normalizer *Normalizer, dispatcher *Dispatcher, config PipelineConfig, logger *slog.Logger) *Pipeline {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.TurnTimeout <= 0 {
		config.TurnTimeout = 5 * time.Minute
	}
	return &Pipeline{
		bus:        bus,
		normalizer: normalizer,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
	}
}

// Run consumes the bus until ctx is cancelled or the bus closes, then waits
// for in-flight turns to finish.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("turn pipeline started", "max_concurrent", p.config.MaxConcurrent)

	sem := make(chan struct{}, p.config.MaxConcurrent)
	inbound := p.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("turn pipeline stopped")
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				p.wg.Wait()
				p.logger.Info("turn pipeline stopped: bus closed")
				return nil
			}
			sem <- struct{}{}
			p.wg.Add(1)
			go func(m domain.InboundMessage) {
				defer func() { <-sem; p.wg.Done() }()
				p.processTurn(ctx, m)
			}(msg)
		}
	}
}

func (p *Pipeline) processTurn(ctx context.Context, msg domain.InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, p.config.TurnTimeout)
	defer cancel()

	reply := p.HandleTurn(ctx, msg)

	out := domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		Format:  "markdown",
	}
	if err := p.bus.SendOutbound(ctx, out); err != nil {
		p.logger.Error("failed to send reply",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"error", err,
		)
	}
}

// HandleTurn runs one turn synchronously and returns the reply text. It is
// the single entry point for both bus-driven and direct (CLI test) callers.
func (p *Pipeline) HandleTurn(ctx context.Context, msg domain.InboundMessage) string {
	turnID := uuid.NewString()
	convID := ConversationID(msg.Channel, msg.ChatID)

	logger := p.logger.With("turn", turnID, "conversation", convID)
	logger.Debug("turn received",
		"kind", int(msg.Input.Kind),
		"audio_refs", len(msg.Input.AudioRefs),
	)

	text, terr := p.normalizer.Normalize(ctx, msg.Input)
	p.cleanupAudio(msg.Input.AudioRefs, logger)
	if terr != nil {
		logger.Info("turn stopped before dispatch", "reason", terr.Kind.String())
		return terr.Message
	}

	reply := p.dispatcher.Dispatch(ctx, text, convID)
	logger.Debug("turn completed", "reply_len", len(reply))
	return reply
}

// ConversationID derives the store key for a channel-scoped chat.
func ConversationID(channel, chatID string) string {
	return channel + ":" + chatID
}

func (p *Pipeline) cleanupAudio(refs []string, logger *slog.Logger) {
	if !p.config.CleanupAudio {
		return
	}
	for _, ref := range refs {
		if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove audio file", "path", ref, "error", err)
		}
	}
}
