package turn

import (
	"context"
	"fmt"
	"log/slog"
)

// Invoker runs the agent for one turn.
type Invoker interface {
	Invoke(ctx context.Context, message, conversationID string) (string, error)
}

// Dispatcher forwards normalized turns to the agent and absorbs its failures.
type Dispatcher struct {
	invoker Invoker
	logger  *slog.Logger
}

func NewDispatcher(invoker Invoker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{invoker: invoker, logger: logger}
}

// Dispatch runs the agent and always returns something to show the user. Any
// agent error becomes a reply string embedding the error detail; nothing is
// propagated, retried, or given an extra deadline here.
func (d *Dispatcher) Dispatch(ctx context.Context, message, conversationID string) string {
	reply, err := d.invoker.Invoke(ctx, message, conversationID)
	if err != nil {
		d.logger.Error("agent invocation failed",
			"conversation", conversationID,
			"error", err,
		)
		return fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
	}
	return reply
}
