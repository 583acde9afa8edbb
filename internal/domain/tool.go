package domain

import "context"

// Tool is a capability the agent can invoke during a turn.
type Tool interface {
	// Name returns the tool identifier used in tool calls.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Parameters returns the JSON-schema description of the arguments.
	Parameters() map[string]any

	// Execute runs the tool and returns its textual result.
	Execute(ctx context.Context, args map[string]any) (string, error)
}
