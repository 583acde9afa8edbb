package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"healthbot/internal/domain"
	"healthbot/internal/tool"
)

const (
	defaultMaxIterations    = 10
	defaultHistoryLimit     = 50
	defaultLLMMaxTokens     = 4096
	defaultTemperature      = 0.7
	defaultMaxParallelTools = 5
)

// Loop is the agent engine: build prompt, call LLM, execute requested tools,
// repeat until the model produces a final answer. It implements the
// dispatcher's Invoker capability.
type Loop struct {
	provider      domain.Provider
	sessions      *SessionManager
	prompt        *PromptBuilder
	tools         *tool.Registry
	logger        *slog.Logger
	maxIterations int
	historyLimit  int
}

// LoopConfig holds dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider      domain.Provider
	Sessions      *SessionManager
	Prompt        *PromptBuilder
	Tools         *tool.Registry
	Logger        *slog.Logger
	MaxIterations int
	HistoryLimit  int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Loop{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		prompt:        cfg.Prompt,
		tools:         cfg.Tools,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
		historyLimit:  cfg.HistoryLimit,
	}
}

// Invoke handles one user turn in the given conversation and returns the
// final reply text.
func (l *Loop) Invoke(ctx context.Context, message, conversationID string) (string, error) {
	if strings.TrimSpace(message) == "/clear" {
		l.sessions.ClearSession(ctx, conversationID)
		return "Conversation cleared. Let's start fresh!", nil
	}

	convID, err := l.sessions.GetOrCreateConversation(ctx, conversationID, l.provider.Name(), "")
	if err != nil {
		return "", fmt.Errorf("session error: %w", err)
	}

	history, err := l.sessions.GetHistory(ctx, convID, l.historyLimit)
	if err != nil {
		l.logger.Warn("failed to load history, continuing without it", "error", err)
		history = nil
	}

	messages := l.prompt.BuildMessages(history, message)

	var toolDefs []domain.ToolDefinition
	if l.tools != nil {
		toolDefs = l.tools.GetDefinitions()
	}

	toolSem := make(chan struct{}, defaultMaxParallelTools)

	var finalContent string
	for iteration := 0; iteration < l.maxIterations; iteration++ {
		l.logger.Debug("agent iteration", "iteration", iteration+1, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			MaxTokens:   defaultLLMMaxTokens,
			Temperature: defaultTemperature,
		})
		if err != nil {
			return "", fmt.Errorf("LLM error: %w", err)
		}

		// No tool calls means we have the final answer.
		if !resp.HasToolCalls() {
			finalContent = resp.Content
			break
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Execute tool calls in parallel with bounded concurrency.
		results := make([]string, len(resp.ToolCalls))
		var wg sync.WaitGroup
		for i, tc := range resp.ToolCalls {
			wg.Add(1)
			go func(idx int, tc domain.ToolCall) {
				defer wg.Done()
				toolSem <- struct{}{}
				defer func() { <-toolSem }()

				result, toolErr := l.executeTool(ctx, tc)
				if toolErr != nil {
					result = fmt.Sprintf("Error executing tool %s: %s", tc.Name, toolErr.Error())
				}
				results[idx] = result
			}(i, tc)
		}
		wg.Wait()

		// Append results in call order.
		for i, tc := range resp.ToolCalls {
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    results[i],
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	if finalContent == "" {
		finalContent = "I've completed processing but have no additional response."
	}

	// Persist the turn.
	if err := l.sessions.SaveMessage(ctx, convID, domain.Message{Role: "user", Content: message}); err != nil {
		l.logger.Warn("failed to save user message", "error", err, "conversation", convID)
	}
	if err := l.sessions.SaveMessage(ctx, convID, domain.Message{Role: "assistant", Content: finalContent}); err != nil {
		l.logger.Warn("failed to save assistant message", "error", err, "conversation", convID)
	}

	// Auto-generate the title from the first user message.
	if len(history) == 0 {
		l.sessions.UpdateTitle(ctx, convID, message)
	}

	return finalContent, nil
}

func (l *Loop) executeTool(ctx context.Context, tc domain.ToolCall) (string, error) {
	l.logger.Info("executing tool", "tool", tc.Name)

	if l.tools == nil {
		return "", fmt.Errorf("tool registry not initialized")
	}

	if l.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			l.logger.Debug("tool arguments", "tool", tc.Name, "args", string(argsJSON))
		}
	}

	result, err := l.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		return "", err
	}

	l.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result, nil
}
