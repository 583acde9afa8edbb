package agent

import (
	"fmt"
	"log/slog"
	"time"

	"healthbot/internal/domain"
)

const systemMessage = `You are a medical information assistant.
When a user asks a health question:
1. Use the general_search tool to find accurate medical information
2. After receiving search results, provide a clear, helpful answer
3. Include appropriate medical disclaimers when needed.
4. Always be sure to explain as if the user is in 5th grade. If some complex medical terms come up, be sure to simplify them. Don't use too much medical jargon.
Important:
- Respond naturally in plain text, not JSON
- After you get tool results, synthesize them into a helpful answer
- Always include some relevant medical questions for your doctor about the query.
- For every query, when you give your verdict, always give a coloured alert.
- Give a coloured alert to the user. 🟢 Green if the user is safe, 🟡 Yellow if the user is at risk, 🟠 Orange if the user is at high risk, 🔴 Red if the user is at very high risk.
- Following the colour alert, add an advice to the user.
After this continue with all the other important steps.`

// PromptBuilder assembles the message list for one LLM call.
type PromptBuilder struct {
	systemPromptExtra string
	logger            *slog.Logger
}

// PromptConfig holds prompt builder settings.
type PromptConfig struct {
	// SystemPromptExtra is custom text appended to the system prompt.
	SystemPromptExtra string
}

func NewPromptBuilder(cfg PromptConfig, logger *slog.Logger) *PromptBuilder {
	return &PromptBuilder{
		systemPromptExtra: cfg.SystemPromptExtra,
		logger:            logger,
	}
}

// BuildSystemPrompt returns the assistant identity prompt for this turn.
func (p *PromptBuilder) BuildSystemPrompt() string {
	prompt := systemMessage
	prompt += fmt.Sprintf("\n\n## Current Time\n%s", time.Now().Format("2006-01-02 15:04 (Monday)"))
	if p.systemPromptExtra != "" {
		prompt += "\n\n## Custom Instructions\n" + p.systemPromptExtra
	}
	return prompt
}

// BuildMessages constructs [system + history + user message] for an LLM
// call. Stored system messages are dropped so the canonical prompt always
// sits alone at the head.
func (p *PromptBuilder) BuildMessages(history []domain.Message, currentMessage string) []domain.Message {
	messages := []domain.Message{
		{Role: "system", Content: p.BuildSystemPrompt()},
	}

	for _, m := range history {
		if m.Role == "system" {
			continue
		}
		msg := domain.Message{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.ToolCallID != "" {
			msg.ToolCallID = m.ToolCallID
			msg.ToolName = m.ToolName
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = m.ToolCalls
		}
		messages = append(messages, msg)
	}

	return append(messages, domain.Message{Role: "user", Content: currentMessage})
}
