package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthbot/internal/domain"
)

// SessionManager maps conversation IDs to stored conversations and
// transcripts.
type SessionManager struct {
	store  domain.ConversationStore
	logger *slog.Logger
	mu     sync.Mutex
}

func NewSessionManager(store domain.ConversationStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:  store,
		logger: logger,
	}
}

// GetOrCreateConversation returns the conversation for the given key,
// creating it on first use.
func (sm *SessionManager) GetOrCreateConversation(ctx context.Context, convID, provider, model string) (string, error) {
	// Fast path: most calls find an existing conversation.
	conv, err := sm.store.GetConversation(ctx, convID)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	// Slow path: serialize creation and re-check.
	sm.mu.Lock()
	defer sm.mu.Unlock()

	conv, err = sm.store.GetConversation(ctx, convID)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	now := time.Now()
	newConv := &domain.Conversation{
		ID:        convID,
		Title:     "New conversation",
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sm.store.CreateConversation(ctx, newConv); err != nil {
		return "", err
	}

	sm.logger.Info("created new conversation",
		"conversation", convID,
		"provider", provider,
	)

	return convID, nil
}

// GetHistory loads the most recent transcript entries as chat messages.
func (sm *SessionManager) GetHistory(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	records, err := sm.store.GetMessages(ctx, convID, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(records))
	for _, r := range records {
		msg := domain.Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		}
		if r.ToolCalls != "" {
			var toolCalls []domain.ToolCall
			if err := json.Unmarshal([]byte(r.ToolCalls), &toolCalls); err == nil {
				msg.ToolCalls = toolCalls
			}
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// UpdateTitle sets the conversation title from the first user message, once.
func (sm *SessionManager) UpdateTitle(ctx context.Context, convID string, firstUserMsg string) {
	conv, err := sm.store.GetConversation(ctx, convID)
	if err != nil || conv == nil {
		return
	}
	if conv.Title != "" && conv.Title != "New conversation" {
		return
	}
	conv.Title = generateTitle(firstUserMsg)
	if err := sm.store.UpdateConversation(ctx, conv); err != nil {
		sm.logger.Warn("failed to update conversation title", "conversation", convID, "err", err)
	}
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "New conversation"
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

// ClearSession deletes a conversation and its messages.
func (sm *SessionManager) ClearSession(ctx context.Context, convID string) {
	if err := sm.store.DeleteConversation(ctx, convID); err != nil {
		sm.logger.Warn("failed to clear session", "conversation", convID, "err", err)
	} else {
		sm.logger.Info("session cleared", "conversation", convID)
	}
}

// SaveMessage persists one transcript entry.
func (sm *SessionManager) SaveMessage(ctx context.Context, convID string, msg domain.Message) error {
	record := &domain.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           msg.Role,
		Content:        msg.Content,
		ToolCallID:     msg.ToolCallID,
		ToolName:       msg.ToolName,
		CreatedAt:      time.Now(),
	}
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err == nil {
			record.ToolCalls = string(data)
		}
	}
	return sm.store.SaveMessage(ctx, record)
}
