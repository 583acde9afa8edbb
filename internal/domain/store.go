package domain

import (
	"context"
	"time"
)

// Conversation is one chat thread, keyed by the channel-owned ID.
type Conversation struct {
	ID        string    `json:"id"` // "channel:chatID"
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRecord is one persisted transcript entry.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ToolCalls      string    `json:"tool_calls,omitempty"` // JSON-encoded []ToolCall
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationStore persists conversations and their transcripts. Backends:
// in-process map (default, resets on restart), SQLite, Redis.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	SaveMessage(ctx context.Context, rec *MessageRecord) error
	// GetMessages returns the most recent messages in chronological order.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*MessageRecord, error)

	Close() error
}
