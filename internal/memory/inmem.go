package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"healthbot/internal/domain"
)

// InMemoryStore keeps conversations in process memory. It is the default
// backend: history resets on restart, which is acceptable for a single-node
// chatbot and keeps first-run setup at zero.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	messages      map[string][]*domain.MessageRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]*domain.MessageRecord),
	}
}

func (s *InMemoryStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	c := *conv
	s.conversations[conv.ID] = &c
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	c := *conv
	return &c, nil
}

func (s *InMemoryStore) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; !ok {
		return fmt.Errorf("conversation %s not found", conv.ID)
	}
	conv.UpdatedAt = time.Now()
	c := *conv
	s.conversations[conv.ID] = &c
	return nil
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*domain.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		c := *conv
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *InMemoryStore) SaveMessage(ctx context.Context, rec *domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.messages[rec.ConversationID] = append(s.messages[rec.ConversationID], &r)
	return nil
}

func (s *InMemoryStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*domain.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*domain.MessageRecord, len(msgs))
	for i, m := range msgs {
		r := *m
		out[i] = &r
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
