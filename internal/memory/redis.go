package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"healthbot/internal/domain"
)

const (
	convKeyPrefix = "healthbot:conv:"
	convIndexKey  = "healthbot:conversations"
)

// RedisStore is the shared backend for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func convKey(id string) string     { return convKeyPrefix + id }
func messagesKey(id string) string { return convKeyPrefix + id + ":messages" }

func (s *RedisStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	ok, err := s.client.SetNX(ctx, convKey(conv.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if !ok {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	return s.client.ZAdd(ctx, convIndexKey, redis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	}).Err()
}

func (s *RedisStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	data, err := s.client.Get(ctx, convKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

func (s *RedisStore) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	conv.UpdatedAt = time.Now()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := s.client.Set(ctx, convKey(conv.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return s.client.ZAdd(ctx, convIndexKey, redis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	}).Err()
}

func (s *RedisStore) DeleteConversation(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, convKey(id), messagesKey(id))
	pipe.ZRem(ctx, convIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, convIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	list := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			list = append(list, conv)
		}
	}
	return list, nil
}

func (s *RedisStore) SaveMessage(ctx context.Context, rec *domain.MessageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.client.RPush(ctx, messagesKey(rec.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *RedisStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*domain.MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.client.LRange(ctx, messagesKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	msgs := make([]*domain.MessageRecord, 0, len(items))
	for _, item := range items {
		var rec domain.MessageRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, &rec)
	}
	return msgs, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
