package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"healthbot/internal/domain"
)

func storesUnderTest(t *testing.T) map[string]domain.ConversationStore {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]domain.ConversationStore{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestConversationLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Second)
			conv := &domain.Conversation{
				ID:        "web:abc",
				Title:     "New Conversation",
				Provider:  "gemini",
				Model:     "gemini-2.5-flash-lite",
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.CreateConversation(ctx, conv); err != nil {
				t.Fatal(err)
			}
			if err := store.CreateConversation(ctx, conv); err == nil {
				t.Error("expected error on duplicate create")
			}

			got, err := store.GetConversation(ctx, "web:abc")
			if err != nil {
				t.Fatal(err)
			}
			if got == nil || got.Title != "New Conversation" {
				t.Fatalf("got %+v", got)
			}

			got.Title = "Flu symptoms"
			if err := store.UpdateConversation(ctx, got); err != nil {
				t.Fatal(err)
			}
			got, err = store.GetConversation(ctx, "web:abc")
			if err != nil {
				t.Fatal(err)
			}
			if got.Title != "Flu symptoms" {
				t.Errorf("title = %q after update", got.Title)
			}

			missing, err := store.GetConversation(ctx, "web:nope")
			if err != nil {
				t.Fatal(err)
			}
			if missing != nil {
				t.Errorf("expected nil for missing conversation, got %+v", missing)
			}

			if err := store.DeleteConversation(ctx, "web:abc"); err != nil {
				t.Fatal(err)
			}
			got, err = store.GetConversation(ctx, "web:abc")
			if err != nil {
				t.Fatal(err)
			}
			if got != nil {
				t.Error("conversation still present after delete")
			}
		})
	}
}

func TestMessagesChronologicalWithLimit(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Second)
			conv := &domain.Conversation{ID: "cli:local", CreatedAt: now, UpdatedAt: now}
			if err := store.CreateConversation(ctx, conv); err != nil {
				t.Fatal(err)
			}

			for i := 0; i < 10; i++ {
				rec := &domain.MessageRecord{
					ID:             uuid.NewString(),
					ConversationID: "cli:local",
					Role:           "user",
					Content:        fmt.Sprintf("message %d", i),
					CreatedAt:      now.Add(time.Duration(i) * time.Second),
				}
				if err := store.SaveMessage(ctx, rec); err != nil {
					t.Fatal(err)
				}
			}

			msgs, err := store.GetMessages(ctx, "cli:local", 4)
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 4 {
				t.Fatalf("got %d messages, want 4", len(msgs))
			}
			if msgs[0].Content != "message 6" || msgs[3].Content != "message 9" {
				t.Errorf("wrong window or order: first %q last %q",
					msgs[0].Content, msgs[3].Content)
			}
		})
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour).Truncate(time.Second)
			for i := 0; i < 3; i++ {
				conv := &domain.Conversation{
					ID:        fmt.Sprintf("web:c%d", i),
					CreatedAt: base,
					UpdatedAt: base.Add(time.Duration(i) * time.Minute),
				}
				if err := store.CreateConversation(ctx, conv); err != nil {
					t.Fatal(err)
				}
			}

			list, err := store.ListConversations(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 {
				t.Fatalf("got %d conversations, want 2", len(list))
			}
			if list[0].ID != "web:c2" {
				t.Errorf("first = %s, want most recently updated", list[0].ID)
			}
		})
	}
}
