package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"healthbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSubscribe(t *testing.T) {
	b := NewInMemoryBus(testLogger())
	defer b.Close()

	msg := domain.InboundMessage{Channel: "web", ChatID: "c1", Input: domain.PlainText("hi")}
	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-b.Subscribe():
		if got.ChatID != "c1" || got.Input.Text != "hi" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestSendOutboundRouting(t *testing.T) {
	b := NewInMemoryBus(testLogger())
	defer b.Close()

	var got domain.OutboundMessage
	b.OnOutbound("telegram", func(ctx context.Context, msg domain.OutboundMessage) {
		got = msg
	})

	err := b.SendOutbound(context.Background(), domain.OutboundMessage{
		Channel: "telegram", ChatID: "42", Content: "reply",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "reply" {
		t.Errorf("handler got %+v", got)
	}

	if err := b.SendOutbound(context.Background(), domain.OutboundMessage{Channel: "nope"}); err == nil {
		t.Error("expected error for unregistered channel")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := NewInMemoryBus(testLogger())
	b.Close()
	b.Close() // idempotent

	err := b.Publish(context.Background(), domain.InboundMessage{Channel: "cli"})
	if err == nil {
		t.Error("expected error publishing to closed bus")
	}
}
