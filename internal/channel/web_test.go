package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"healthbot/internal/domain"
)

// captureBus records published turns and replies immediately through the
// registered outbound handler.
type captureBus struct {
	mu        sync.Mutex
	published []domain.InboundMessage
	handlers  map[string]domain.OutboundHandler
	reply     string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCaptureBus(reply string) *captureBus {
	return &captureBus{
		handlers: make(map[string]domain.OutboundHandler),
		reply:    reply,
	}
}

func (b *captureBus) Publish(ctx context.Context, msg domain.InboundMessage) error {
	b.mu.Lock()
	b.published = append(b.published, msg)
	handler := b.handlers[msg.Channel]
	b.mu.Unlock()

	if handler != nil {
		handler(ctx, domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: b.reply,
		})
	}
	return nil
}

func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return nil }

func (b *captureBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.Lock()
	handler := b.handlers[msg.Channel]
	b.mu.Unlock()
	if handler != nil {
		handler(ctx, msg)
	}
	return nil
}

func (b *captureBus) OnOutbound(channel string, handler domain.OutboundHandler) {
	b.mu.Lock()
	b.handlers[channel] = handler
	b.mu.Unlock()
}

func (b *captureBus) Close() error { return nil }

func (b *captureBus) last(t *testing.T) domain.InboundMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		t.Fatal("no message published")
	}
	return b.published[len(b.published)-1]
}

func newTestWeb(t *testing.T, multimodal bool, bus *captureBus) *Web {
	t.Helper()
	w := NewWeb(WebConfig{
		Multimodal: multimodal,
		UploadsDir: t.TempDir(),
		Bus:        bus,
		Logger:     testLogger(),
	})
	// Simulate Start's handler registration without binding a port.
	bus.OnOutbound("web", func(ctx context.Context, msg domain.OutboundMessage) {
		w.pendingResponsesMu.Lock()
		ch, ok := w.pendingResponses[msg.ChatID]
		w.pendingResponsesMu.Unlock()
		if ok {
			select {
			case ch <- msg.Content:
			default:
			}
		}
		w.sendSSE(msg.ChatID, msg.Content)
	})
	return w
}

func multipartBody(t *testing.T, message string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("message", message); err != nil {
		t.Fatal(err)
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "recording.webm")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(audio); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestWebSendTextOnly(t *testing.T) {
	bus := newCaptureBus("the reply")
	w := newTestWeb(t, true, bus)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	body, contentType := multipartBody(t, "what causes headaches?", nil)
	resp, err := http.Post(srv.URL+"/chat/send", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["content"] != "the reply" {
		t.Errorf("content = %q", out["content"])
	}

	msg := bus.last(t)
	if msg.Channel != "web" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if msg.Input.Text != "what causes headaches?" {
		t.Errorf("text = %q", msg.Input.Text)
	}
	if len(msg.Input.AudioRefs) != 0 {
		t.Errorf("unexpected audio refs: %v", msg.Input.AudioRefs)
	}
}

func TestWebSendWithAudioUpload(t *testing.T) {
	bus := newCaptureBus("transcribed reply")
	w := newTestWeb(t, true, bus)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	audio := []byte("fake-webm-bytes")
	body, contentType := multipartBody(t, "", audio)
	resp, err := http.Post(srv.URL+"/chat/send", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	msg := bus.last(t)
	if len(msg.Input.AudioRefs) != 1 {
		t.Fatalf("audio refs = %v", msg.Input.AudioRefs)
	}
	data, err := os.ReadFile(msg.Input.AudioRefs[0])
	if err != nil {
		t.Fatalf("uploaded file not stored: %v", err)
	}
	if !bytes.Equal(data, audio) {
		t.Error("stored audio differs from upload")
	}
}

func TestWebSendEmptyMultimodalStillPublishes(t *testing.T) {
	// With multimodal on, the empty-input reply is produced downstream,
	// so the handler must publish rather than reject.
	bus := newCaptureBus("Please provide a message via text or voice.")
	w := newTestWeb(t, true, bus)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	body, contentType := multipartBody(t, "", nil)
	resp, err := http.Post(srv.URL+"/chat/send", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	bus.last(t)
}

func TestWebSendEmptyRejectedWhenPlainOnly(t *testing.T) {
	bus := newCaptureBus("unused")
	w := newTestWeb(t, false, bus)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	body, contentType := multipartBody(t, "", nil)
	resp, err := http.Post(srv.URL+"/chat/send", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	bus.mu.Lock()
	n := len(bus.published)
	bus.mu.Unlock()
	if n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
}

func TestWebAudioIgnoredWhenPlainOnly(t *testing.T) {
	bus := newCaptureBus("plain reply")
	w := newTestWeb(t, false, bus)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	body, contentType := multipartBody(t, "hello", []byte("audio"))
	resp, err := http.Post(srv.URL+"/chat/send", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	msg := bus.last(t)
	if len(msg.Input.AudioRefs) != 0 {
		t.Errorf("audio refs = %v, want none in plain mode", msg.Input.AudioRefs)
	}
}

func TestWebStatusIsPublic(t *testing.T) {
	bus := newCaptureBus("")
	w := NewWeb(WebConfig{
		Bus:          bus,
		Logger:       testLogger(),
		AuthEnabled:  true,
		AuthUser:     "admin",
		AuthPassHash: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("chat page without auth = %d, want 401", resp2.StatusCode)
	}
}

func TestWebSessionCookieAssigned(t *testing.T) {
	bus := newCaptureBus("")
	w := newTestWeb(t, true, bus)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("no session cookie set on first visit")
	}
}
