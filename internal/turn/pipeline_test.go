package turn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"healthbot/internal/bus"
	"healthbot/internal/domain"
)

func newTestPipeline(t *testing.T, ft Transcriber, fi Invoker, cfg PipelineConfig) (*Pipeline, domain.MessageBus) {
	t.Helper()
	b := bus.NewInMemoryBus(testLogger())
	t.Cleanup(func() { b.Close() })
	n := NewNormalizer(ft, testLogger())
	d := NewDispatcher(fi, testLogger())
	return NewPipeline(b, n, d, cfg, testLogger()), b
}

func TestHandleTurnEndToEnd(t *testing.T) {
	fi := &fakeInvoker{reply: "Common flu symptoms include fever, cough, and fatigue."}
	p, _ := newTestPipeline(t, &fakeTranscriber{}, fi, PipelineConfig{})

	reply := p.HandleTurn(context.Background(), domain.InboundMessage{
		Channel: "web",
		ChatID:  "abc123",
		Input:   domain.PlainText("What are flu symptoms?"),
	})
	if reply != fi.reply {
		t.Errorf("reply = %q, want agent reply unchanged", reply)
	}
	if fi.gotMessage != "What are flu symptoms?" {
		t.Errorf("agent received %q", fi.gotMessage)
	}
	if fi.gotConvID != "web:abc123" {
		t.Errorf("conversation ID = %q, want web:abc123", fi.gotConvID)
	}
}

func TestHandleTurnVoiceOnly(t *testing.T) {
	ft := &fakeTranscriber{text: "what are flu symptoms", ok: true}
	fi := &fakeInvoker{reply: "Fever, cough, body aches."}
	p, _ := newTestPipeline(t, ft, fi, PipelineConfig{})

	reply := p.HandleTurn(context.Background(), domain.InboundMessage{
		Channel: "web",
		ChatID:  "abc123",
		Input:   domain.Multimodal("", []string{"/tmp/clip.wav"}),
	})
	if reply != fi.reply {
		t.Errorf("reply = %q", reply)
	}
	if fi.gotMessage != "what are flu symptoms" {
		t.Errorf("agent received %q, want the transcript", fi.gotMessage)
	}
}

func TestHandleTurnTranscriptionFailed(t *testing.T) {
	fi := &fakeInvoker{}
	p, _ := newTestPipeline(t, &fakeTranscriber{ok: false}, fi, PipelineConfig{})

	reply := p.HandleTurn(context.Background(), domain.InboundMessage{
		Channel: "web",
		ChatID:  "abc123",
		Input:   domain.Multimodal("", []string{"/tmp/clip.wav"}),
	})
	if reply != MsgTranscriptionFailed {
		t.Errorf("reply = %q, want exactly the apology", reply)
	}
	if fi.calls != 0 {
		t.Errorf("agent invoked %d times after failed transcription", fi.calls)
	}
}

func TestHandleTurnEmptyInput(t *testing.T) {
	fi := &fakeInvoker{}
	p, _ := newTestPipeline(t, &fakeTranscriber{}, fi, PipelineConfig{})

	reply := p.HandleTurn(context.Background(), domain.InboundMessage{
		Channel: "web",
		ChatID:  "abc123",
		Input:   domain.Multimodal("", nil),
	})
	if reply != MsgPromptForInput {
		t.Errorf("reply = %q, want exactly the prompt message", reply)
	}
	if fi.calls != 0 {
		t.Errorf("agent invoked %d times on empty input", fi.calls)
	}
}

func TestHandleTurnAgentErrorDoesNotCrash(t *testing.T) {
	fi := &fakeInvoker{err: errors.New("model overloaded")}
	p, _ := newTestPipeline(t, &fakeTranscriber{}, fi, PipelineConfig{})

	reply := p.HandleTurn(context.Background(), domain.InboundMessage{
		Channel: "cli",
		ChatID:  "local",
		Input:   domain.PlainText("hello"),
	})
	if reply == "" {
		t.Fatal("expected a user-visible reply")
	}
	if want := "Sorry, I encountered an error: model overloaded"; reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestHandleTurnCleansUpAudio(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(clip, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	ft := &fakeTranscriber{text: "hello", ok: true}
	p, _ := newTestPipeline(t, ft, &fakeInvoker{reply: "hi"}, PipelineConfig{CleanupAudio: true})

	p.HandleTurn(context.Background(), domain.InboundMessage{
		Channel: "web",
		ChatID:  "abc",
		Input:   domain.Multimodal("", []string{clip}),
	})
	if _, err := os.Stat(clip); !os.IsNotExist(err) {
		t.Errorf("audio file still present after turn")
	}
}

func TestPipelineRunDeliversReply(t *testing.T) {
	fi := &fakeInvoker{reply: "hello there"}
	p, b := newTestPipeline(t, &fakeTranscriber{}, fi, PipelineConfig{MaxConcurrent: 1})

	got := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("web", func(ctx context.Context, msg domain.OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	if err := b.Publish(ctx, domain.InboundMessage{
		Channel: "web",
		ChatID:  "abc",
		Input:   domain.PlainText("hi"),
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-got:
		if out.Content != "hello there" {
			t.Errorf("outbound content = %q", out.Content)
		}
		if out.ChatID != "abc" {
			t.Errorf("outbound chat ID = %q", out.ChatID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message within 2s")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
}
