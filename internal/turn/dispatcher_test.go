package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeInvoker struct {
	reply string
	err   error
	calls int

	gotMessage string
	gotConvID  string
}

func (f *fakeInvoker) Invoke(ctx context.Context, message, conversationID string) (string, error) {
	f.calls++
	f.gotMessage = message
	f.gotConvID = conversationID
	return f.reply, f.err
}

func TestDispatchSuccess(t *testing.T) {
	fi := &fakeInvoker{reply: "Flu symptoms include fever and cough."}
	d := NewDispatcher(fi, testLogger())

	got := d.Dispatch(context.Background(), "What are flu symptoms?", "web:abc")
	if got != fi.reply {
		t.Errorf("reply = %q, want agent reply unchanged", got)
	}
	if fi.gotMessage != "What are flu symptoms?" {
		t.Errorf("message = %q", fi.gotMessage)
	}
	if fi.gotConvID != "web:abc" {
		t.Errorf("conversation ID = %q", fi.gotConvID)
	}
}

func TestDispatchAgentError(t *testing.T) {
	fi := &fakeInvoker{err: errors.New("provider unreachable")}
	d := NewDispatcher(fi, testLogger())

	got := d.Dispatch(context.Background(), "hello", "cli:local")
	if !strings.Contains(got, "error") {
		t.Errorf("reply %q does not indicate an error", got)
	}
	if !strings.Contains(got, "provider unreachable") {
		t.Errorf("reply %q does not embed the error detail", got)
	}
}

func TestDispatchDoesNotRetry(t *testing.T) {
	fi := &fakeInvoker{err: errors.New("boom")}
	d := NewDispatcher(fi, testLogger())

	d.Dispatch(context.Background(), "hello", "cli:local")
	if fi.calls != 1 {
		t.Errorf("invoker called %d times, want 1", fi.calls)
	}
}
