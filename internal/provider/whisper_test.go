package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ogg")
	if err := os.WriteFile(path, []byte("OggS fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "clip.ogg" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(TranscriptionResult{Text: "what are flu symptoms"})
	}))
	defer srv.Close()

	wp := NewWhisperProvider(WhisperConfig{
		APIBase: srv.URL,
		APIKey:  "test-key",
		Model:   "whisper-1",
		Logger:  testLogger(),
	})

	f, err := os.Open(writeClip(t))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	result, err := wp.Transcribe(context.Background(), f, "clip.ogg")
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "what are flu symptoms" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestPathTranscriberSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TranscriptionResult{Text: "hello"})
	}))
	defer srv.Close()

	wp := NewWhisperProvider(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	pt := NewPathTranscriber(wp, testLogger())

	text, ok := pt.Transcribe(context.Background(), writeClip(t))
	if !ok {
		t.Fatal("expected ok")
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
}

func TestPathTranscriberAPIErrorIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad audio"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	wp := NewWhisperProvider(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	pt := NewPathTranscriber(wp, testLogger())

	_, ok := pt.Transcribe(context.Background(), writeClip(t))
	if ok {
		t.Error("expected absent on API error")
	}
}

func TestPathTranscriberMissingFileIsAbsent(t *testing.T) {
	wp := NewWhisperProvider(WhisperConfig{APIBase: "http://127.0.0.1:0", Logger: testLogger()})
	pt := NewPathTranscriber(wp, testLogger())

	_, ok := pt.Transcribe(context.Background(), "/nonexistent/clip.wav")
	if ok {
		t.Error("expected absent for missing file")
	}
}
