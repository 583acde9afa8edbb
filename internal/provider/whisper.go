package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// WhisperConfig configures the speech-to-text provider.
type WhisperConfig struct {
	APIBase  string // e.g. "https://api.openai.com/v1" or a local Whisper server
	APIKey   string
	Model    string // e.g. "whisper-1"
	Language string // optional: ISO-639-1 language code
	Logger   *slog.Logger
}

// WhisperProvider transcribes audio via an OpenAI-compatible Whisper API.
type WhisperProvider struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewWhisperProvider(cfg WhisperConfig) *WhisperProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &WhisperProvider{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// TranscriptionResult contains the result of a transcription.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe converts audio data to text. filename should include the
// extension (e.g. "clip.ogg") so the API can detect the format.
func (w *WhisperProvider) Transcribe(ctx context.Context, audioData io.Reader, filename string) (*TranscriptionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioData); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	writer.Close()

	url := w.apiBase + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	w.logger.Info("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)

	return &result, nil
}

// PathTranscriber adapts WhisperProvider to the normalizer's capability:
// it takes a file path and signals absence with ok=false instead of an
// error, logging the cause.
type PathTranscriber struct {
	whisper *WhisperProvider
	logger  *slog.Logger
}

func NewPathTranscriber(whisper *WhisperProvider, logger *slog.Logger) *PathTranscriber {
	return &PathTranscriber{whisper: whisper, logger: logger}
}

func (t *PathTranscriber) Transcribe(ctx context.Context, audioPath string) (string, bool) {
	f, err := os.Open(audioPath)
	if err != nil {
		t.logger.Warn("cannot open audio file", "path", audioPath, "error", err)
		return "", false
	}
	defer f.Close()

	result, err := t.whisper.Transcribe(ctx, f, filepath.Base(audioPath))
	if err != nil {
		t.logger.Warn("transcription failed", "path", audioPath, "error", err)
		return "", false
	}
	return result.Text, true
}
