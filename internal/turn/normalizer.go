package turn

import (
	"context"
	"log/slog"
	"strings"

	"healthbot/internal/domain"
)

// Fixed user-facing messages for turns that stop before reaching the agent.
const (
	MsgPromptForInput      = "Please provide a message via text or voice."
	MsgTranscriptionFailed = "❌ Sorry, I couldn't transcribe the audio. Please try again."
)

// Transcriber converts an audio file into text. Absence of a transcript
// (provider error, unreadable file, anything) is signaled by ok=false, never
// by an error: the normalizer only needs to know present or absent.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (text string, ok bool)
}

// Normalizer resolves a TurnInput into the effective text for the agent.
type Normalizer struct {
	transcriber Transcriber
	logger      *slog.Logger
}

// NewNormalizer creates a Normalizer. transcriber may be nil, in which case
// every audio clip is treated as untranscribable.
func NewNormalizer(transcriber Transcriber, logger *slog.Logger) *Normalizer {
	return &Normalizer{transcriber: transcriber, logger: logger}
}

// Normalize resolves input to effective text, or a TurnError carrying the
// fixed reply for the user. Given text always wins over audio: the
// transcriber is not invoked when the text field is non-empty. Only the
// first audio clip is transcribed; later clips are ignored.
func (n *Normalizer) Normalize(ctx context.Context, input domain.TurnInput) (string, *TurnError) {
	switch input.Kind {
	case domain.KindPlainText:
		if strings.TrimSpace(input.Text) == "" {
			return "", emptyInputError()
		}
		// Returned verbatim, whitespace included.
		return input.Text, nil

	case domain.KindMultimodal:
		if strings.TrimSpace(input.Text) != "" {
			return input.Text, nil
		}
		if len(input.AudioRefs) > 0 {
			text, ok := n.transcribe(ctx, input.AudioRefs[0])
			if !ok {
				return "", transcriptionError()
			}
			if strings.TrimSpace(text) == "" {
				return "", emptyInputError()
			}
			return text, nil
		}
		return "", emptyInputError()

	default:
		n.logger.Warn("unknown input kind", "kind", int(input.Kind))
		return "", emptyInputError()
	}
}

func (n *Normalizer) transcribe(ctx context.Context, audioPath string) (string, bool) {
	if n.transcriber == nil {
		n.logger.Warn("audio received but no transcriber configured", "path", audioPath)
		return "", false
	}
	return n.transcriber.Transcribe(ctx, audioPath)
}
