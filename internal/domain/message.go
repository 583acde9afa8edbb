package domain

import "time"

// InputKind discriminates the two shapes a user turn can arrive in.
type InputKind int

const (
	// KindPlainText is a bare text message (CLI, Telegram text, web with
	// multimodal input disabled).
	KindPlainText InputKind = iota
	// KindMultimodal carries optional text plus zero or more recorded audio
	// clips (web microphone, Telegram voice messages).
	KindMultimodal
)

// TurnInput is the tagged union for one user turn. Channels build it at
// ingress; everything downstream works with the resolved effective text.
type TurnInput struct {
	Kind      InputKind
	Text      string
	AudioRefs []string // local file paths to audio clips, in recording order
}

// PlainText wraps a bare text message.
func PlainText(s string) TurnInput {
	return TurnInput{Kind: KindPlainText, Text: s}
}

// Multimodal wraps a structured text+audio payload.
func Multimodal(text string, audioRefs []string) TurnInput {
	return TurnInput{Kind: KindMultimodal, Text: text, AudioRefs: audioRefs}
}

// InboundMessage is a user turn arriving from a channel.
type InboundMessage struct {
	Channel   string // "web", "cli", "telegram", "websocket"
	ChatID    string // channel-scoped chat identifier
	SenderID  string
	Input     TurnInput
	Timestamp time.Time
}

// OutboundMessage is a reply heading back to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // "text" or "markdown"
}
