package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"healthbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramDownloadLimit  = 25 << 20 // Bot API caps file downloads at 20 MB
)

// Telegram implements domain.Channel for Telegram Bot. Voice notes and audio
// files are downloaded locally and forwarded as multimodal turn input.
type Telegram struct {
	token      string
	allowFrom  []int64 // Allowed user IDs (empty = allow all)
	parseMode  string
	uploadsDir string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
}

type TelegramChannelConfig struct {
	Token      string
	AllowFrom  []string // User IDs as strings
	ParseMode  string
	UploadsDir string
	Bus        domain.MessageBus
	Logger     *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = os.TempDir()
	}
	return &Telegram{
		token:      cfg.Token,
		allowFrom:  allowed,
		parseMode:  cfg.ParseMode,
		uploadsDir: cfg.UploadsDir,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	t.bus.OnOutbound("telegram", func(ctx context.Context, msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	if err := os.MkdirAll(t.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop(ctx context.Context) error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	text := update.Message.Text
	if text == "" {
		// Voice notes carry their text in Caption when any.
		text = update.Message.Caption
	}
	audioRefs := t.collectAudio(ctx, update.Message)

	if strings.TrimSpace(text) == "" && len(audioRefs) == 0 {
		return // stickers, photos etc.
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
		"audio_refs", len(audioRefs),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	var input domain.TurnInput
	if len(audioRefs) > 0 {
		input = domain.Multimodal(text, audioRefs)
	} else {
		input = domain.PlainText(text)
	}

	t.publish(ctx, chatID, userID, input, update.Message.Date)
}

// collectAudio downloads any voice note or audio file attached to the message
// and returns local paths. The pipeline removes the files after transcription.
func (t *Telegram) collectAudio(ctx context.Context, msg *tgbotapi.Message) []string {
	var refs []string
	if msg.Voice != nil {
		if path, ok := t.downloadFile(ctx, msg.Voice.FileID, ".ogg"); ok {
			refs = append(refs, path)
		}
	}
	if msg.Audio != nil {
		ext := ".mp3"
		if msg.Audio.FileName != "" {
			if e := filepath.Ext(msg.Audio.FileName); e != "" {
				ext = e
			}
		}
		if path, ok := t.downloadFile(ctx, msg.Audio.FileID, ext); ok {
			refs = append(refs, path)
		}
	}
	return refs
}

func (t *Telegram) downloadFile(ctx context.Context, fileID, ext string) (string, bool) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		t.logger.Warn("telegram file URL lookup failed", "file_id", fileID, "err", err)
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("telegram file download failed", "file_id", fileID, "err", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("telegram file download failed", "file_id", fileID, "status", resp.StatusCode)
		return "", false
	}

	path := filepath.Join(t.uploadsDir, "tg_"+uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		t.logger.Warn("cannot store telegram audio", "err", err)
		return "", false
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(resp.Body, telegramDownloadLimit)); err != nil {
		t.logger.Warn("cannot write telegram audio", "err", err)
		os.Remove(path)
		return "", false
	}
	return path, true
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "👋 Hello! I'm HealthBot, your health information assistant.\n\nSend me a question by text or voice note and I'll help you understand it.\n\nCommands:\n/status — Show bot status\n/clear — Clear conversation\n/help — Show this message")
	case "help":
		t.sendMessage(chatID, "📖 *HealthBot Help*\n\nAsk me about symptoms, medications, or general health topics. I search up-to-date medical sources and explain things simply.\n\nYou can also send a voice note and I'll transcribe it.\n\nI am not a doctor and can't diagnose you. Always check with a medical professional.\n\nCommands:\n/status — Bot status\n/clear — Clear conversation")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("🟢 HealthBot\n\nBot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	case "clear":
		t.publish(ctx, chatID, msg.From.ID, domain.PlainText("/clear"), msg.Date)
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) publish(ctx context.Context, chatID, userID int64, input domain.TurnInput, date int) {
	if err := t.bus.Publish(ctx, domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Input:     input,
		Timestamp: time.Unix(int64(date), 0),
	}); err != nil {
		t.logger.Error("publish failed", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try Markdown first → on parse error fallback to plain text → retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt — immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
			// Plain also failed — fall through to backoff loop.
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
