package channel

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthbot/internal/domain"
)

const (
	maxFormSize       = 16 << 20 // audio uploads
	requestTimeout    = 120 * time.Second
	sessionCookieName = "healthbot_session"
	sessionMaxAge     = 86400 * 30 // 30 days
)

//go:embed web_templates/*.html
var templateFS embed.FS

// Web implements domain.Channel for the chat UI. It accepts plain text, and
// microphone recordings as multipart uploads when multimodal input is on.
type Web struct {
	host       string
	port       int
	multimodal bool
	uploadsDir string
	bus        domain.MessageBus
	logger     *slog.Logger
	server     *http.Server
	tmpl       *htmltemplate.Template
	version    string

	authEnabled  bool
	authUser     string
	authPassHash string

	// SSE clients keyed by session ID for targeted delivery
	sseClients   map[string]chan string
	sseClientsMu sync.RWMutex

	// Pending responses keyed by session ID
	pendingResponses   map[string]chan string
	pendingResponsesMu sync.Mutex
}

type WebConfig struct {
	Host         string
	Port         int
	Multimodal   bool
	UploadsDir   string // where audio recordings are stored until transcribed
	Bus          domain.MessageBus
	Logger       *slog.Logger
	Version      string
	AuthEnabled  bool
	AuthUser     string
	AuthPassHash string
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = os.TempDir()
	}

	tmpl := htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html"))

	return &Web{
		host:             cfg.Host,
		port:             cfg.Port,
		multimodal:       cfg.Multimodal,
		uploadsDir:       cfg.UploadsDir,
		bus:              cfg.Bus,
		logger:           cfg.Logger,
		tmpl:             tmpl,
		version:          cfg.Version,
		authEnabled:      cfg.AuthEnabled,
		authUser:         cfg.AuthUser,
		authPassHash:     cfg.AuthPassHash,
		sseClients:       make(map[string]chan string),
		pendingResponses: make(map[string]chan string),
	}
}

func (w *Web) Name() string { return "web" }

// Start runs the web server until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	// Route replies back to the session that owns this chat.
	w.bus.OnOutbound("web", func(ctx context.Context, msg domain.OutboundMessage) {
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

	if err := os.MkdirAll(w.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:    addr,
		Handler: w.Handler(),
	}

	w.logger.Info("web UI started",
		"addr", "http://"+addr,
		"multimodal", w.multimodal,
		"auth", w.authEnabled,
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the HTTP routes. Split out for tests.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", w.requireAuth(w.handleChat))
	mux.HandleFunc("POST /chat/send", w.requireAuth(w.handleSend))
	mux.HandleFunc("GET /chat/stream", w.requireAuth(w.handleSSE))
	mux.HandleFunc("POST /chat/clear", w.requireAuth(w.handleClear))
	mux.HandleFunc("GET /status", w.handleStatus) // public endpoint
	return mux
}

func (w *Web) Stop(ctx context.Context) error {
	if w.server != nil {
		return w.server.Shutdown(ctx)
	}
	return nil
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !w.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="HealthBot"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.authPassHash)) == 1
}

// getOrCreateSession returns a persistent session ID from cookies, creating
// one when absent. The session ID doubles as the chat ID.
func (w *Web) getOrCreateSession(r *http.Request, rw http.ResponseWriter) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	b := make([]byte, 16)
	var sessionID string
	if _, err := rand.Read(b); err != nil {
		sessionID = fmt.Sprintf("web_%d", time.Now().UnixNano())
		w.logger.Warn("rand.Read failed, using fallback session ID", "err", err)
	} else {
		sessionID = "web_" + hex.EncodeToString(b)
	}

	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	w.getOrCreateSession(r, rw)
	if err := w.tmpl.ExecuteTemplate(rw, "chat.html", map[string]any{
		"Title":      "HealthBot",
		"Multimodal": w.multimodal,
	}); err != nil {
		w.logger.Error("template error", "template", "chat", "err", err)
	}
}

// handleSend accepts a user turn. The `message` field carries text; when
// multimodal input is enabled an optional `audio` file field carries a
// microphone recording. With multimodal off, empty text is rejected here;
// with it on, the empty-input reply is owned by the pipeline.
func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	_ = r.ParseMultipartForm(maxFormSize)
	message := r.FormValue("message")

	var audioRefs []string
	if w.multimodal {
		if path, ok := w.saveAudioUpload(r); ok {
			audioRefs = append(audioRefs, path)
		}
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	var input domain.TurnInput
	if w.multimodal {
		input = domain.Multimodal(message, audioRefs)
	} else {
		if message == "" {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "empty message"})
			return
		}
		input = domain.PlainText(message)
	}

	sessionID := w.getOrCreateSession(r, rw)

	responseCh := make(chan string, 1)
	w.pendingResponsesMu.Lock()
	if oldCh, exists := w.pendingResponses[sessionID]; exists {
		close(oldCh)
	}
	w.pendingResponses[sessionID] = responseCh
	w.pendingResponsesMu.Unlock()
	defer func() {
		w.pendingResponsesMu.Lock()
		if ch, ok := w.pendingResponses[sessionID]; ok && ch == responseCh {
			delete(w.pendingResponses, sessionID)
		}
		w.pendingResponsesMu.Unlock()
	}()

	if err := w.bus.Publish(r.Context(), domain.InboundMessage{
		Channel:   "web",
		ChatID:    sessionID,
		SenderID:  "web_user",
		Input:     input,
		Timestamp: time.Now(),
	}); err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(rw).Encode(map[string]string{"error": "service unavailable"})
		return
	}

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()
	select {
	case resp, ok := <-responseCh:
		if ok {
			json.NewEncoder(rw).Encode(map[string]string{"content": resp})
		} else {
			rw.WriteHeader(http.StatusConflict)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Superseded by new request"})
		}
	case <-timeout.C:
		rw.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Request timed out"})
	case <-r.Context().Done():
		w.logger.Info("web client disconnected", "session", sessionID)
	}
}

// saveAudioUpload stores the uploaded recording and returns its path. The
// file is removed by the pipeline after transcription.
func (w *Web) saveAudioUpload(r *http.Request) (string, bool) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", false
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".webm"
	}
	path := filepath.Join(w.uploadsDir, "rec_"+uuid.NewString()+ext)

	dst, err := os.Create(path)
	if err != nil {
		w.logger.Warn("cannot store audio upload", "err", err)
		return "", false
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		w.logger.Warn("cannot write audio upload", "err", err)
		os.Remove(path)
		return "", false
	}
	return path, true
}

func (w *Web) handleClear(rw http.ResponseWriter, r *http.Request) {
	// Expire the cookie; the next request starts a fresh session.
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(rw).Encode(map[string]string{"status": "session cleared"})
}

func (w *Web) handleSSE(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := w.getOrCreateSession(r, rw)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch := make(chan string, 10)

	w.sseClientsMu.Lock()
	w.sseClients[sessionID] = ch
	w.sseClientsMu.Unlock()

	defer func() {
		w.sseClientsMu.Lock()
		if existing, ok := w.sseClients[sessionID]; ok && existing == ch {
			delete(w.sseClients, sessionID)
		}
		w.sseClientsMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			data, _ := json.Marshal(map[string]string{"content": msg})
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status":     "ok",
		"version":    w.version,
		"multimodal": w.multimodal,
		"time":       time.Now().Format(time.RFC3339),
	})
}

// sendSSE delivers a message to the SSE client that owns the session.
func (w *Web) sendSSE(sessionID string, content string) {
	w.sseClientsMu.RLock()
	ch, ok := w.sseClients[sessionID]
	w.sseClientsMu.RUnlock()
	if ok {
		select {
		case ch <- content:
		default:
		}
	}
}
