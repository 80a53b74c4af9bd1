package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"edgechat/internal/config"
	"edgechat/internal/domain"
	"edgechat/internal/metrics"
	"edgechat/internal/session"
)

const (
	maxBodySize    = 1 << 20 // 1MB
	requestTimeout = 120 * time.Second
)

// Web implements domain.Channel as a JSON API for browser front-ends.
// It exposes session CRUD, the merged message history, a synchronous chat
// endpoint, and a per-session SSE stream of finished turns.
type Web struct {
	host     string
	port     int
	bus      domain.MessageBus
	logger   *slog.Logger
	server   *http.Server
	sessions *session.Manager
	version  string

	// Auth settings
	authEnabled  bool
	authUser     string
	authPassHash string

	// SSE clients keyed by session ID for targeted delivery
	sseClients   map[string][]chan domain.DisplayMessage
	sseClientsMu sync.RWMutex

	// Pending chat responses keyed by session ID
	pendingResponses   map[string]chan domain.DisplayMessage
	pendingResponsesMu sync.Mutex
}

type WebOptions struct {
	Host     string
	Port     int
	Auth     config.WebAuth
	Logger   *slog.Logger
	Sessions *session.Manager
	Version  string
}

func NewWeb(opts WebOptions) *Web {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	w := &Web{
		host:             opts.Host,
		port:             opts.Port,
		logger:           opts.Logger,
		sessions:         opts.Sessions,
		version:          opts.Version,
		sseClients:       make(map[string][]chan domain.DisplayMessage),
		pendingResponses: make(map[string]chan domain.DisplayMessage),
	}

	if opts.Auth.Enabled {
		w.authEnabled = true
		w.authUser = opts.Auth.Username
		w.authPassHash = opts.Auth.PasswordHash
	}

	return w
}

func (w *Web) Name() string { return "web" }

// SetBus wires the outbound route: finished turns go to the waiting chat
// request and to any SSE listeners of the same session.
func (w *Web) SetBus(bus domain.MessageBus) {
	w.bus = bus
	bus.OnOutbound("web", func(msg domain.OutboundMessage) {
		w.pendingResponsesMu.Lock()
		ch, ok := w.pendingResponses[msg.SessionID]
		w.pendingResponsesMu.Unlock()
		if ok {
			select {
			case ch <- msg.Turn:
			default:
			}
		}
		w.broadcastSSE(msg.SessionID, msg.Turn)
	})
}

// Handler builds the API routing table.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", w.requireAuth(w.handleListSessions))
	mux.HandleFunc("POST /api/sessions", w.requireAuth(w.handleCreateSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", w.requireAuth(w.handleDeleteSession))
	mux.HandleFunc("GET /api/sessions/{id}/messages", w.requireAuth(w.handleMessages))
	mux.HandleFunc("POST /api/chat", w.requireAuth(w.handleChat))
	mux.HandleFunc("GET /api/events", w.requireAuth(w.handleSSE))
	mux.HandleFunc("GET /status", w.handleStatus) // public endpoint
	mux.Handle("GET /metrics", metrics.Collector.Handler())
	return mux
}

// Start starts the API server and blocks until ctx is cancelled.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	w.SetBus(bus)

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:    addr,
		Handler: w.Handler(),
	}

	w.logger.Info("web API started", "addr", "http://"+addr, "auth", w.authEnabled)

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

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
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
			rw.Header().Set("WWW-Authenticate", `Basic realm="edgechat"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored
// SHA-256 hex hash using constant-time comparison.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.authPassHash)) == 1
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

func (w *Web) handleListSessions(rw http.ResponseWriter, r *http.Request) {
	infos, err := w.sessions.List(r.Context(), 100)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": infos})
}

func (w *Web) handleCreateSession(rw http.ResponseWriter, r *http.Request) {
	id, err := w.sessions.GetOrCreate(r.Context(), "")
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]string{"sessionId": id})
}

func (w *Web) handleDeleteSession(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := w.sessions.Clear(r.Context(), id); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted", "sessionId": id})
}

// handleMessages returns the session's coalesced display turns, not the raw
// record log: fragmented assistant records arrive merged.
func (w *Web) handleMessages(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := w.sessions.DisplayHistory(r.Context(), id, 0)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"sessionId": id, "messages": turns})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

// handleChat publishes the user message and waits for the merged assistant
// turn of the same session.
func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(rw, http.StatusBadRequest, "empty content")
		return
	}

	sessionID, err := w.sessions.GetOrCreate(r.Context(), req.SessionID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	responseCh := make(chan domain.DisplayMessage, 1)
	w.pendingResponsesMu.Lock()
	// A newer request for the same session supersedes the old one
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

	w.bus.Publish(domain.InboundMessage{
		Channel:   "web",
		SessionID: sessionID,
		SenderID:  "web_user",
		Content:   req.Content,
		Timestamp: time.Now(),
	})

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()
	select {
	case turn, ok := <-responseCh:
		if !ok {
			writeError(rw, http.StatusConflict, "superseded by a newer request")
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"sessionId": sessionID, "turn": turn})
	case <-timeout.C:
		writeError(rw, http.StatusGatewayTimeout, "request timed out")
	case <-r.Context().Done():
		// Client disconnected, nothing to write
		w.logger.Info("web client disconnected", "session", sessionID)
	}
}

// handleSSE streams finished turns of one session as server-sent events.
func (w *Web) handleSSE(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(rw, http.StatusBadRequest, "missing session parameter")
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch := make(chan domain.DisplayMessage, 10)

	w.sseClientsMu.Lock()
	w.sseClients[sessionID] = append(w.sseClients[sessionID], ch)
	w.sseClientsMu.Unlock()
	metrics.SSEConnections.Inc()

	defer func() {
		w.sseClientsMu.Lock()
		clients := w.sseClients[sessionID]
		for i, c := range clients {
			if c == ch {
				w.sseClients[sessionID] = append(clients[:i], clients[i+1:]...)
				break
			}
		}
		if len(w.sseClients[sessionID]) == 0 {
			delete(w.sseClients, sessionID)
		}
		w.sseClientsMu.Unlock()
		metrics.SSEConnections.Dec()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-ch:
			data, _ := json.Marshal(turn)
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": w.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// broadcastSSE delivers a finished turn to every SSE client of the session.
func (w *Web) broadcastSSE(sessionID string, turn domain.DisplayMessage) {
	w.sseClientsMu.RLock()
	clients := append([]chan domain.DisplayMessage(nil), w.sseClients[sessionID]...)
	w.sseClientsMu.RUnlock()
	for _, ch := range clients {
		select {
		case ch <- turn:
		default:
		}
	}
}
