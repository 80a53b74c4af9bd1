package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"edgechat/internal/domain"
	"edgechat/internal/metrics"

	"github.com/gorilla/websocket"
)

// WSOptions configures the WebSocket channel.
type WSOptions struct {
	Host   string
	Port   int
	Path   string // WebSocket endpoint path (default: /ws)
	Logger *slog.Logger
}

// WebSocketChannel provides real-time bidirectional communication. Finished
// assistant turns are pushed to every client attached to the same session.
type WebSocketChannel struct {
	host   string
	port   int
	path   string
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

// WSMessage is the JSON protocol for WebSocket communication. Inbound frames
// use Type "message" with Content set; outbound "turn" frames carry the
// merged display turn.
type WSMessage struct {
	Type      string                 `json:"type"` // "message" | "turn" | "status"
	Content   string                 `json:"content,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	SenderID  string                 `json:"sender_id,omitempty"`
	Turn      *domain.DisplayMessage `json:"turn,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

func NewWebSocketChannel(opts WSOptions) *WebSocketChannel {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if opts.Port == 0 {
		opts.Port = 8081
	}
	return &WebSocketChannel{
		host:    opts.Host,
		port:    opts.Port,
		path:    opts.Path,
		logger:  opts.Logger,
		clients: make(map[string]*wsClient),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Start begins the WebSocket server and blocks until ctx is cancelled.
func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.MessageBus) error {
	ws.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.handleUpgrade)

	ws.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", ws.host, ws.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bus.OnOutbound("websocket", func(msg domain.OutboundMessage) {
		turn := msg.Turn
		ws.broadcastToSession(msg.SessionID, WSMessage{
			Type:      "turn",
			SessionID: msg.SessionID,
			Turn:      &turn,
		})
	})

	ws.logger.Info("websocket server starting", "addr", ws.server.Addr, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ws.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (ws *WebSocketChannel) Stop() error {
	ws.closeAllClients()
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}

	client := &wsClient{
		conn:      conn,
		sessionID: sessionID,
	}

	clientID := fmt.Sprintf("%s-%p", sessionID, conn)
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()
	metrics.WSConnections.Inc()

	ws.logger.Info("websocket client connected", "client_id", clientID, "session", sessionID)

	client.send(WSMessage{Type: "status", Content: "connected", SessionID: sessionID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		metrics.WSConnections.Dec()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			ws.logger.Warn("invalid websocket message", "err", err)
			continue
		}

		if wsMsg.Type != "message" || wsMsg.Content == "" {
			continue
		}
		ws.bus.Publish(domain.InboundMessage{
			Channel:   "websocket",
			SessionID: sessionID,
			SenderID:  wsMsg.SenderID,
			Content:   wsMsg.Content,
			Timestamp: time.Now(),
		})
	}
}

func (ws *WebSocketChannel) broadcastToSession(sessionID string, msg WSMessage) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, client := range ws.clients {
		if client.sessionID == sessionID || sessionID == "" {
			client.mu.Lock()
			err := client.conn.WriteMessage(websocket.TextMessage, data)
			client.mu.Unlock()
			if err != nil {
				ws.logger.Debug("websocket write failed", "err", err)
			}
		}
	}
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
