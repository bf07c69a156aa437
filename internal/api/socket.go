package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/identity"
	"github.com/ashureev/tutorhub/internal/tutor"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const socketWriteTimeout = 10 * time.Second

// SocketRegistry tracks the open chat socket of each session. A session has
// at most one socket; a newer connection replaces the older one.
type SocketRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{active: make(map[string]*websocket.Conn)}
}

// Register adds conn for sessionID, closing any connection it replaces.
func (m *SocketRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing != conn {
		go closeConn(existing, websocket.StatusNormalClosure, "session replaced")
	}
	m.active[sessionID] = conn
	slog.Info("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the session's current connection.
func (m *SocketRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// CloseSession closes the socket of a session that is no longer active.
func (m *SocketRegistry) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.active[sessionID]
	if !ok {
		return
	}
	// The close handshake waits for the peer, so it must not hold the lock.
	go closeConn(conn, websocket.StatusNormalClosure, "session closed")
	delete(m.active, sessionID)
	slog.Info("Chat socket closed", "session_id", sessionID)
}

// CloseAll closes every open socket.
func (m *SocketRegistry) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conn := range m.active {
		go closeConn(conn, websocket.StatusGoingAway, "server shutting down")
		delete(m.active, sid)
	}
}

func closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	if err := conn.Close(code, reason); err != nil {
		slog.Debug("Failed to close chat socket", "error", err)
	}
}

// Len returns the number of open sockets.
func (m *SocketRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// socketFrame is an inbound chat frame. Frames without a type are turns.
type socketFrame struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// socketReply is an outbound chat frame.
type socketReply struct {
	Type             string              `json:"type"`
	UserMessage      *domain.ChatMessage `json:"user_message,omitempty"`
	AssistantMessage *domain.ChatMessage `json:"assistant_message,omitempty"`
	Error            string              `json:"error,omitempty"`
	Status           int                 `json:"status,omitempty"`
}

// ChatSocketHandler serves /ws/chat. Each inbound frame is one complete turn
// and gets one reply frame.
type ChatSocketHandler struct {
	svc            *tutor.Service
	sockets        *SocketRegistry
	limiter        *RateLimiter
	allowedOrigins []string
	isDev          bool
}

// NewChatSocketHandler creates a new chat socket handler.
func NewChatSocketHandler(svc *tutor.Service, sockets *SocketRegistry, limiter *RateLimiter, allowedOrigins []string, isDev bool) *ChatSocketHandler {
	return &ChatSocketHandler{
		svc:            svc,
		sockets:        sockets,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *ChatSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	sessionID := r.URL.Query().Get("session_id")
	slog.Info("Chat socket request", "user_id", user.ID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	view, err := h.svc.GetSession(r.Context(), user, sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Admins may read other users' sessions but only owners chat.
	if view.UserID != user.ID {
		Error(w, http.StatusNotFound, "session "+sessionID+" not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", user.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", user.ID)
		}
	}()

	h.sockets.Register(sessionID, ws)
	defer h.sockets.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, user, sessionID)
	slog.Info("Chat socket ended", "user_id", user.ID, "session_id", sessionID)
}

func (h *ChatSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *ChatSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, user *domain.User, sessionID string) {
	for {
		var frame socketFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("Chat socket closed by client", "user_id", user.ID)
			} else {
				slog.Warn("Chat socket read error", "error", err, "user_id", user.ID)
			}
			return
		}

		reply := h.handleFrame(ctx, user, sessionID, frame)
		if err := h.write(ctx, ws, reply); err != nil {
			slog.Debug("Failed to write chat reply", "error", err, "user_id", user.ID)
			return
		}
	}
}

func (h *ChatSocketHandler) handleFrame(ctx context.Context, user *domain.User, sessionID string, frame socketFrame) socketReply {
	switch frame.Type {
	case "ping":
		return socketReply{Type: "pong"}
	case "", "message":
	default:
		return socketReply{Type: "error", Error: "unknown frame type", Status: http.StatusBadRequest}
	}

	if h.limiter != nil && !h.limiter.Allow(user.ID) {
		return socketReply{Type: "error", Error: "rate limit exceeded", Status: http.StatusTooManyRequests}
	}

	msgs, err := h.svc.ProcessTurn(ctx, user, sessionID, frame.Content)
	if err != nil {
		status, message := classifyError(err, "/ws/chat")
		return socketReply{Type: "error", Error: message, Status: status}
	}

	turn := newTurnResponse(msgs)
	return socketReply{
		Type:             "turn",
		UserMessage:      turn.UserMessage,
		AssistantMessage: turn.AssistantMessage,
	}
}

func (h *ChatSocketHandler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, v)
}
