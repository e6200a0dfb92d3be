// Package control serves the websocket that dashboards use to drive sessions
// and receive their notices.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/identity"
	"github.com/ashureev/replybot/internal/session"
	"github.com/coder/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	startTimeout = 30 * time.Second
)

// Sessions is the part of session.Manager the hub drives.
type Sessions interface {
	Start(ctx context.Context, ownerID string) (string, error)
	Stop(id string) error
	SendMessage(ctx context.Context, id, to, text string) error
	CloseOwner(ownerID string) int
}

// Hub tracks control connections. Each connection owns the sessions it
// started; they are stopped when it closes.
type Hub struct {
	sessions      Sessions
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger

	mu    sync.RWMutex
	conns map[string]*client
}

type client struct {
	id   string
	send chan []byte
}

// command is a client → server frame.
type command struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	To        string `json:"to,omitempty"`
	Text      string `json:"text,omitempty"`
}

// NewHub creates a hub. SetSessions must be called before serving.
func NewHub(allowedOrigin string, isDev bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
		conns:         make(map[string]*client),
	}
}

// SetSessions sets the session manager the hub drives.
func (h *Hub) SetSessions(s Sessions) {
	h.sessions = s
}

// Count returns the number of open control connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Notify implements session.Notifier. Notices for an owned session go to the
// owning connection; the rest are broadcast. Slow connections lose notices
// rather than block the session.
func (h *Hub) Notify(n session.Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("Failed to encode notice", "error", err, "type", n.Type)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if n.OwnerID != "" {
		if c, ok := h.conns[n.OwnerID]; ok {
			h.enqueue(c, data, n.Type)
		}
		return
	}
	for _, c := range h.conns {
		h.enqueue(c, data, n.Type)
	}
}

func (h *Hub) enqueue(c *client, data []byte, kind string) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Control connection backlogged, dropping notice", "conn_id", c.id, "type", kind)
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	connID, err := identity.NewConnID()
	if err != nil {
		http.Error(w, "failed to allocate connection id", http.StatusInternalServerError)
		return
	}
	logger := h.logger.With("conn_id", connID)
	logger.Info("Control connection request", "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "control session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := &client{id: connID, send: make(chan []byte, sendBuffer)}
	h.register(c)
	logger.Info("Control connection open", "clients", h.Count())
	defer func() {
		h.unregister(c)
		if n := h.sessions.CloseOwner(connID); n > 0 {
			logger.Info("Stopped sessions of closed control connection", "count", n)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, c, logger)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, c, logger)
	}()

	wg.Wait()
	logger.Info("Control connection closed")
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
}

func (h *Hub) writeLoop(ctx context.Context, ws *websocket.Conn, c *client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, c *client, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(c, map[string]string{"type": "error", "error": "invalid_json"})
			continue
		}
		h.handle(ctx, c, cmd, logger)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, cmd command, logger *slog.Logger) {
	switch cmd.Type {
	case "ping":
		h.reply(c, map[string]string{"type": "pong"})

	case "start_session":
		startCtx, cancel := context.WithTimeout(ctx, startTimeout)
		id, err := h.sessions.Start(startCtx, c.id)
		cancel()
		if err != nil {
			logger.Warn("Failed to start session", "error", err, "session_id", id)
			h.reply(c, map[string]string{"type": "error", "error": errorCode(err), "message": err.Error(), "session_id": id})
			return
		}
		h.reply(c, map[string]string{"type": "session_started", "session_id": id})

	case "stop_session":
		if !identity.ValidSessionID(cmd.SessionID) {
			h.reply(c, map[string]string{"type": "error", "error": errorCode(domain.ErrSessionNotFound), "session_id": cmd.SessionID})
			return
		}
		if err := h.sessions.Stop(cmd.SessionID); err != nil {
			h.reply(c, map[string]string{"type": "error", "error": errorCode(err), "session_id": cmd.SessionID})
			return
		}
		h.reply(c, map[string]string{"type": "session_stopped", "session_id": cmd.SessionID})

	case "send_message":
		if cmd.To == "" || cmd.Text == "" {
			h.reply(c, map[string]string{"type": "error", "error": "invalid_request", "session_id": cmd.SessionID})
			return
		}
		err := domain.ErrSessionNotFound
		if identity.ValidSessionID(cmd.SessionID) {
			err = h.sessions.SendMessage(ctx, cmd.SessionID, cmd.To, cmd.Text)
		}
		if err != nil {
			logger.Info("Operator send failed", "error", err, "session_id", cmd.SessionID)
		}
		h.reply(c, map[string]string{"type": "send_result", "session_id": cmd.SessionID, "result": session.SendResult(err)})

	default:
		h.reply(c, map[string]string{"type": "error", "error": "unknown_command"})
	}
}

func (h *Hub) reply(c *client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode reply", "error", err)
		return
	}
	h.enqueue(c, data, "reply")
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrTransportInit):
		return "transport_init_failed"
	default:
		return "internal_error"
	}
}

var _ session.Notifier = (*Hub)(nil)
