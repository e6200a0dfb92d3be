package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/identity"
	"github.com/ashureev/replybot/internal/session"
	"github.com/go-chi/chi/v5"
)

const (
	startTimeout = 30 * time.Second
	maxBodyBytes = 64 << 10
)

// SessionHandler handles session and stats endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.List)
			r.Post("/", h.Start)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Stop)
			r.Post("/{id}/messages", h.SendMessage)
		})
	})
}

// Start creates a session and connects its transport.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()

	id, err := h.sessions.Start(ctx, "")
	if err != nil {
		slog.Error("Failed to start session", "error", err, "session_id", id)
		if id == "" {
			Error(w, http.StatusInternalServerError, "failed to start session")
			return
		}
		JSON(w, http.StatusBadGateway, map[string]string{
			"error":      "transport_init_failed",
			"message":    err.Error(),
			"session_id": id,
		})
		return
	}

	s, ok := h.sessions.Get(id)
	if !ok {
		// Stopped concurrently.
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusCreated, s.Info())
}

// List returns every registered session.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.sessions.List(),
	})
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, valid := sessionID(r)
	s, ok := h.sessions.Get(id)
	if !valid || !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s.Info())
}

// Stop stops and forgets a session.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, valid := sessionID(r)
	if !valid {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err := h.sessions.Stop(id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to stop session", "error", err, "session_id", id)
		Error(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	slog.Info("Session stopped via API", "session_id", id)
	JSON(w, http.StatusOK, map[string]string{"status": "stopped", "session_id": id})
}

// sessionID reads the {id} route parameter and reports whether it is
// shaped like an id the manager hands out.
func sessionID(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	return id, identity.ValidSessionID(id)
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessage sends an operator message through a ready session.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, valid := sessionID(r)
	if !valid {
		JSON(w, http.StatusNotFound, map[string]string{"result": session.SendNotFound, "session_id": id})
		return
	}

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" || req.Text == "" {
		Error(w, http.StatusBadRequest, "to and text are required")
		return
	}

	err := h.sessions.SendMessage(r.Context(), id, req.To, req.Text)
	result := session.SendResult(err)

	status := http.StatusOK
	switch result {
	case session.SendNotFound:
		status = http.StatusNotFound
	case session.SendNotReady:
		status = http.StatusConflict
	case session.SendError:
		slog.Warn("Operator send failed", "error", err, "session_id", id)
		status = http.StatusBadGateway
	}
	JSON(w, status, map[string]string{"result": result, "session_id": id})
}

// Stats returns live and persisted counters.
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := map[string]interface{}{
		"activeSessions": h.sessions.ActiveCount(),
		"uptime":         int64(h.sessions.Uptime().Seconds()),
	}

	st, err := h.repo.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read stats", "error", err)
		resp["totalMessages"] = 0
		resp["error"] = "stats unavailable"
		JSON(w, http.StatusOK, resp)
		return
	}
	resp["totalMessages"] = st.TotalMessages
	resp["messagesReceived"] = st.MessagesReceived
	resp["repliesSent"] = st.RepliesSent
	resp["sessions"] = st.Sessions
	JSON(w, http.StatusOK, resp)
}
