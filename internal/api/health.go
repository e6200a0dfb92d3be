package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/replybot/internal/session"
	"github.com/ashureev/replybot/internal/store"
	"github.com/go-chi/chi/v5"
)

// ClientCounter reports how many control connections are open.
type ClientCounter interface {
	Count() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	sessions *session.Manager
	clients  ClientCounter
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler. clients may be nil.
func NewHealthHandler(repo store.Repository, sessions *session.Manager, clients ClientCounter) *HealthHandler {
	return &HealthHandler{repo: repo, sessions: sessions, clients: clients, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":         "healthy",
		"activeSessions": h.sessions.ActiveCount(),
		"uptime":         int64(h.sessions.Uptime().Seconds()),
		"checks":         checks,
	}
	if h.clients != nil {
		status["controlClients"] = h.clients.Count()
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
