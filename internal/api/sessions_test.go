//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/session"
	"github.com/go-chi/chi/v5"
)

type apiEnv struct {
	router     chi.Router
	repo       *fakeRepo
	transports *transports
	mgr        *session.Manager
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	e := &apiEnv{
		repo:       &fakeRepo{},
		transports: &transports{byID: make(map[string]*fakeTransport)},
	}
	e.mgr = session.NewManager(e.transports.factory, nopReplier{}, e.repo)
	t.Cleanup(e.mgr.StopAll)

	base := NewHandler(e.repo, e.mgr)
	e.router = chi.NewRouter()
	NewSessionHandler(base).RegisterRoutes(e.router)
	NewHealthHandler(e.repo, e.mgr, staticCount(2)).RegisterHealth(e.router)
	return e
}

func (e *apiEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

func TestSessionRoutes(t *testing.T) {
	e := newAPIEnv(t)

	rec, body := e.do(t, http.MethodPost, "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %v", rec.Code, body)
	}
	id, _ := body["id"].(string)
	if id == "" || body["state"] != "initializing" {
		t.Fatalf("unexpected start body %v", body)
	}

	rec, body = e.do(t, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if list, _ := body["sessions"].([]interface{}); len(list) != 1 {
		t.Fatalf("expected one session, got %v", body["sessions"])
	}

	rec, body = e.do(t, http.MethodGet, "/api/sessions/"+id, "")
	if rec.Code != http.StatusOK || body["id"] != id {
		t.Fatalf("get: got %d %v", rec.Code, body)
	}

	msg := `{"to":"X@c.us","text":"hello"}`
	rec, body = e.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", msg)
	if rec.Code != http.StatusConflict || body["result"] != session.SendNotReady {
		t.Fatalf("send before ready: got %d %v", rec.Code, body)
	}
	if e.transports.get(id).sent != 0 {
		t.Fatalf("transport called for a session that is not ready")
	}

	e.transports.get(id).ready()
	rec, body = e.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", msg)
	if rec.Code != http.StatusOK || body["result"] != session.SendSuccess {
		t.Fatalf("send: got %d %v", rec.Code, body)
	}

	rec, _ = e.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	rec, _ = e.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second stop: expected 404, got %d", rec.Code)
	}
	rec, body = e.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", msg)
	if rec.Code != http.StatusNotFound || body["result"] != session.SendNotFound {
		t.Fatalf("send after stop: got %d %v", rec.Code, body)
	}
	rec, _ = e.do(t, http.MethodGet, "/api/sessions/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after stop: expected 404, got %d", rec.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	e := newAPIEnv(t)
	_, body := e.do(t, http.MethodPost, "/api/sessions", "")
	id := body["id"].(string)

	tests := []string{`{not json`, `{"to":"X@c.us"}`, `{"text":"hi"}`}
	for _, payload := range tests {
		rec, _ := e.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %s: expected 400, got %d", payload, rec.Code)
		}
	}
}

func TestStartTransportFailure(t *testing.T) {
	e := newAPIEnv(t)
	e.transports.fail = true

	rec, body := e.do(t, http.MethodPost, "/api/sessions", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body["error"] != "transport_init_failed" || body["session_id"] == "" {
		t.Fatalf("unexpected body %v", body)
	}

	s, ok := e.mgr.Get(body["session_id"].(string))
	if !ok || s.State() != domain.StateFailed {
		t.Fatalf("expected failed session to stay registered")
	}
}

func TestStats(t *testing.T) {
	e := newAPIEnv(t)
	e.repo.stats = domain.Stats{TotalMessages: 42, MessagesReceived: 21, RepliesSent: 20, Sessions: 3}
	e.do(t, http.MethodPost, "/api/sessions", "")

	rec, body := e.do(t, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["activeSessions"] != float64(1) || body["totalMessages"] != float64(42) {
		t.Fatalf("unexpected stats %v", body)
	}
	if _, ok := body["uptime"]; !ok {
		t.Fatalf("uptime missing from %v", body)
	}
}

func TestMalformedSessionID(t *testing.T) {
	e := newAPIEnv(t)

	rec, _ := e.do(t, http.MethodGet, "/api/sessions/not-a-session", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get: expected 404, got %d", rec.Code)
	}
	rec, _ = e.do(t, http.MethodDelete, "/api/sessions/not-a-session", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete: expected 404, got %d", rec.Code)
	}
	rec, body := e.do(t, http.MethodPost, "/api/sessions/not-a-session/messages", `{"to":"X@c.us","text":"hi"}`)
	if rec.Code != http.StatusNotFound || body["result"] != session.SendNotFound {
		t.Fatalf("send: got %d %v", rec.Code, body)
	}
}

func TestHealth(t *testing.T) {
	e := newAPIEnv(t)

	rec, body := e.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("healthy: got %d %v", rec.Code, body)
	}
	if body["activeSessions"] != float64(0) {
		t.Fatalf("unexpected activeSessions %v", body["activeSessions"])
	}
	if body["controlClients"] != float64(2) {
		t.Fatalf("unexpected controlClients %v", body["controlClients"])
	}

	e.repo.pingErr = errors.New("database is closed")
	rec, body = e.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("degraded: got %d %v", rec.Code, body)
	}
}
