package domain

import (
	"time"
)

// SessionState is the lifecycle state of one transport connection.
type SessionState int

const (
	StateInitializing SessionState = iota
	StateAwaitingAuth
	StateReady
	StateDisconnected
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition out of the state is possible.
func (s SessionState) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
// Failed is reachable from any non-terminal state.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return next > s
}

// AccountInfo describes the chat account a session is logged in as.
type AccountInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"owner_id,omitempty"`
	State          SessionState `json:"-"`
	StateName      string       `json:"state"`
	Account        *AccountInfo `json:"account,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}
