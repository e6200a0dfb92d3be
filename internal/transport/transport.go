// Package transport defines the messaging transport a session drives and a
// websocket client for an external chat bridge process.
package transport

import (
	"context"

	"github.com/ashureev/replybot/internal/domain"
)

// EventKind enumerates what a transport can report.
type EventKind int

const (
	EventQR EventKind = iota + 1
	EventReady
	EventAuthFailure
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one transport notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	QR      string
	Account domain.AccountInfo
	Reason  string
	Message domain.Message
}

// EventHandler receives events. A transport delivers events for one
// connection serially and waits for HandleEvent to return before delivering
// the next one.
type EventHandler interface {
	HandleEvent(ev Event)
}

// Outbound is the part of a transport used to reply.
type Outbound interface {
	Send(ctx context.Context, chatID, text string) error
	SetPresence(ctx context.Context, chatID string, typing bool) error
}

// Transport is one connection to the chat network.
type Transport interface {
	Outbound
	// Connect brings the connection up and starts delivering events to h.
	// Errors wrap domain.ErrTransportInit.
	Connect(ctx context.Context, h EventHandler) error
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Factory creates the transport for a new session.
type Factory func(sessionID string) (Transport, error)
