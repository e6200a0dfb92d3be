// Package session runs chat transport connections and the manager that owns them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/pipeline"
	"github.com/ashureev/replybot/internal/store"
	"github.com/ashureev/replybot/internal/transport"
)

const persistTimeout = 5 * time.Second

// Replier handles one inbound message for a session.
type Replier interface {
	Handle(ctx context.Context, sessionID string, out transport.Outbound, msg domain.Message) pipeline.Result
}

// Notice types published to a Notifier.
const (
	NoticeQR           = "qr"
	NoticeReady        = "ready"
	NoticeAuthFailure  = "auth_failure"
	NoticeDisconnected = "disconnected"
	NoticeFailed       = "failed"
	NoticeMessage      = "message"
	NoticeReply        = "reply"
)

// Notice is a session event for the control surface.
type Notice struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	OwnerID   string              `json:"-"`
	State     string              `json:"state"`
	QR        string              `json:"qr,omitempty"`
	Account   *domain.AccountInfo `json:"account,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Message   *domain.Message     `json:"message,omitempty"`
	Outcome   string              `json:"outcome,omitempty"`
	Reply     string              `json:"reply,omitempty"`
	Fallback  bool                `json:"fallback,omitempty"`
}

// Notifier receives session notices. Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// Session is one transport connection and its lifecycle state. Transport
// events are handled serially; inbound messages run through the Replier
// inline, so one sender's replies go out in order.
type Session struct {
	id        string
	ownerID   string
	createdAt time.Time

	transport transport.Transport
	replier   Replier
	repo      store.Repository
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        domain.SessionState
	account      *domain.AccountInfo
	lastErr      string
	lastActivity time.Time
	released     bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) OwnerID() string { return s.ownerID }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() domain.SessionInfo {
	info := domain.SessionInfo{
		ID:             s.id,
		OwnerID:        s.ownerID,
		State:          s.state,
		StateName:      s.state.String(),
		LastError:      s.lastErr,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
	}
	if s.account != nil {
		acc := *s.account
		info.Account = &acc
	}
	return info
}

// connect brings the transport up. On failure the session is Failed.
func (s *Session) connect() error {
	if err := s.transport.Connect(s.ctx, s); err != nil {
		if !errors.Is(err, domain.ErrTransportInit) {
			err = fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
		}
		s.fail(NoticeFailed, err)
		return err
	}
	return nil
}

// HandleEvent implements transport.EventHandler.
func (s *Session) HandleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventQR:
		s.mu.Lock()
		if s.state == domain.StateInitializing {
			s.setStateLocked(domain.StateAwaitingAuth)
		}
		state := s.state
		s.mu.Unlock()
		if state != domain.StateAwaitingAuth {
			s.logger.Debug("Ignoring QR challenge", "state", state)
			return
		}
		s.logger.Info("QR challenge received")
		s.publish(Notice{Type: NoticeQR, QR: ev.QR})

	case transport.EventReady:
		s.mu.Lock()
		ok := s.setStateLocked(domain.StateReady)
		if ok {
			acc := ev.Account
			s.account = &acc
		}
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("Ignoring ready event", "state", s.State())
			return
		}
		s.logger.Info("Session ready", "account_id", ev.Account.ID)
		s.persist()
		acc := ev.Account
		s.publish(Notice{Type: NoticeReady, Account: &acc})

	case transport.EventAuthFailure:
		s.fail(NoticeAuthFailure, fmt.Errorf("%w: %s", domain.ErrAuthFailure, ev.Reason))

	case transport.EventDisconnected:
		s.mu.Lock()
		ok := s.setStateLocked(domain.StateDisconnected)
		if ok {
			s.lastErr = ev.Reason
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		s.logger.Warn("Session disconnected", "reason", ev.Reason)
		s.persist()
		s.publish(Notice{Type: NoticeDisconnected, Reason: ev.Reason})
		s.release()

	case transport.EventMessage:
		s.dispatch(ev.Message)

	default:
		s.logger.Debug("Ignoring unknown transport event", "kind", ev.Kind)
	}
}

func (s *Session) dispatch(msg domain.Message) {
	s.mu.Lock()
	state := s.state
	if state == domain.StateReady {
		s.lastActivity = s.now()
	}
	s.mu.Unlock()

	if state != domain.StateReady {
		s.logger.Debug("Discarding message outside ready state", "state", state, "message_id", msg.ID)
		return
	}

	if msg.IsDirectText() {
		m := msg
		s.publish(Notice{Type: NoticeMessage, Message: &m})
	}

	res := s.replier.Handle(s.ctx, s.id, s.transport, msg)
	if res.Outcome == pipeline.OutcomeSkipped {
		return
	}
	n := Notice{Type: NoticeReply, Outcome: res.Outcome.String(), Reply: res.Reply, Fallback: res.Fallback}
	if res.Err != nil {
		n.Reason = res.Err.Error()
	}
	s.publish(n)
}

// SendMessage sends text to a chat on behalf of the operator.
func (s *Session) SendMessage(ctx context.Context, to, text string) error {
	if s.State() != domain.StateReady {
		return domain.ErrNotReady
	}
	if err := s.transport.Send(ctx, to, text); err != nil {
		if !errors.Is(err, domain.ErrSend) {
			err = fmt.Errorf("%w: %v", domain.ErrSend, err)
		}
		return err
	}
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
	return nil
}

// Stop cancels in-flight work, moves the session to Disconnected and releases
// the transport. A Failed session stays Failed. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	changed := s.setStateLocked(domain.StateDisconnected)
	if changed {
		s.lastErr = "stopped"
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("Session stopped")
		s.persist()
		s.publish(Notice{Type: NoticeDisconnected, Reason: "stopped"})
	}
	s.release()
}

func (s *Session) fail(noticeType string, err error) {
	s.mu.Lock()
	ok := s.setStateLocked(domain.StateFailed)
	if ok {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Error("Session failed", "error", err)
	s.persist()
	s.publish(Notice{Type: noticeType, Reason: err.Error()})
	s.release()
}

// setStateLocked applies a monotonic transition. Callers hold s.mu.
func (s *Session) setStateLocked(next domain.SessionState) bool {
	if !s.state.CanTransition(next) {
		return false
	}
	s.state = next
	s.lastActivity = s.now()
	return true
}

// release cancels the session context and closes the transport once.
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.cancel()
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("Failed to close transport", "error", err)
	}
}

func (s *Session) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.SaveSession(ctx, s.Info()); err != nil {
		s.logger.Warn("Failed to save session", "error", err)
	}
}

func (s *Session) publish(n Notice) {
	n.SessionID = s.id
	n.OwnerID = s.ownerID
	n.State = s.State().String()
	s.notifier.Notify(n)
}

var _ transport.EventHandler = (*Session)(nil)
