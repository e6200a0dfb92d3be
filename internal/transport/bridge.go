package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	defaultAckTimeout  = 10 * time.Second
	defaultDialTimeout = 15 * time.Second
	maxFrameSize       = 1 << 20
)

var errBridgeClosed = errors.New("bridge connection closed")

// BridgeConfig configures the websocket bridge client.
type BridgeConfig struct {
	URL        string
	Token      string
	AckTimeout time.Duration
}

// frame is the JSON envelope exchanged with the bridge.
//
// Bridge → client: qr, ready, auth_failure, disconnected, message, ack.
// Client → bridge: send, presence. Every command carries a ref that the
// bridge echoes in its ack.
type frame struct {
	Type    string              `json:"type"`
	Ref     string              `json:"ref,omitempty"`
	QR      string              `json:"qr,omitempty"`
	Reason  string              `json:"reason,omitempty"`
	Error   string              `json:"error,omitempty"`
	OK      bool                `json:"ok,omitempty"`
	Account *domain.AccountInfo `json:"account,omitempty"`
	Message *bridgeMessage      `json:"message,omitempty"`
	To      string              `json:"to,omitempty"`
	Text    string              `json:"text,omitempty"`
	Typing  *bool               `json:"typing,omitempty"`
}

type bridgeMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Name      string `json:"name,omitempty"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ChatID    string `json:"chatId"`
	IsGroup   bool   `json:"isGroup"`
	FromMe    bool   `json:"fromMe"`
}

type ackResult struct {
	err error
}

// Bridge is a Transport backed by a websocket connection to a chat bridge
// process that owns the actual chat-network client.
type Bridge struct {
	cfg       BridgeConfig
	sessionID string
	logger    *slog.Logger

	conn    *websocket.Conn
	queue   *eventQueue
	cancel  context.CancelFunc
	closing atomic.Bool
	once    sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan ackResult
}

// NewBridgeFactory returns a Factory creating one Bridge per session.
func NewBridgeFactory(cfg BridgeConfig, logger *slog.Logger) Factory {
	return func(sessionID string) (Transport, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: bridge URL not configured", domain.ErrTransportInit)
		}
		return NewBridge(cfg, sessionID, logger), nil
	}
}

// NewBridge creates an unconnected bridge client for sessionID.
func NewBridge(cfg BridgeConfig, sessionID string, logger *slog.Logger) *Bridge {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		sessionID: sessionID,
		logger:    logger.With("session_id", sessionID),
		queue:     newEventQueue(),
		pending:   make(map[string]chan ackResult),
	}
}

// Connect dials the bridge and starts the reader and dispatcher goroutines.
func (b *Bridge) Connect(ctx context.Context, h EventHandler) error {
	target, err := b.endpoint()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if b.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + b.cfg.Token}}
	}
	conn, _, err := websocket.Dial(dialCtx, target, opts)
	if err != nil {
		return fmt.Errorf("%w: dial bridge: %v", domain.ErrTransportInit, err)
	}
	conn.SetReadLimit(maxFrameSize)

	runCtx, runCancel := context.WithCancel(ctx)
	b.conn = conn
	b.cancel = runCancel

	go b.readLoop(runCtx)
	go b.dispatchLoop(runCtx, h)

	b.logger.Info("Bridge connected", "url", b.cfg.URL)
	return nil
}

func (b *Bridge) endpoint() (string, error) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse bridge URL: %w", err)
	}
	q := u.Query()
	q.Set("session", b.sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close stops the goroutines and closes the socket.
func (b *Bridge) Close() error {
	var err error
	b.once.Do(func() {
		b.closing.Store(true)
		if b.cancel != nil {
			b.cancel()
		}
		b.failPending(errBridgeClosed)
		if b.conn != nil {
			if closeErr := b.conn.Close(websocket.StatusNormalClosure, "session stopped"); closeErr != nil && websocket.CloseStatus(closeErr) == -1 {
				err = closeErr
			}
		}
	})
	return err
}

// Send delivers text to chatID and waits for the bridge to acknowledge it.
func (b *Bridge) Send(ctx context.Context, chatID, text string) error {
	if err := b.call(ctx, frame{Type: "send", To: chatID, Text: text}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSend, err)
	}
	return nil
}

// SetPresence toggles the composing indicator on chatID.
func (b *Bridge) SetPresence(ctx context.Context, chatID string, typing bool) error {
	return b.call(ctx, frame{Type: "presence", To: chatID, Typing: &typing})
}

func (b *Bridge) call(ctx context.Context, f frame) error {
	if b.conn == nil || b.closing.Load() {
		return errBridgeClosed
	}

	f.Ref = uuid.NewString()
	ch := make(chan ackResult, 1)
	b.pendingMu.Lock()
	b.pending[f.Ref] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, f.Ref)
		b.pendingMu.Unlock()
	}()

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Type, err)
	}
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}

	timer := time.NewTimer(b.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s not acknowledged within %s", f.Type, b.cfg.AckTimeout)
	}
}

func (b *Bridge) resolve(ref string, err error) {
	b.pendingMu.Lock()
	ch, ok := b.pending[ref]
	b.pendingMu.Unlock()
	if !ok {
		b.logger.Debug("Ack for unknown ref", "ref", ref)
		return
	}
	select {
	case ch <- ackResult{err: err}:
	default:
	}
}

func (b *Bridge) failPending(err error) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for _, ch := range b.pending {
		select {
		case ch <- ackResult{err: err}:
		default:
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context) {
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			b.failPending(errBridgeClosed)
			if b.closing.Load() || ctx.Err() != nil {
				return
			}
			reason := err.Error()
			if status := websocket.CloseStatus(err); status != -1 {
				reason = fmt.Sprintf("bridge closed: %s", status)
			}
			b.logger.Warn("Bridge read failed", "error", err)
			b.queue.push(Event{Kind: EventDisconnected, Reason: reason})
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.logger.Warn("Dropping malformed bridge frame", "error", err)
			continue
		}

		if f.Type == "ack" {
			var ackErr error
			if f.Error != "" {
				ackErr = errors.New(f.Error)
			} else if !f.OK {
				ackErr = errors.New("rejected by bridge")
			}
			b.resolve(f.Ref, ackErr)
			continue
		}

		ev, ok := translate(f)
		if !ok {
			b.logger.Debug("Ignoring bridge frame", "type", f.Type)
			continue
		}
		b.queue.push(ev)
	}
}

func (b *Bridge) dispatchLoop(ctx context.Context, h EventHandler) {
	for {
		ev, ok := b.queue.pop(ctx)
		if !ok {
			return
		}
		h.HandleEvent(ev)
		if ev.Kind == EventDisconnected {
			return
		}
	}
}

func translate(f frame) (Event, bool) {
	switch f.Type {
	case "qr":
		return Event{Kind: EventQR, QR: f.QR}, true
	case "ready":
		ev := Event{Kind: EventReady}
		if f.Account != nil {
			ev.Account = *f.Account
		}
		return ev, true
	case "auth_failure":
		return Event{Kind: EventAuthFailure, Reason: f.Reason}, true
	case "disconnected":
		return Event{Kind: EventDisconnected, Reason: f.Reason}, true
	case "message":
		if f.Message == nil {
			return Event{}, false
		}
		return Event{Kind: EventMessage, Message: toMessage(*f.Message)}, true
	default:
		return Event{}, false
	}
}

func toMessage(m bridgeMessage) domain.Message {
	kind := m.Type
	switch kind {
	case "", "chat", "text":
		kind = domain.KindText
	}
	ts := time.Unix(m.Timestamp, 0)
	if m.Timestamp == 0 {
		ts = time.Now()
	}
	chatID := m.ChatID
	if chatID == "" {
		chatID = m.From
	}
	return domain.Message{
		ID:          m.ID,
		SenderID:    senderKey(m.From),
		DisplayName: m.Name,
		Body:        m.Body,
		Kind:        kind,
		Timestamp:   ts,
		ChatID:      chatID,
		Direction:   domain.DirectionInbound,
		Group:       m.IsGroup || strings.HasSuffix(chatID, "@g.us"),
		FromMe:      m.FromMe,
	}
}

// senderKey strips the network suffix so one person maps to one key.
func senderKey(from string) string {
	if i := strings.IndexByte(from, '@'); i > 0 {
		return from[:i]
	}
	return from
}

var _ Transport = (*Bridge)(nil)
