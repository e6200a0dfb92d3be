package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/identity"
	"github.com/ashureev/replybot/internal/store"
	"github.com/ashureev/replybot/internal/transport"
)

// Option customises a Manager.
type Option func(*Manager)

// WithNotifier sets where session notices are published.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetention sets how long a Disconnected or Failed session stays
// registered before Prune forgets it.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// DefaultRetention is how long terminal sessions stay listed.
const DefaultRetention = 10 * time.Minute

// Manager owns every session in the process.
type Manager struct {
	factory   transport.Factory
	replier   Replier
	repo      store.Repository
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	started   time.Time
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. Sessions get their transport from factory and
// hand inbound messages to replier.
func NewManager(factory transport.Factory, replier Replier, repo store.Repository, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:   factory,
		replier:   replier,
		repo:      repo,
		notifier:  nopNotifier{},
		logger:    slog.Default(),
		now:       time.Now,
		retention: DefaultRetention,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.now()
	return m
}

// Start creates a session for ownerID and connects its transport. The
// session is registered even when the transport fails to come up; it is then
// Failed and the returned error wraps domain.ErrTransportInit.
func (m *Manager) Start(ctx context.Context, ownerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := identity.NewSessionID()
	if err != nil {
		return "", err
	}

	t, factoryErr := m.factory(id)
	if factoryErr != nil {
		t = closedTransport{}
	}

	sctx, cancel := context.WithCancel(m.ctx)
	now := m.now()
	s := &Session{
		id:           id,
		ownerID:      ownerID,
		createdAt:    now,
		lastActivity: now,
		transport:    t,
		replier:      m.replier,
		repo:         m.repo,
		notifier:     m.notifier,
		logger:       m.logger.With("session_id", id),
		now:          m.now,
		ctx:          sctx,
		cancel:       cancel,
		state:        domain.StateInitializing,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if factoryErr != nil {
		err := factoryErr
		if !errors.Is(err, domain.ErrTransportInit) {
			err = fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
		}
		s.fail(NoticeFailed, err)
		return id, err
	}

	s.persist()
	s.logger.Info("Session starting", "owner_id", ownerID)
	if err := s.connect(); err != nil {
		return id, err
	}
	return id, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop stops the session with id and forgets it.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Stop()
	return nil
}

// CloseOwner stops every session started by ownerID and returns how many
// were stopped. It is called when a control connection goes away.
func (m *Manager) CloseOwner(ownerID string) int {
	if ownerID == "" {
		return 0
	}

	m.mu.Lock()
	var owned []*Session
	for id, s := range m.sessions {
		if s.ownerID == ownerID {
			owned = append(owned, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range owned {
		s.Stop()
	}
	if len(owned) > 0 {
		m.logger.Info("Closed sessions for owner", "owner_id", ownerID, "count", len(owned))
	}
	return len(owned)
}

// StopAll stops every session. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
	m.cancel()
}

// Prune forgets sessions that have been Disconnected or Failed for longer
// than the retention period and returns how many were removed.
func (m *Manager) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.state.Terminal() && now.Sub(s.lastActivity) >= m.retention
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("Pruned finished sessions", "count", n)
	}
	return n
}

// SendMessage sends text from session id to a chat.
func (m *Manager) SendMessage(ctx context.Context, id, to, text string) error {
	s, ok := m.Get(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return s.SendMessage(ctx, to, text)
}

// ActiveCount returns the number of sessions not yet Disconnected or Failed.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if !s.State().Terminal() {
			n++
		}
	}
	return n
}

// List returns snapshots of all registered sessions, oldest first.
func (m *Manager) List() []domain.SessionInfo {
	m.mu.RLock()
	infos := make([]domain.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Uptime returns how long the manager has been running.
func (m *Manager) Uptime() time.Duration {
	return m.now().Sub(m.started)
}

// closedTransport stands in for a transport that was never created.
type closedTransport struct{}

func (closedTransport) Connect(context.Context, transport.EventHandler) error {
	return domain.ErrTransportInit
}

func (closedTransport) Send(context.Context, string, string) error { return domain.ErrNotReady }

func (closedTransport) SetPresence(context.Context, string, bool) error { return domain.ErrNotReady }

func (closedTransport) Close() error { return nil }
