//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/pipeline"
	"github.com/ashureev/replybot/internal/transport"
)

type fakeRepo struct {
	mu      sync.Mutex
	stats   domain.Stats
	pingErr error
}

func (f *fakeRepo) SaveSession(context.Context, domain.SessionInfo) error     { return nil }
func (f *fakeRepo) SaveMessage(context.Context, string, domain.Message) error { return nil }
func (f *fakeRepo) RecentMessages(context.Context, string, int) ([]domain.Message, error) {
	return nil, nil
}
func (f *fakeRepo) RecordStat(context.Context, string, time.Time, int, int) error { return nil }
func (f *fakeRepo) Close() error                                                  { return nil }

func (f *fakeRepo) Stats(context.Context) (domain.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeRepo) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

type fakeTransport struct {
	mu      sync.Mutex
	handler transport.EventHandler
	fail    bool
	sent    int
}

func (t *fakeTransport) Connect(_ context.Context, h transport.EventHandler) error {
	if t.fail {
		return errors.New("connection refused")
	}
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Send(context.Context, string, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	return nil
}

func (t *fakeTransport) SetPresence(context.Context, string, bool) error { return nil }
func (t *fakeTransport) Close() error                                    { return nil }

func (t *fakeTransport) ready() {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h.HandleEvent(transport.Event{Kind: transport.EventReady, Account: domain.AccountInfo{ID: "91999", Name: "Bot"}})
}

type transports struct {
	mu   sync.Mutex
	byID map[string]*fakeTransport
	fail bool
}

func (p *transports) factory(id string) (transport.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := &fakeTransport{fail: p.fail}
	p.byID[id] = t
	return t, nil
}

func (p *transports) get(id string) *fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID[id]
}

type nopReplier struct{}

func (nopReplier) Handle(context.Context, string, transport.Outbound, domain.Message) pipeline.Result {
	return pipeline.Result{Outcome: pipeline.OutcomeSkipped}
}

type staticCount int

func (c staticCount) Count() int { return int(c) }
