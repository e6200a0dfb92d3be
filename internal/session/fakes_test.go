package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/pipeline"
	"github.com/ashureev/replybot/internal/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	handler    transport.EventHandler
	connectErr error
	sendErr    error
	sends      []string
	closed     int
}

func (t *fakeTransport) Connect(_ context.Context, h transport.EventHandler) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Send(_ context.Context, chatID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sends = append(t.sends, chatID+":"+text)
	return nil
}

func (t *fakeTransport) SetPresence(context.Context, string, bool) error { return nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) emit(ev transport.Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h.HandleEvent(ev)
}

func (t *fakeTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sends)
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type transportPool struct {
	mu         sync.Mutex
	byID       map[string]*fakeTransport
	connectErr error
	factoryErr error
}

func newTransportPool() *transportPool {
	return &transportPool{byID: make(map[string]*fakeTransport)}
}

func (p *transportPool) factory(id string) (transport.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.factoryErr != nil {
		return nil, p.factoryErr
	}
	t := &fakeTransport{connectErr: p.connectErr}
	p.byID[id] = t
	return t, nil
}

func (p *transportPool) get(id string) *fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID[id]
}

type fakeReplier struct {
	mu        sync.Mutex
	handled   []domain.Message
	block     bool
	started   chan struct{}
	cancelled chan struct{}
}

func (r *fakeReplier) Handle(ctx context.Context, _ string, out transport.Outbound, msg domain.Message) pipeline.Result {
	r.mu.Lock()
	r.handled = append(r.handled, msg)
	block := r.block
	r.mu.Unlock()

	if block {
		close(r.started)
		<-ctx.Done()
		close(r.cancelled)
		return pipeline.Result{Outcome: pipeline.OutcomeFailed, Err: ctx.Err()}
	}
	if err := out.Send(ctx, msg.ChatID, "auto reply"); err != nil {
		return pipeline.Result{Outcome: pipeline.OutcomeFailed, Err: err}
	}
	return pipeline.Result{Outcome: pipeline.OutcomeReplied, Reply: "auto reply"}
}

func (r *fakeReplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handled)
}

type fakeRepo struct {
	mu    sync.Mutex
	saved map[string]domain.SessionInfo
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{saved: make(map[string]domain.SessionInfo)}
}

func (r *fakeRepo) SaveSession(_ context.Context, info domain.SessionInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[info.ID] = info
	return nil
}

func (r *fakeRepo) SaveMessage(context.Context, string, domain.Message) error { return nil }

func (r *fakeRepo) RecentMessages(context.Context, string, int) ([]domain.Message, error) {
	return nil, nil
}

func (r *fakeRepo) RecordStat(context.Context, string, time.Time, int, int) error { return nil }

func (r *fakeRepo) Stats(context.Context) (domain.Stats, error) { return domain.Stats{}, nil }

func (r *fakeRepo) Ping(context.Context) error { return nil }

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) state(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[id].StateName
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Type)
	}
	return out
}

func (n *recordingNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notices[len(n.notices)-1]
}
