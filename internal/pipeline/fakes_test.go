package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/generator"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	block    bool
	panicMsg string
	requests []generator.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req generator.Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	reply, err, block, panicMsg := g.reply, g.err, g.block, g.panicMsg
	g.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if block {
		<-ctx.Done()
		return "", errors.Join(generator.ErrTimeout, ctx.Err())
	}
	return reply, err
}

func (g *fakeGenerator) calls() []generator.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generator.Request(nil), g.requests...)
}

type fakeRepo struct {
	mu       sync.Mutex
	messages map[string]domain.Message
	order    []string
	received int
	replies  int
	readErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: make(map[string]domain.Message)}
}

func (r *fakeRepo) SaveSession(context.Context, domain.SessionInfo) error { return nil }

func (r *fakeRepo) SaveMessage(_ context.Context, _ string, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[msg.ID]; ok {
		return nil
	}
	r.messages[msg.ID] = msg
	r.order = append(r.order, msg.ID)
	return nil
}

func (r *fakeRepo) RecentMessages(_ context.Context, senderID string, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var out []domain.Message
	for _, id := range r.order {
		if m := r.messages[id]; m.SenderID == senderID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *fakeRepo) RecordStat(_ context.Context, _ string, _ time.Time, received, replies int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received += received
	r.replies += replies
	return nil
}

func (r *fakeRepo) Stats(context.Context) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Stats{
		TotalMessages:    int64(len(r.messages)),
		MessagesReceived: int64(r.received),
		RepliesSent:      int64(r.replies),
	}, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func (r *fakeRepo) saved() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.messages[id])
	}
	return out
}

func (r *fakeRepo) counters() (received, replies int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.replies
}

type sentMessage struct {
	chatID, text string
}

type fakeOutbound struct {
	mu       sync.Mutex
	sent     []sentMessage
	presence []bool
	sendErr  error
}

func (o *fakeOutbound) Send(_ context.Context, chatID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendErr != nil {
		return o.sendErr
	}
	o.sent = append(o.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (o *fakeOutbound) SetPresence(_ context.Context, _ string, typing bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.presence = append(o.presence, typing)
	return nil
}

func (o *fakeOutbound) sends() []sentMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sentMessage(nil), o.sent...)
}
