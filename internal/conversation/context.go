// Package conversation keeps a short, expiring window of recent exchanges per
// sender. It feeds the generator's context and is independent of the durable
// transcript in the store.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/shard"
)

const (
	DefaultCapacity      = 3
	DefaultTTL           = time.Hour
	DefaultSweepInterval = time.Minute
)

// SweepHook runs after every periodic sweep with the sweep time.
type SweepHook func(now time.Time)

// Context holds per-sender exchange windows.
type Context struct {
	entries  *shard.Map[[]domain.Exchange]
	capacity int
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	hooks    []SweepHook
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option configures a Context.
type Option func(*Context)

// WithClock sets the time source used by the periodic sweep.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// WithSweepInterval sets how often the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithSweepHook registers fn to run after every periodic sweep.
func WithSweepHook(fn SweepHook) Option {
	return func(c *Context) { c.hooks = append(c.hooks, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Context keeping up to capacity exchanges per sender for ttl.
func New(capacity int, ttl time.Duration, opts ...Option) *Context {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Context{
		entries:  shard.New[[]domain.Exchange](0),
		capacity: capacity,
		ttl:      ttl,
		interval: DefaultSweepInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends an exchange for senderID, evicting the oldest beyond capacity.
func (c *Context) Record(senderID, userText, replyText string, now time.Time) {
	c.entries.Update(senderID, func(ex []domain.Exchange, _ bool) ([]domain.Exchange, bool) {
		ex = append(ex, domain.Exchange{
			UserText:  userText,
			ReplyText: replyText,
			CreatedAt: now,
		})
		if over := len(ex) - c.capacity; over > 0 {
			ex = append(ex[:0], ex[over:]...)
		}
		return ex, true
	})
}

// Recent returns up to n of the most recent exchanges for senderID, oldest
// first. The result is a copy.
func (c *Context) Recent(senderID string, n int) []domain.Exchange {
	out := []domain.Exchange{}
	if n <= 0 {
		return out
	}
	c.entries.View(senderID, func(ex []domain.Exchange, _ bool) {
		start := 0
		if len(ex) > n {
			start = len(ex) - n
		}
		out = append(out, ex[start:]...)
	})
	return out
}

// Sweep removes exchanges older than the TTL and drops senders left empty.
// It returns the number of senders removed.
func (c *Context) Sweep(now time.Time) int {
	return c.entries.Sweep(func(_ string, ex []domain.Exchange) ([]domain.Exchange, bool) {
		kept := ex[:0]
		for _, e := range ex {
			if now.Sub(e.CreatedAt) <= c.ttl {
				kept = append(kept, e)
			}
		}
		return kept, len(kept) > 0
	})
}

// Len returns the number of senders with live exchanges.
func (c *Context) Len() int {
	return c.entries.Len()
}

// Start launches the periodic sweep. It is a no-op if already running.
func (c *Context) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(sweepCtx, c.done)
}

// Stop cancels the periodic sweep and waits for it to exit.
func (c *Context) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Context) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("Context sweeper started", "interval", c.interval, "ttl", c.ttl)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Context sweeper shutting down", "reason", ctx.Err())
			return
		case <-ticker.C:
			now := c.now()
			if removed := c.Sweep(now); removed > 0 {
				c.logger.Debug("Context sweep removed idle senders", "count", removed)
			}
			for _, hook := range c.hooks {
				hook(now)
			}
		}
	}
}
