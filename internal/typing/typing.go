// Package typing paces replies by showing a composing indicator for a random
// human-looking delay before the reply is sent.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMinDelay = 1000 * time.Millisecond
	DefaultMaxDelay = 3000 * time.Millisecond
)

// Presence is the transport call that toggles the composing indicator.
type Presence interface {
	SetPresence(ctx context.Context, chatID string, typing bool) error
}

// Rand is the subset of *math/rand/v2.Rand used to draw delays.
type Rand interface {
	Int64N(n int64) int64
}

// Simulator draws delays uniformly from [min, max).
type Simulator struct {
	min, max time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	rng Rand
}

// NewSimulator creates a simulator. If max <= min every delay equals min.
func NewSimulator(min, max time.Duration, rng Rand, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		min:    min,
		max:    max,
		rng:    rng,
		logger: logger,
	}
}

// Delay draws the next pause length.
func (s *Simulator) Delay() time.Duration {
	span := int64(s.max - s.min)
	if span <= 0 {
		return s.min
	}
	s.mu.Lock()
	n := s.rng.Int64N(span)
	s.mu.Unlock()
	return s.min + time.Duration(n)
}

// Simulate shows the typing indicator on chatID, waits, then clears it. If ctx
// is cancelled during the wait, Simulate returns ctx.Err() and leaves the
// indicator alone; the connection is going away anyway. Presence failures are
// logged and ignored.
func (s *Simulator) Simulate(ctx context.Context, p Presence, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.SetPresence(ctx, chatID, true); err != nil {
		s.logger.Debug("Failed to set typing presence", "chat_id", chatID, "error", err)
	}

	timer := time.NewTimer(s.Delay())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := p.SetPresence(ctx, chatID, false); err != nil {
		s.logger.Debug("Failed to clear typing presence", "chat_id", chatID, "error", err)
	}
	return nil
}
