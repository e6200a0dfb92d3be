// Package ratelimit implements per-sender sliding-window admission control.
package ratelimit

import (
	"sort"
	"time"

	"github.com/ashureev/replybot/internal/shard"
)

const (
	// DefaultMax is the number of messages admitted per sender per window.
	DefaultMax = 2
	// DefaultWindow is the sliding window length.
	DefaultWindow = time.Minute
)

// Limiter admits at most max messages per sender within any window. Windows
// are keyed by sender only, so every session that sees a sender shares it.
type Limiter struct {
	windows *shard.Map[[]time.Time]
	max     int
	window  time.Duration
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		windows: shard.New[[]time.Time](0),
		max:     max,
		window:  window,
	}
}

// Admit records an attempt for senderID at now and reports whether it is
// allowed. Rejected attempts are not recorded.
func (l *Limiter) Admit(senderID string, now time.Time) bool {
	admitted := false
	l.windows.Update(senderID, func(stamps []time.Time, _ bool) ([]time.Time, bool) {
		stamps = l.prune(stamps, now)
		if len(stamps) >= l.max {
			return stamps, len(stamps) > 0
		}
		admitted = true
		return insertSorted(stamps, now), true
	})
	return admitted
}

// Remaining returns how many more messages senderID may send at now.
func (l *Limiter) Remaining(senderID string, now time.Time) int {
	live := 0
	l.windows.View(senderID, func(stamps []time.Time, _ bool) {
		for _, t := range stamps {
			if now.Sub(t) < l.window {
				live++
			}
		}
	})
	if live >= l.max {
		return 0
	}
	return l.max - live
}

// Sweep drops windows whose entries have all expired and returns how many
// senders were forgotten.
func (l *Limiter) Sweep(now time.Time) int {
	return l.windows.Sweep(func(_ string, stamps []time.Time) ([]time.Time, bool) {
		stamps = l.prune(stamps, now)
		return stamps, len(stamps) > 0
	})
}

// Len returns the number of tracked senders.
func (l *Limiter) Len() int {
	return l.windows.Len()
}

// prune removes entries at least one window older than now. stamps is sorted,
// so the expired entries form a prefix.
func (l *Limiter) prune(stamps []time.Time, now time.Time) []time.Time {
	cut := sort.Search(len(stamps), func(i int) bool {
		return now.Sub(stamps[i]) < l.window
	})
	if cut == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[cut:]...)
}

func insertSorted(stamps []time.Time, t time.Time) []time.Time {
	i := sort.Search(len(stamps), func(i int) bool {
		return stamps[i].After(t)
	})
	stamps = append(stamps, time.Time{})
	copy(stamps[i+1:], stamps[i:])
	stamps[i] = t
	return stamps
}
