// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/replybot/internal/domain"
)

// Repository persists sessions, transcripts and daily counters.
type Repository interface {
	// SaveSession creates or updates the snapshot of a session.
	SaveSession(ctx context.Context, info domain.SessionInfo) error

	// SaveMessage stores one transcript entry. Saving an ID that already
	// exists is a no-op.
	SaveMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// RecentMessages returns up to limit transcript entries exchanged with
	// senderID, oldest first.
	RecentMessages(ctx context.Context, senderID string, limit int) ([]domain.Message, error)

	// RecordStat adds to the per-session counters for the UTC day of at.
	RecordStat(ctx context.Context, sessionID string, at time.Time, received, replies int) error

	// Stats aggregates counters across all sessions.
	Stats(ctx context.Context) (domain.Stats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
