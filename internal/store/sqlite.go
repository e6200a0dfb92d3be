package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the dashboard read while sessions write.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		account_id TEXT,
		account_name TEXT,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		display_name TEXT,
		chat_id TEXT NOT NULL,
		body TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		generated INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, created_at);

	CREATE TABLE IF NOT EXISTS daily_stats (
		session_id TEXT NOT NULL,
		day TEXT NOT NULL,
		messages_received INTEGER NOT NULL DEFAULT 0,
		replies_sent INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, day)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveSession creates or updates a session row.
func (s *SQLiteStore) SaveSession(ctx context.Context, info domain.SessionInfo) error {
	query := `
	INSERT INTO sessions (id, owner_id, state, account_id, account_name, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		account_id = COALESCE(excluded.account_id, sessions.account_id),
		account_name = COALESCE(excluded.account_name, sessions.account_name),
		last_error = excluded.last_error,
		updated_at = excluded.updated_at`

	var accountID, accountName, lastError interface{}
	if info.Account != nil {
		accountID = info.Account.ID
		accountName = info.Account.Name
	}
	if info.LastError != "" {
		lastError = info.LastError
	}

	updated := info.LastActivityAt
	if updated.IsZero() {
		updated = time.Now()
	}

	return shared.RetrySQLite(ctx, s.retry, "save_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			info.ID, info.OwnerID, info.State.String(),
			accountID, accountName, lastError,
			info.CreatedAt.UnixMilli(), updated.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// SaveMessage inserts a transcript entry once.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if msg.ID == "" {
		return errors.New("save message: empty id")
	}

	query := `
	INSERT INTO messages (id, session_id, sender_id, display_name, chat_id, body, kind, direction, generated, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return shared.RetrySQLite(ctx, s.retry, "save_message", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, sessionID, msg.SenderID, msg.DisplayName, msg.ChatID,
			msg.Body, msg.Kind, string(msg.Direction), msg.Generated, ts.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// RecentMessages returns the last limit messages exchanged with senderID, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, senderID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	query := `
		SELECT id, sender_id, display_name, chat_id, body, kind, direction, generated, created_at
		FROM messages WHERE sender_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent messages rows", "error", closeErr)
		}
	}()

	msgs := make([]domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		var displayName sql.NullString
		var direction string
		var createdAt int64
		if err := rows.Scan(
			&m.ID, &m.SenderID, &displayName, &m.ChatID,
			&m.Body, &m.Kind, &direction, &m.Generated, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.DisplayName = displayName.String
		m.Direction = domain.Direction(direction)
		m.Timestamp = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RecordStat adds received and replies to the counters of the UTC day of at.
func (s *SQLiteStore) RecordStat(ctx context.Context, sessionID string, at time.Time, received, replies int) error {
	if received == 0 && replies == 0 {
		return nil
	}

	query := `
	INSERT INTO daily_stats (session_id, day, messages_received, replies_sent)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id, day) DO UPDATE SET
		messages_received = daily_stats.messages_received + excluded.messages_received,
		replies_sent = daily_stats.replies_sent + excluded.replies_sent`

	day := at.UTC().Format(time.DateOnly)
	return shared.RetrySQLite(ctx, s.retry, "record_stat", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, sessionID, day, received, replies); err != nil {
			return fmt.Errorf("upsert daily stats: %w", err)
		}
		return nil
	})
}

// Stats aggregates stored counters.
func (s *SQLiteStore) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	query := `
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COALESCE(SUM(messages_received), 0) FROM daily_stats),
			(SELECT COALESCE(SUM(replies_sent), 0) FROM daily_stats),
			(SELECT COUNT(*) FROM sessions)`
	if err := s.db.QueryRowContext(ctx, query).Scan(
		&st.TotalMessages, &st.MessagesReceived, &st.RepliesSent, &st.Sessions,
	); err != nil {
		return domain.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

var _ Repository = (*SQLiteStore)(nil)
