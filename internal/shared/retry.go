package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds RetrySQLite.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries three times: 100ms, 200ms, 400ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// RetrySQLite runs op, retrying with exponential backoff while it fails with
// a SQLite conflict error. Any other error is returned immediately.
func RetrySQLite(ctx context.Context, policy RetryPolicy, name string, op func(context.Context) error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	var err error
	for i := 0; i < policy.Attempts; i++ {
		err = op(ctx)
		if err == nil || !IsSQLiteConflictError(err) || i == policy.Attempts-1 {
			return err
		}

		delay := policy.BaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
