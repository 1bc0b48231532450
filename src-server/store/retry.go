package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"roster/src-server/metric"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrRetriesExhausted = errors.New("database still locked after max retries")

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Exponential backoff for writes that hit a busy/locked database. Attempt n
// (0-based) waits BaseDelay * 2^n before attempt n+1.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// nil means a context-aware time.Sleep
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !IsLocked(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		wait := p.BaseDelay << attempt
		metric.DatabaseWriteRetries.Inc()
		slog.Warn("database is locked, retrying",
			"op", op,
			"wait", wait,
			"attempt", attempt+1,
			"max_attempts", attempts,
		)
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w", op, serr)
		}
	}
	return fmt.Errorf("%s: %w (%d attempts): %w", op, ErrRetriesExhausted, attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Postgres: lock_not_available, serialization_failure, deadlock_detected.
var lockedPgCodes = map[string]struct{}{
	"55P03": {},
	"40001": {},
	"40P01": {},
}

// Transient "resource busy/locked" condition worth retrying. SQLite drivers
// only expose it through the message, so that's matched textually.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := lockedPgCodes[pgErr.Code]
		return ok
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}
