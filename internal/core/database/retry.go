package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/markdave123-py/papertrail/internal/core"
)

// RetryPolicy bounds how long a write waits on lock contention.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is five attempts with exponential backoff starting at 50ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	attempts := max(p.MaxAttempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// withRetry runs fn until it succeeds, fails with a non-contention error, or
// the attempt cap is reached.
func (c *DatabaseClient) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isContention(err) {
			if attempts < c.retry.MaxAttempts {
				c.retries.Add(1)
				c.log.Debug("Database: write contended, backing off",
					zap.String("op", op), zap.Int("attempt", attempts), zap.Error(err))
			}
			return err
		}
		return backoff.Permanent(err)
	}, c.retry.newBackOff(ctx))

	switch {
	case err == nil:
		return nil
	case isContention(err):
		return &core.StorageContentionError{Op: op, Attempts: attempts, Err: err}
	case isIntegrity(err):
		return &core.StorageIntegrityError{Op: op, Err: err}
	case errors.Is(err, core.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// withTx runs fn inside one transaction under the retry policy.
func (c *DatabaseClient) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return c.withRetry(ctx, op, func(ctx context.Context) error {
		tx, err := c.beginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (c *DatabaseClient) beginTx(ctx context.Context) (*sql.Tx, error) {
	c.transactions.Add(1)
	return c.db.BeginTx(ctx, nil)
}

// isContention reports lock conflicts that are expected under concurrent jobs.
func isContention(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func isIntegrity(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23503"
	}
	return false
}
