// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsPostgresConflictError reports serialization failures and deadlocks,
// which Postgres expects the client to retry.
func IsPostgresConflictError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

// IsRetryableDBError checks for the concurrency errors of either supported
// database that warrant retry logic.
func IsRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err) || IsPostgresConflictError(err)
}

// RetryConfig bounds WithRetry.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryConfig retries three times with 100ms, 200ms backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseDelay: 100 * time.Millisecond}
}

// WithRetry runs fn, retrying with exponential backoff while it fails with a
// retryable database error.
func WithRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	var err error
	for i := 0; i < cfg.Attempts; i++ {
		if err = fn(); err == nil || !IsRetryableDBError(err) {
			return err
		}
		if i == cfg.Attempts-1 {
			break
		}
		delay := cfg.BaseDelay * time.Duration(1<<i)
		slog.Debug("database busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
