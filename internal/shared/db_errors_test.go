package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestIsRetryableDBError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite busy", errors.New("exec: SQLITE_BUSY"), true},
		{"sqlite locked", errors.New("database is locked (5)"), true},
		{"postgres serialization", fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}), true},
		{"postgres deadlock", &pq.Error{Code: "40P01"}, true},
		{"postgres unique", &pq.Error{Code: "23505"}, false},
		{"other", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryableDBError(tt.err); got != tt.want {
				t.Fatalf("IsRetryableDBError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WithRetry(context.Background(), RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWithRetryDoesNotRetryStructuralErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("constraint failed")
	err := WithRetry(context.Background(), RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected one call returning boom, got %d calls, err %v", calls, err)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WithRetry(context.Background(), RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 failing calls, got %d, err %v", calls, err)
	}
}
