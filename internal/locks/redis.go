package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
// KEYS[1] = lock key, ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance talking to the same Redis.
// Each lock is a lease: a holder that dies releases it after TTL.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// RedisLockerConfig configures a RedisLocker.
type RedisLockerConfig struct {
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig, logger *slog.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "cofounder:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, retry: cfg.Retry, logger: logger}
}

// Lock polls SET NX PX until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	full := l.prefix + key

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// Release on a fresh context so a canceled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release redis lock", "key", key, "error", err)
		}
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
