package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused bucket is kept.
const limiterIdle = 10 * time.Minute

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*keyedLimiter
	now      func() time.Time
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with the given burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed.
func (l *RateLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kl, ok := l.limiters[key]
	if !ok {
		l.sweep(now)
		kl = &keyedLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now
	return kl.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. Caller holds mu.
func (l *RateLimiter) sweep(now time.Time) {
	for k, kl := range l.limiters {
		if now.Sub(kl.lastSeen) > limiterIdle {
			delete(l.limiters, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimit rejects requests over the per-key budget with 429. key extracts
// the bucket key, usually the founder id.
func RateLimit(l *RateLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !l.Allow(k) {
				slog.Warn("rate limit exceeded", "key", k, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(1))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
