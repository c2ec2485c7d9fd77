// Package identity provides anonymous per-device founder identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

const (
	FounderCookieName = "cofounder_founder_id"
	founderCookieAge  = 30 * 24 * time.Hour
	// touchInterval limits last-seen writes to one per founder per interval.
	touchInterval = time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

var founderIDPattern = regexp.MustCompile(`^founder_[a-f0-9]{32}$`)

// UserStore is the persistence the middleware needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// UserIDFromContext extracts the founder ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the display name from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying a founder identity.
func WithUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, deriveUsername(userID))
}

func generateFounderID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate founder id: %w", err)
	}
	return "founder_" + hex.EncodeToString(buf), nil
}

func isValidFounderID(id string) bool {
	return founderIDPattern.MatchString(id)
}

func deriveUsername(userID string) string {
	if len(userID) > 16 {
		return "founder-" + userID[len(userID)-8:]
	}
	return "founder"
}

func ensureUser(ctx context.Context, repo UserStore, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		if user.IdleFor(now) < touchInterval {
			return nil
		}
		if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
			slog.Warn("failed to update founder last seen", "user_id", userID, "error", err)
		}
		return nil
	}

	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   deriveUsername(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func setFounderCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     FounderCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(founderCookieAge.Seconds()),
		Expires:  time.Now().Add(founderCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateFounderID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(FounderCookieName); err == nil && isValidFounderID(c.Value) {
		setFounderCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateFounderID()
	if err != nil {
		return "", err
	}
	setFounderCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous founder identity, creating the founder
// record on first contact.
func Middleware(repo UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateFounderID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish founder identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureUser(r.Context(), repo, userID); err != nil {
				slog.Error("failed to initialize founder", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize founder"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateKey keys rate limiting by founder, falling back to the remote IP.
func RateKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return IPFromRequest(r)
}
