// Package domain contains the core records of the cofounder service: founders,
// conversation sessions, contracts and compliance monitors.
package domain

import (
	"time"
)

// User is a founder known to the service through an anonymous per-device identity.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor reports how long the founder has been inactive.
func (u *User) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(u.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
