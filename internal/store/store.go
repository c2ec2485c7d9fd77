// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/voicebootix/aidebuggerfoundry/internal/compliance"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
)

// Repository persists founders, conversations, contracts, compliance monitors
// and the queue of outputs awaiting monitoring.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateSession stores a new conversation session.
	CreateSession(ctx context.Context, s *domain.ConversationSession) error

	// GetSession retrieves a session. A missing session wraps domain.ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*domain.ConversationSession, error)

	// UpdateSession replaces a stored session.
	UpdateSession(ctx context.Context, s *domain.ConversationSession) error

	// ListSessionsByUser returns a founder's sessions, newest first.
	ListSessionsByUser(ctx context.Context, userID string) ([]*domain.ConversationSession, error)

	// CreateContract stores a new contract together with its monitor in one transaction.
	CreateContract(ctx context.Context, c *domain.FounderContract, m *domain.ComplianceMonitor) error

	// GetContract retrieves a contract. A missing contract wraps domain.ErrNotFound.
	GetContract(ctx context.Context, contractID string) (*domain.FounderContract, error)

	// UpdateContract replaces a stored contract (status changes only).
	UpdateContract(ctx context.Context, c *domain.FounderContract) error

	// ListContractsBySession returns every contract version of a session, oldest first.
	ListContractsBySession(ctx context.Context, sessionID string) ([]*domain.FounderContract, error)

	// GetMonitor retrieves the monitor of a contract.
	GetMonitor(ctx context.Context, contractID string) (*domain.ComplianceMonitor, error)

	// SaveMonitor replaces the monitor of a contract.
	SaveMonitor(ctx context.Context, m *domain.ComplianceMonitor) error

	// EnqueueOutput queues an AI output for background monitoring.
	EnqueueOutput(ctx context.Context, contractID, output string) (*compliance.PendingOutput, error)

	// PendingOutputs returns unprocessed outputs in queue order.
	PendingOutputs(ctx context.Context, limit int) ([]compliance.PendingOutput, error)

	// AckOutput marks a queued output processed.
	AckOutput(ctx context.Context, id, errMsg string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Open opens the repository for a driver name ("sqlite" or "postgres").
func Open(driver, dsn string) (Repository, error) {
	switch Dialect(driver) {
	case DialectPostgres:
		return NewPostgres(dsn)
	default:
		return NewSQLite(dsn)
	}
}
