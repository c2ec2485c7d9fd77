package store

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/shared"
)

func newTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(id string) *domain.ConversationSession {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s := &domain.ConversationSession{
		SessionID: id,
		UserID:    "anon-1",
		State:     domain.StateDiscovery,
		Profile:   &domain.FounderProfile{Type: domain.FounderBusiness, Confidence: 0.7},
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.AppendTurn(domain.RoleUser, "a task manager for small teams", at)
	return s
}

func testContract(id, sessionID string, version int) (*domain.FounderContract, *domain.ComplianceMonitor) {
	c := &domain.FounderContract{
		ContractID: id,
		SessionID:  sessionID,
		Version:    version,
		Status:     domain.ContractActive,
		CreatedAt:  time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC),
	}
	return c, domain.NewComplianceMonitor("mon-"+id, id)
}

func TestSQLiteUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	u, err := s.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, u)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.UpsertUser(ctx, &domain.User{UserID: "anon-1", Username: "anon-user", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.UpdateLastSeen(ctx, "anon-1", now.Add(time.Hour)))

	u, err = s.GetUser(ctx, "anon-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "anon-user", u.Username)
	assert.Equal(t, now.Add(time.Hour).Unix(), u.LastSeenAt.Unix())
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.FounderBusiness, got.Profile.Type)
	require.Len(t, got.Turns, 1)
	assert.True(t, got.Turns[0].Timestamp.Equal(sess.Turns[0].Timestamp))

	require.NoError(t, got.TransitionTo(domain.StateValidation))
	got.Requirements = &domain.RequirementRecord{Problem: "lost tasks", Features: []string{"tasks"}}
	require.NoError(t, s.UpdateSession(ctx, got))

	again, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidation, again.State)
	assert.Equal(t, []string{"tasks"}, again.Requirements.Features)

	list, err := s.ListSessionsByUser(ctx, "anon-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateSession(ctx, testSession("nope")), domain.ErrNotFound)
}

func TestSQLiteContractAndMonitor(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	c1, m1 := testContract("c1", "s1", 1)
	require.NoError(t, s.CreateContract(ctx, c1, m1))

	dup, dupMon := testContract("c1-dup", "s1", 1)
	require.Error(t, s.CreateContract(ctx, dup, dupMon), "same session and version must be rejected")
	_, err := s.GetMonitor(ctx, "c1-dup")
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed transaction must not leave a monitor")

	superseded := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	c1.Status = domain.ContractSuperseded
	c1.SupersededAt = &superseded
	require.NoError(t, s.UpdateContract(ctx, c1))

	c2, m2 := testContract("c2", "s1", 2)
	require.NoError(t, s.CreateContract(ctx, c2, m2))

	list, err := s.ListContractsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Version)
	assert.Equal(t, domain.ContractSuperseded, list[0].Status)
	assert.True(t, list[1].Active())

	m, err := s.GetMonitor(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.CurrentScore)

	m.CurrentScore = 0.4
	m.Outputs = append(m.Outputs, domain.MonitoredOutput{OutputRef: "ref", Score: 0.4})
	m.Deviations = append(m.Deviations, &domain.DeviationAlert{AlertID: "a1", Status: domain.AlertOpen, Severity: domain.SeverityCritical})
	require.NoError(t, s.SaveMonitor(ctx, m))

	m, err = s.GetMonitor(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 0.4, m.CurrentScore)
	a, ok := m.Deviation("a1")
	require.True(t, ok)
	assert.Equal(t, domain.SeverityCritical, a.Severity)

	_, err = s.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.SaveMonitor(ctx, domain.NewComplianceMonitor("x", "missing")), domain.ErrNotFound)
}

func TestSQLitePendingOutputQueue(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	first, err := s.EnqueueOutput(ctx, "c1", "first output")
	require.NoError(t, err)
	_, err = s.EnqueueOutput(ctx, "c1", "second output")
	require.NoError(t, err)

	pending, err := s.PendingOutputs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, "first output", pending[0].Output)

	require.NoError(t, s.AckOutput(ctx, first.ID, ""))
	pending, err = s.PendingOutputs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second output", pending[0].Output)

	assert.ErrorIs(t, s.AckOutput(ctx, "missing", "boom"), domain.ErrNotFound)
}

func TestSQLiteConcurrentWriters(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.EnqueueOutput(ctx, "c1", "output")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := s.PendingOutputs(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 20)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := newSQLStore(nil, DialectPostgres)
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", pg.rebind("UPDATE t SET a = ? WHERE b = ?"))
	lite := newSQLStore(nil, DialectSQLite)
	assert.Equal(t, "SELECT ? FROM t", lite.rebind("SELECT ? FROM t"))
}

func TestPostgresGetContractNotFound(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newSQLStore(db, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM contracts WHERE contract_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err = s.GetContract(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateContractUsesTransaction(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newSQLStore(db, DialectPostgres)

	c, m := testContract("c1", "s1", 1)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contracts")).
		WithArgs("c1", "s1", 1, "active", sqlmock.AnyArg(), c.CreatedAt.Unix()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO monitors")).
		WithArgs("c1", "mon-c1", 1.0, sqlmock.AnyArg(), c.CreatedAt.Unix()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateContract(context.Background(), c, m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetriesSerializationFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newSQLStore(db, DialectPostgres)
	s.retry = shared.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}

	query := regexp.QuoteMeta("UPDATE pending_outputs SET processed_at = $1, error = $2 WHERE id = $3")
	mock.ExpectExec(query).WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectExec(query).WithArgs(sqlmock.AnyArg(), nil, "p1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.AckOutput(context.Background(), "p1", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSessionNotFound(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newSQLStore(db, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET state = $1, archived = $2, data = $3, updated_at = $4 WHERE session_id = $5")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.UpdateSession(context.Background(), testSession("s1"))
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}
