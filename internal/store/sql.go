package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/voicebootix/aidebuggerfoundry/internal/compliance"
	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"github.com/voicebootix/aidebuggerfoundry/internal/shared"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Repository over database/sql. Records are stored as
// JSON documents next to the columns that are queried.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	retry   shared.RetryConfig
	writeMu sync.Mutex // serializes SQLite writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := newSQLStore(db, DialectSQLite)
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgres creates a Postgres-backed repository.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := newSQLStore(db, DialectPostgres)
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, retry: shared.DefaultRetryConfig()}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		state TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS contracts (
		contract_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (session_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS monitors (
		contract_id TEXT PRIMARY KEY,
		monitor_id TEXT NOT NULL,
		current_score DOUBLE PRECISION NOT NULL,
		data TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pending_outputs (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		output TEXT NOT NULL,
		queued_at BIGINT NOT NULL,
		processed_at BIGINT,
		error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_outputs_queue ON pending_outputs(processed_at, queued_at)`,
}

func (s *SQLStore) initSchema() error {
	if s.dialect == DialectSQLite {
		if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			return fmt.Errorf("set busy timeout: %w", err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// write runs a mutation with busy retries. SQLite writers are serialized.
func (s *SQLStore) write(ctx context.Context, op string, fn func() error) error {
	return shared.WithRetry(ctx, s.retry, op, func() error {
		if s.dialect == DialectSQLite {
			s.writeMu.Lock()
			defer s.writeMu.Unlock()
		}
		return fn()
	})
}

func (s *SQLStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.write(ctx, op, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, s.rebind(query), args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func requireRow(res sql.Result, what, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, username, last_seen_at, created_at, updated_at FROM users WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, s.rebind(query), userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.exec(ctx, "upsert user", query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	return err
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	res, err := s.exec(ctx, "update last_seen", query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateSession stores a new conversation session.
func (s *SQLStore) CreateSession(ctx context.Context, sess *domain.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	query := `
	INSERT INTO sessions (session_id, user_id, state, archived, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "insert session", query,
		sess.SessionID, sess.UserID, string(sess.State), boolInt(sess.Archived), string(data),
		sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	return err
}

// GetSession retrieves a session by id.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM sessions WHERE session_id = ?`), sessionID)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	var sess domain.ConversationSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// UpdateSession replaces a stored session.
func (s *SQLStore) UpdateSession(ctx context.Context, sess *domain.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	query := `UPDATE sessions SET state = ?, archived = ?, data = ?, updated_at = ? WHERE session_id = ?`
	res, err := s.exec(ctx, "update session", query,
		string(sess.State), boolInt(sess.Archived), string(data), sess.UpdatedAt.Unix(), sess.SessionID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "session", sess.SessionID)
}

// ListSessionsByUser returns a founder's sessions, newest first.
func (s *SQLStore) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.ConversationSession, error) {
	query := `SELECT data FROM sessions WHERE user_id = ? ORDER BY created_at DESC, session_id`
	return queryJSON[domain.ConversationSession](ctx, s, "sessions", query, userID)
}

// queryJSON decodes the single data column of every row.
func queryJSON[T any](ctx context.Context, s *SQLStore, what, query string, args ...any) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close rows", "what", what, "error", closeErr)
		}
	}()

	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", what, err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

// CreateContract stores a contract and its monitor in one transaction.
func (s *SQLStore) CreateContract(ctx context.Context, c *domain.FounderContract, m *domain.ComplianceMonitor) error {
	contractData, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contract: %w", err)
	}
	monitorData, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal monitor: %w", err)
	}

	err = s.write(ctx, "create contract", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO contracts (contract_id, session_id, version, status, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			c.ContractID, c.SessionID, c.Version, string(c.Status), string(contractData), c.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert contract: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO monitors (contract_id, monitor_id, current_score, data, updated_at)
			VALUES (?, ?, ?, ?, ?)`),
			m.ContractID, m.MonitorID, m.CurrentScore, string(monitorData), c.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert monitor: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("create contract %s: %w", c.ContractID, err)
	}
	return nil
}

// GetContract retrieves a contract by id.
func (s *SQLStore) GetContract(ctx context.Context, contractID string) (*domain.FounderContract, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM contracts WHERE contract_id = ?`), contractID)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: contract %s", domain.ErrNotFound, contractID)
		}
		return nil, fmt.Errorf("scan contract row: %w", err)
	}
	var c domain.FounderContract
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode contract %s: %w", contractID, err)
	}
	return &c, nil
}

// UpdateContract replaces a stored contract.
func (s *SQLStore) UpdateContract(ctx context.Context, c *domain.FounderContract) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contract: %w", err)
	}
	res, err := s.exec(ctx, "update contract",
		`UPDATE contracts SET status = ?, data = ? WHERE contract_id = ?`,
		string(c.Status), string(data), c.ContractID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "contract", c.ContractID)
}

// ListContractsBySession returns every contract version of a session, oldest first.
func (s *SQLStore) ListContractsBySession(ctx context.Context, sessionID string) ([]*domain.FounderContract, error) {
	query := `SELECT data FROM contracts WHERE session_id = ? ORDER BY version`
	return queryJSON[domain.FounderContract](ctx, s, "contracts", query, sessionID)
}

// GetMonitor retrieves the monitor of a contract.
func (s *SQLStore) GetMonitor(ctx context.Context, contractID string) (*domain.ComplianceMonitor, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM monitors WHERE contract_id = ?`), contractID)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: monitor for contract %s", domain.ErrNotFound, contractID)
		}
		return nil, fmt.Errorf("scan monitor row: %w", err)
	}
	var m domain.ComplianceMonitor
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode monitor %s: %w", contractID, err)
	}
	return &m, nil
}

// SaveMonitor replaces the monitor of a contract.
func (s *SQLStore) SaveMonitor(ctx context.Context, m *domain.ComplianceMonitor) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal monitor: %w", err)
	}
	res, err := s.exec(ctx, "save monitor",
		`UPDATE monitors SET current_score = ?, data = ?, updated_at = ? WHERE contract_id = ?`,
		m.CurrentScore, string(data), time.Now().Unix(), m.ContractID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "monitor for contract", m.ContractID)
}

// EnqueueOutput queues an AI output for background monitoring.
func (s *SQLStore) EnqueueOutput(ctx context.Context, contractID, output string) (*compliance.PendingOutput, error) {
	p := &compliance.PendingOutput{
		ID:         uuid.NewString(),
		ContractID: contractID,
		Output:     output,
		QueuedAt:   time.Now().UTC(),
	}
	_, err := s.exec(ctx, "enqueue output",
		`INSERT INTO pending_outputs (id, contract_id, output, queued_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.ContractID, p.Output, p.QueuedAt.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PendingOutputs returns unprocessed outputs in queue order.
func (s *SQLStore) PendingOutputs(ctx context.Context, limit int) ([]compliance.PendingOutput, error) {
	query := `
		SELECT id, contract_id, output, queued_at FROM pending_outputs
		WHERE processed_at IS NULL ORDER BY queued_at, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outputs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close pending outputs rows", "error", closeErr)
		}
	}()

	var out []compliance.PendingOutput
	for rows.Next() {
		var p compliance.PendingOutput
		var queuedAt int64
		if err := rows.Scan(&p.ID, &p.ContractID, &p.Output, &queuedAt); err != nil {
			return nil, fmt.Errorf("scan pending output row: %w", err)
		}
		p.QueuedAt = time.Unix(0, queuedAt).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending outputs: %w", err)
	}
	return out, nil
}

// AckOutput marks a queued output processed. errMsg is empty on success.
func (s *SQLStore) AckOutput(ctx context.Context, id, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	res, err := s.exec(ctx, "ack output",
		`UPDATE pending_outputs SET processed_at = ?, error = ? WHERE id = ?`,
		time.Now().UnixNano(), errVal, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "pending output", id)
}

var (
	_ Repository              = (*SQLStore)(nil)
	_ compliance.OutputSource = (*SQLStore)(nil)
)
