package routines

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/loomworks/loom/pkg/models"
)

// PostgresStore implements Store on PostgreSQL/CockroachDB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the routine tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS routines (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			name       TEXT NOT NULL,
			cron       TEXT NOT NULL,
			timezone   TEXT NOT NULL DEFAULT 'UTC',
			action     TEXT NOT NULL,
			enabled    BOOLEAN NOT NULL DEFAULT TRUE,
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (agent_id, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("create routines table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS routine_logs (
			id         TEXT PRIMARY KEY,
			routine_id TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			action     TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			message    TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create routine_logs table: %w", err)
	}
	return nil
}

// Put upserts a routine on its (agent_id, name) pair.
func (s *PostgresStore) Put(ctx context.Context, routine *models.Routine) error {
	if routine == nil || routine.AgentID == "" || routine.Name == "" {
		return fmt.Errorf("routine agent id and name are required")
	}
	id := routine.ID
	if id == "" {
		id = uuid.NewString()
	}
	tz := routine.Timezone
	if tz == "" {
		tz = "UTC"
	}
	var payload []byte
	if len(routine.Payload) > 0 {
		payload = []byte(routine.Payload)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routines (id, agent_id, name, cron, timezone, action, enabled, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (agent_id, name) DO UPDATE SET
			cron = EXCLUDED.cron,
			timezone = EXCLUDED.timezone,
			action = EXCLUDED.action,
			enabled = EXCLUDED.enabled,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, id, routine.AgentID, routine.Name, routine.Cron, tz,
		string(routine.Action), routine.Enabled, payload, now)
	if err != nil {
		return fmt.Errorf("put routine: %w", err)
	}
	return nil
}

// Get returns a routine by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Routine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, name, cron, timezone, action, enabled, payload, created_at, updated_at
		FROM routines WHERE id = $1
	`, id)
	routine, err := scanRoutine(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return routine, err
}

// Delete removes a routine.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM routines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete routine: %w", err)
	}
	return nil
}

// ListEnabled returns all enabled routines ordered by id.
func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*models.Routine, error) {
	return s.list(ctx, `
		SELECT id, agent_id, name, cron, timezone, action, enabled, payload, created_at, updated_at
		FROM routines WHERE enabled ORDER BY id
	`)
}

// ListByAgent returns an agent's routines ordered by name.
func (s *PostgresStore) ListByAgent(ctx context.Context, agentID string) ([]*models.Routine, error) {
	return s.list(ctx, `
		SELECT id, agent_id, name, cron, timezone, action, enabled, payload, created_at, updated_at
		FROM routines WHERE agent_id = $1 ORDER BY name
	`, agentID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Routine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}
	defer rows.Close()

	var out []*models.Routine
	for rows.Next() {
		routine, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, routine)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (*models.Routine, error) {
	routine := &models.Routine{}
	var payload []byte
	err := row.Scan(&routine.ID, &routine.AgentID, &routine.Name,
		&routine.Cron, &routine.Timezone, &routine.Action, &routine.Enabled,
		&payload, &routine.CreatedAt, &routine.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan routine: %w", err)
	}
	if len(payload) > 0 {
		routine.Payload = payload
	}
	return routine, nil
}

// PostgresLogStore implements LogStore on PostgreSQL.
type PostgresLogStore struct {
	db *sql.DB
}

// NewPostgresLogStore wraps an existing database handle.
func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

// Append writes one fire record.
func (s *PostgresLogStore) Append(ctx context.Context, log *models.RoutineLog) error {
	if log == nil || log.RoutineID == "" {
		return fmt.Errorf("routine log routine id is required")
	}
	id := log.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routine_logs (id, routine_id, agent_id, action, outcome, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, log.RoutineID, log.AgentID, string(log.Action),
		string(log.Outcome), log.Message, createdAt)
	if err != nil {
		return fmt.Errorf("append routine log: %w", err)
	}
	return nil
}

// ListByRoutine returns a routine's most recent fires, newest first.
func (s *PostgresLogStore) ListByRoutine(ctx context.Context, routineID string, limit int) ([]*models.RoutineLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, routine_id, agent_id, action, outcome, message, created_at
		FROM routine_logs WHERE routine_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, routineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list routine logs: %w", err)
	}
	defer rows.Close()

	var out []*models.RoutineLog
	for rows.Next() {
		log := &models.RoutineLog{}
		var message sql.NullString
		if err := rows.Scan(&log.ID, &log.RoutineID, &log.AgentID,
			&log.Action, &log.Outcome, &message, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan routine log: %w", err)
		}
		log.Message = message.String
		out = append(out, log)
	}
	return out, rows.Err()
}

// PostgresLockStore implements LockStore with a single conditional insert,
// the atomic primitive that makes multi-replica scheduling safe.
type PostgresLockStore struct {
	db *sql.DB
}

// NewPostgresLockStore wraps an existing database handle.
func NewPostgresLockStore(db *sql.DB) *PostgresLockStore {
	return &PostgresLockStore{db: db}
}

// EnsureSchema creates the lock table if it does not exist.
func (s *PostgresLockStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS routine_locks (
			key        TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create routine_locks table: %w", err)
	}
	return nil
}

// TryAcquire claims the key with set-if-not-exists semantics. An expired
// claim is taken over in the same statement, so no separate sweep races
// the acquisition.
func (s *PostgresLockStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = LockTTL
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO routine_locks (key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE routine_locks.expires_at <= $3
	`, key, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return affected > 0, nil
}
