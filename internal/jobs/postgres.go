package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/loomworks/loom/pkg/models"
)

// PostgresStore implements Store on PostgreSQL/CockroachDB. Status guards
// are enforced in the UPDATE predicates so concurrent writers cannot break
// the monotonic lifecycle.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the jobs table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			agent_id    TEXT NOT NULL,
			session_id  TEXT,
			user_id     TEXT,
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			input       JSONB,
			output      JSONB,
			error       TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			started_at  TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// Create stores a new job.
func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	status := job.Status
	if status == "" {
		status = models.JobQueued
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, project_id, agent_id, session_id, user_id, kind, status, input, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.ID, job.ProjectID, job.AgentID, nullable(job.SessionID), nullable(job.UserID),
		string(job.Kind), string(status), rawOrNil(job.Input), createdAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get returns a job by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent_id, session_id, user_id, kind, status,
		       input, output, error, created_at, started_at, finished_at
		FROM jobs WHERE id = $1
	`, id)

	job := &models.Job{}
	var sessionID, userID, errMsg sql.NullString
	var input, output []byte
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.ProjectID, &job.AgentID, &sessionID, &userID,
		&job.Kind, &job.Status, &input, &output, &errMsg,
		&job.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	job.SessionID = sessionID.String
	job.UserID = userID.String
	job.Error = errMsg.String
	if len(input) > 0 {
		job.Input = input
	}
	if len(output) > 0 {
		job.Output = output
	}
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	return job, nil
}

// SetRunning transitions queued -> running.
func (s *PostgresStore) SetRunning(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'queued'
	`, id, at)
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	return s.checkTransition(ctx, res, id, models.JobRunning)
}

// Finish transitions a job to a terminal status.
func (s *PostgresStore) Finish(ctx context.Context, id string, status models.JobStatus, output json.RawMessage, errMsg string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, output = $3, error = $4, finished_at = $5
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id, string(status), rawOrNil(output), nullable(errMsg), at)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return s.checkTransition(ctx, res, id, status)
}

// checkTransition distinguishes a missing job from a rejected transition
// when a guarded update matched no rows.
func (s *PostgresStore) checkTransition(ctx context.Context, res sql.Result, id string, to models.JobStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
