package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/loomworks/loom/pkg/models"
)

// PostgresStore implements Store on PostgreSQL/CockroachDB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing database handle. Schema creation is
// handled by EnsureSchema.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the run_events table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_events (
			run_id     TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			type       TEXT NOT NULL,
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (run_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("create run_events table: %w", err)
	}
	return nil
}

// Append stores the next event for a run. The sequence number is assigned
// inside the insert, and the (run_id, seq) primary key rejects any race.
func (s *PostgresStore) Append(ctx context.Context, runID string, typ models.EventType, payload any) (*models.Event, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		RunID:     runID,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
		Payload:   data,
	}

	var raw []byte
	if data != nil {
		raw = []byte(data)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO run_events (run_id, seq, type, payload, created_at)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = $1), $2, $3, $4)
		RETURNING seq
	`, runID, string(typ), raw, event.CreatedAt).Scan(&event.Seq)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

// List returns events for a run after the given sequence number.
func (s *PostgresStore) List(ctx context.Context, runID string, afterSeq int64) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, payload, created_at
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq
	`, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		event := &models.Event{RunID: runID}
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			event.Payload = payload
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
