package sessions

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

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the session tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_messages (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			tool_name    TEXT,
			tool_call_id TEXT,
			input_tokens        INT,
			cached_input_tokens INT,
			output_tokens       INT,
			total_tokens        INT,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session
			ON session_messages (session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id       TEXT PRIMARY KEY,
			up_to_message_id TEXT NOT NULL,
			text             TEXT NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_touch (
			session_id TEXT PRIMARY KEY,
			touched_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure session schema: %w", err)
		}
	}
	return nil
}

// AppendMessage persists one message.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("message session id is required")
	}
	if msg.Role == models.RoleTool && (msg.ToolName == "" || msg.ToolCallID == "") {
		return fmt.Errorf("tool message requires tool name and call id")
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var input, cached, output, total any
	if msg.Usage != nil {
		input, cached = msg.Usage.InputTokens, msg.Usage.CachedInputTokens
		output, total = msg.Usage.OutputTokens, msg.Usage.TotalTokens
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages
			(id, session_id, role, content, tool_name, tool_call_id,
			 input_tokens, cached_input_tokens, output_tokens, total_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		nullable(msg.ToolName), nullable(msg.ToolCallID),
		input, cached, output, total, createdAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessagesSince returns messages created at or after the cutoff.
func (s *PostgresStore) ListMessagesSince(ctx context.Context, sessionID string, since time.Time) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_name, tool_call_id,
		       input_tokens, cached_input_tokens, output_tokens, total_tokens, created_at
		FROM session_messages
		WHERE session_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at, id
	`, sessionID, nullTime(since))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg := &models.Message{SessionID: sessionID}
		var toolName, toolCallID sql.NullString
		var input, cached, output, total sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolName, &toolCallID,
			&input, &cached, &output, &total, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ToolName = toolName.String
		msg.ToolCallID = toolCallID.String
		if input.Valid || output.Valid || total.Valid {
			msg.Usage = &models.Usage{
				InputTokens:       int(input.Int64),
				CachedInputTokens: int(cached.Int64),
				OutputTokens:      int(output.Int64),
				TotalTokens:       int(total.Int64),
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// GetSummary returns the session summary or nil.
func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	summary := &models.SessionSummary{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx, `
		SELECT up_to_message_id, text, updated_at
		FROM session_summaries WHERE session_id = $1
	`, sessionID).Scan(&summary.UpToMessageID, &summary.Text, &summary.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

// PutSummary replaces the session summary wholesale.
func (s *PostgresStore) PutSummary(ctx context.Context, summary *models.SessionSummary) error {
	if summary == nil || summary.SessionID == "" {
		return fmt.Errorf("summary session id is required")
	}
	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, up_to_message_id, text, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
			SET up_to_message_id = $2, text = $3, updated_at = $4
	`, summary.SessionID, summary.UpToMessageID, summary.Text, updatedAt)
	if err != nil {
		return fmt.Errorf("put summary: %w", err)
	}
	return nil
}

// Touch bumps the session freshness timestamp.
func (s *PostgresStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_touch (session_id, touched_at)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET touched_at = $2
	`, sessionID, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
