package agents

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

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

// EnsureSchema creates the agents table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			project_id       TEXT,
			name             TEXT NOT NULL,
			state            TEXT NOT NULL DEFAULT 'awake',
			role             TEXT NOT NULL DEFAULT 'worker',
			model            TEXT,
			system_prompt    TEXT,
			granted_tools    TEXT[],
			equipped_skills  TEXT[],
			group_count      INT NOT NULL DEFAULT 0,
			session_count    INT NOT NULL DEFAULT 0,
			context_reset_at TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create agents table: %w", err)
	}
	return nil
}

const agentColumns = `
	id, project_id, name, state, role, model, system_prompt,
	granted_tools, equipped_skills, group_count, session_count,
	context_reset_at, created_at, updated_at`

// Get returns an agent snapshot by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return agent, err
}

// Put inserts or replaces an agent snapshot.
func (s *PostgresStore) Put(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	now := time.Now().UTC()
	createdAt := agent.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var resetAt any
	if !agent.ContextResetAt.IsZero() {
		resetAt = agent.ContextResetAt
	}
	state := agent.State
	if state == "" {
		state = models.AgentAwake
	}
	role := agent.Role
	if role == "" {
		role = models.RoleWorker
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, project_id, name, state, role, model, system_prompt,
			granted_tools, equipped_skills, group_count, session_count,
			context_reset_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			role = EXCLUDED.role,
			model = EXCLUDED.model,
			system_prompt = EXCLUDED.system_prompt,
			granted_tools = EXCLUDED.granted_tools,
			equipped_skills = EXCLUDED.equipped_skills,
			group_count = EXCLUDED.group_count,
			session_count = EXCLUDED.session_count,
			context_reset_at = EXCLUDED.context_reset_at,
			updated_at = EXCLUDED.updated_at
	`, agent.ID, agent.ProjectID, agent.Name, string(state), string(role),
		agent.Model, agent.SystemPrompt,
		pq.Array(agent.GrantedTools), pq.Array(agent.EquippedSkills),
		agent.GroupCount, agent.SessionCount, resetAt, createdAt, now)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// SetState toggles sleep/wake, optionally moving the context cutoff.
func (s *PostgresStore) SetState(ctx context.Context, id string, state models.AgentState, resetContext bool) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			state = $2,
			context_reset_at = CASE WHEN $3 THEN $4 ELSE context_reset_at END,
			updated_at = $4
		WHERE id = $1
	`, id, string(state), resetContext, now)
	if err != nil {
		return fmt.Errorf("set agent state: %w", err)
	}
	return requireAgentRow(res, id)
}

// EquipSkills adds skills to the equipped list, deduplicated in SQL.
func (s *PostgresStore) EquipSkills(ctx context.Context, id string, skills []string) error {
	if len(skills) == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			equipped_skills = (
				SELECT ARRAY(
					SELECT DISTINCT skill
					FROM unnest(COALESCE(equipped_skills, '{}') || $2::TEXT[]) AS skill
					ORDER BY skill
				)
			),
			updated_at = $3
		WHERE id = $1
	`, id, pq.Array(skills), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("equip skills: %w", err)
	}
	return requireAgentRow(res, id)
}

// List returns all agents ordered by id.
func (s *PostgresStore) List(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func requireAgentRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	agent := &models.Agent{}
	var projectID, model, systemPrompt sql.NullString
	var resetAt sql.NullTime
	err := row.Scan(&agent.ID, &projectID, &agent.Name, &agent.State,
		&agent.Role, &model, &systemPrompt,
		pq.Array(&agent.GrantedTools), pq.Array(&agent.EquippedSkills),
		&agent.GroupCount, &agent.SessionCount,
		&resetAt, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	agent.ProjectID = projectID.String
	agent.Model = model.String
	agent.SystemPrompt = systemPrompt.String
	if resetAt.Valid {
		agent.ContextResetAt = resetAt.Time
	}
	return agent, nil
}
