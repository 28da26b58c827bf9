package models

import "time"

// AgentState represents whether an agent may execute jobs.
type AgentState string

const (
	AgentAwake    AgentState = "awake"
	AgentSleeping AgentState = "sleeping"
)

// AgentRole is the agent's position in the org hierarchy. Roles contribute
// mandatory tools to every job the agent runs.
type AgentRole string

const (
	RoleWorker      AgentRole = "worker"
	RoleSupervisor  AgentRole = "supervisor"
	RoleGuardian    AgentRole = "guardian"
	RoleProjectLead AgentRole = "project_lead"
)

// Agent is a point-in-time snapshot of an agent's configuration. The job
// orchestrator treats it as immutable for the duration of one job; role or
// grant changes take effect on the next run.
type Agent struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	State     AgentState `json:"state"`
	Role      AgentRole  `json:"role"`

	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// GrantedTools are the tools explicitly enabled by the agent's owner.
	GrantedTools []string `json:"granted_tools,omitempty"`

	// EquippedSkills are the skill documents currently equipped.
	EquippedSkills []string `json:"equipped_skills,omitempty"`

	GroupCount   int `json:"group_count"`
	SessionCount int `json:"session_count"`

	// ContextResetAt is the per-agent cutoff: session history before this
	// time is excluded from context without being deleted.
	ContextResetAt time.Time `json:"context_reset_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InGroups returns true if the agent participates in at least one group.
func (a *Agent) InGroups() bool { return a.GroupCount > 0 }

// HasSkills returns true if the agent has at least one equipped skill.
func (a *Agent) HasSkills() bool { return len(a.EquippedSkills) > 0 }

// HasSessions returns true if the agent owns at least one session.
func (a *Agent) HasSessions() bool { return a.SessionCount > 0 }
