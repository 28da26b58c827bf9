package models

import (
	"encoding/json"
	"time"
)

// RoutineAction names one of the closed set of scheduled behaviors.
type RoutineAction string

const (
	ActionSleep            RoutineAction = "sleep"
	ActionWake             RoutineAction = "wake"
	ActionEquipSkills      RoutineAction = "equip_skills"
	ActionReflect          RoutineAction = "reflect"
	ActionPruneContent     RoutineAction = "prune_content"
	ActionSupervisorReport RoutineAction = "supervisor_report"
	ActionGuardianTriage   RoutineAction = "guardian_triage"
	ActionReportChain      RoutineAction = "report_chain"
)

// Routine is a named per-agent schedule. (AgentID, Name) is unique.
type Routine struct {
	ID       string          `json:"id"`
	AgentID  string          `json:"agent_id"`
	Name     string          `json:"name"`
	Cron     string          `json:"cron"`
	Timezone string          `json:"timezone"`
	Action   RoutineAction   `json:"action"`
	Enabled  bool            `json:"enabled"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoutineOutcome is the result status of one routine fire.
type RoutineOutcome string

const (
	RoutineOK       RoutineOutcome = "ok"
	RoutineRejected RoutineOutcome = "rejected"
	RoutineError    RoutineOutcome = "error"
)

// RoutineLog records exactly one fired routine attempt. Append-only.
type RoutineLog struct {
	ID        string         `json:"id"`
	RoutineID string         `json:"routine_id"`
	AgentID   string         `json:"agent_id"`
	Action    RoutineAction  `json:"action"`
	Outcome   RoutineOutcome `json:"outcome"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
