package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal returns true if the status is a terminal state.
// Terminal jobs are never re-executed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Transitions are monotonic: queued -> running -> {succeeded|failed|canceled}.
// A queued job may also be canceled directly (cancel-before-start).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobCanceled || next == JobFailed
	case JobRunning:
		return next.Terminal()
	default:
		return false
	}
}

// JobKind selects the worker pool a job is processed on.
type JobKind string

const (
	// JobKindInteractive is a user-facing conversational turn.
	JobKindInteractive JobKind = "interactive"

	// JobKindBatch is a slower background job (ingestion, triage).
	JobKindBatch JobKind = "batch"
)

// Job is one execution attempt of an agent turn.
type Job struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	AgentID   string          `json:"agent_id"`
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// JobInput is the free-form payload attached to a job. For user-triggered
// jobs Text carries the message; group-triggered jobs additionally carry the
// lines spoken by other participants since the agent last replied.
type JobInput struct {
	Text       string      `json:"text,omitempty"`
	GroupID    string      `json:"group_id,omitempty"`
	GroupLines []GroupLine `json:"group_lines,omitempty"`
}

// GroupLine is one other-participant message in a group conversation.
type GroupLine struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}
