package models

import (
	"encoding/json"
	"time"
)

// EventType identifies a run event on the per-job event log.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventAssistantDelta   EventType = "assistant_delta"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventUsage            EventType = "usage"
	EventAssistantMessage EventType = "assistant_message"
	EventStatus           EventType = "status"
	EventError            EventType = "error"
	EventRunFinished      EventType = "run_finished"
)

// Event is one entry in a job's append-only event log. Seq starts at 1 and
// is strictly increasing with no gaps; events are immutable once written.
// The same JSON shape serves both the replay read path and the live publish
// path so a single decoder handles both.
type Event struct {
	RunID     string          `json:"runId"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DeltaPayload is the payload for assistant_delta events.
type DeltaPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload is the payload for tool_call events.
type ToolCallPayload struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ToolResultPayload is the payload for tool_result events.
type ToolResultPayload struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// StatusPayload is the payload for status events.
type StatusPayload struct {
	Status JobStatus `json:"status"`
	Note   string    `json:"note,omitempty"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessagePayload is the payload for assistant_message events.
type MessagePayload struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
	Note  string `json:"note,omitempty"`
}
