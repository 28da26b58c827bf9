package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a persisted conversational turn within a session.
// For RoleTool, ToolName and ToolCallID must be present.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Usage holds token accounting for an assistant turn.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	UncachedTokens    int `json:"uncached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// Add accumulates counters from another usage report.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.UncachedTokens += other.UncachedTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// SessionSummary is the single compacted digest for a session. It is
// replaced wholesale when compaction re-runs, never appended to.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	UpToMessageID string    `json:"up_to_message_id"`
	Text          string    `json:"text"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolSchema describes a tool exposed to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
