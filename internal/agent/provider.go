package agent

import (
	"context"

	"github.com/loomworks/loom/pkg/models"
)

// Provider is the model backend boundary.
//
// Implementations handle the specifics of a vendor API while presenting a
// unified streaming interface to the turn loop. Implementations must be safe
// for concurrent use; multiple turns may stream simultaneously.
type Provider interface {
	// StreamChat opens one streaming round. The returned channel is a
	// finite, terminating sequence: an Err event or a Done event is the
	// last meaningful event, after which the channel is closed.
	StreamChat(ctx context.Context, req *ChatRequest) (<-chan *StreamEvent, error)
}

// ChatRequest contains all parameters for one streaming round.
type ChatRequest struct {
	// Model specifies which model to use.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []ChatMessage `json:"messages"`

	// Tools defines the schemas the model may request. Empty disables
	// tool calling for the round.
	Tools []models.ToolSchema `json:"tools,omitempty"`
}

// ChatMessage is a single message in a provider conversation.
type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content,omitempty"`

	// ToolCalls carries the calls announced by an assistant message.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName link a tool-role message to its call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// StreamEvent is one event on a provider stream. Exactly one field is set.
type StreamEvent struct {
	// Text is a partial response fragment.
	Text string `json:"text,omitempty"`

	// Message is the completed assistant text for the round, when the
	// provider reports it. Takes precedence over accumulated fragments.
	Message string `json:"message,omitempty"`

	// ToolCall is a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Usage reports token accounting for the round.
	Usage *models.Usage `json:"usage,omitempty"`

	// Done marks successful stream completion.
	Done bool `json:"done,omitempty"`

	// Err terminates the round as failed.
	Err error `json:"-"`
}
