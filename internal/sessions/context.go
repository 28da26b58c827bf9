package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/agent"
	"github.com/loomworks/loom/pkg/models"
)

// DefaultContextCharLimit is the prior-history character ceiling before
// compaction splits off the older remainder.
const DefaultContextCharLimit = 120000

// tailDivisor sizes the recent tail relative to the ceiling.
const tailDivisor = 10

// ContextBuilder assembles the prior-message context for one job:
// [optional summary-as-system, recent tail, attributed group lines].
type ContextBuilder struct {
	store     Store
	charLimit int
}

// NewContextBuilder creates a builder. charLimit <= 0 selects the default.
func NewContextBuilder(store Store, charLimit int) *ContextBuilder {
	if charLimit <= 0 {
		charLimit = DefaultContextCharLimit
	}
	return &ContextBuilder{store: store, charLimit: charLimit}
}

// Build loads and, when needed, compacts session history for a job. The
// returned messages are the turn's Prior list; the triggering user message
// is appended by the caller.
func (b *ContextBuilder) Build(ctx context.Context, agentSnap *models.Agent, job *models.Job, input *models.JobInput) ([]agent.ChatMessage, error) {
	var prior []agent.ChatMessage

	if job.SessionID != "" {
		history, err := b.sessionContext(ctx, agentSnap, job.SessionID)
		if err != nil {
			return nil, err
		}
		prior = append(prior, history...)
	}

	// Other participants' lines are attributed system entries, so the
	// model distinguishes "someone else's line" from its instruction.
	if input != nil {
		for _, line := range input.GroupLines {
			prior = append(prior, agent.ChatMessage{
				Role:    models.RoleSystem,
				Content: fmt.Sprintf("[group message from %s] %s", line.Author, line.Text),
			})
		}
	}

	return prior, nil
}

// sessionContext loads history since the agent's context reset, compacting
// when it exceeds the character ceiling.
func (b *ContextBuilder) sessionContext(ctx context.Context, agentSnap *models.Agent, sessionID string) ([]agent.ChatMessage, error) {
	var cutoff time.Time
	if agentSnap != nil {
		cutoff = agentSnap.ContextResetAt
	}
	history, err := b.store.ListMessagesSince(ctx, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	if len(history) == 0 {
		return nil, nil
	}

	if totalChars(history) <= b.charLimit {
		return toChatMessages(history), nil
	}

	older, tail := b.split(history)
	digest := Summarize(older)

	summary := &models.SessionSummary{
		SessionID:     sessionID,
		UpToMessageID: older[len(older)-1].ID,
		Text:          digest,
	}
	if err := b.store.PutSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("persist session summary: %w", err)
	}

	out := make([]agent.ChatMessage, 0, len(tail)+1)
	out = append(out, agent.ChatMessage{Role: models.RoleSystem, Content: digest})
	out = append(out, toChatMessages(tail)...)
	return out, nil
}

// split divides history into the older remainder and the recent tail. The
// tail is budgeted to charLimit/tailDivisor characters, walking backwards
// from the newest message; at least one message always lands in the tail.
func (b *ContextBuilder) split(history []*models.Message) (older, tail []*models.Message) {
	budget := b.charLimit / tailDivisor
	used := 0
	cut := len(history) - 1
	for ; cut >= 0; cut-- {
		used += len(history[cut].Content)
		if used > budget && cut < len(history)-1 {
			break
		}
	}
	// cut is the index of the last message excluded from the tail.
	if cut < 0 {
		cut = 0
	}
	return history[:cut+1], history[cut+1:]
}

func totalChars(history []*models.Message) int {
	total := 0
	for _, msg := range history {
		total += len(msg.Content)
	}
	return total
}

func toChatMessages(history []*models.Message) []agent.ChatMessage {
	out := make([]agent.ChatMessage, 0, len(history))
	for _, msg := range history {
		out = append(out, agent.ChatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
		})
	}
	return out
}
