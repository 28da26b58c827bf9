// Package agent implements the streaming, multi-round tool-calling turn
// loop that drives a single conversational turn against a model provider.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomworks/loom/pkg/models"
)

// DefaultMaxToolRounds caps tool-calling rounds when no override is given.
const DefaultMaxToolRounds = 3

// roundLimitNote is attached to the final message when the round cap is
// exhausted with tool calls still pending.
const roundLimitNote = "tool round limit reached"

// EmitFunc receives each turn event in order. The turn loop does not assign
// sequence numbers or persist events; the caller does, and an emit error
// aborts the turn.
type EmitFunc func(ctx context.Context, typ models.EventType, payload any) error

// TurnConfig configures turn execution.
type TurnConfig struct {
	// MaxToolRounds caps the number of tool-calling rounds.
	// Default: DefaultMaxToolRounds.
	MaxToolRounds int

	// Checkpoint is polled between tool-calling rounds. A non-nil return
	// stops the turn before the next provider call; cooperative
	// cancellation returns ErrTurnCanceled here.
	Checkpoint func(ctx context.Context) error
}

// TurnInput is everything one turn needs.
type TurnInput struct {
	Model  string
	System string

	// Prior is the assembled context: recent history, and possibly a
	// summary entry and attributed group lines as system-role messages.
	Prior []ChatMessage

	// User is the new triggering message.
	User ChatMessage

	// Tools are the schemas exposed to the model for this job.
	Tools []models.ToolSchema
}

// TurnResult is the terminal outcome of a successful turn.
type TurnResult struct {
	FinalText string
	Usage     models.Usage
	Rounds    int

	// Note is set when the turn terminated abnormally but non-fatally,
	// e.g. the tool round cap was exhausted.
	Note string
}

// TurnLoop executes exactly one logical turn, possibly spanning several
// tool-calling rounds, and produces a deterministic ordered event sequence.
//
// Exactly one of {assistant_message + nil error, error event + non-nil
// error} terminates the turn. Tool calls within a round run serially in
// receipt order: later calls may depend on effects of earlier ones.
type TurnLoop struct {
	provider Provider
	runner   ToolRunner
	config   TurnConfig
}

// NewTurnLoop creates a turn loop. runner may be nil, in which case tool
// calls terminate the turn with a best-effort final message.
func NewTurnLoop(provider Provider, runner ToolRunner, config TurnConfig) *TurnLoop {
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = DefaultMaxToolRounds
	}
	return &TurnLoop{provider: provider, runner: runner, config: config}
}

// Run drives the turn to termination, emitting events through emit.
func (l *TurnLoop) Run(ctx context.Context, input TurnInput, emit EmitFunc) (*TurnResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if emit == nil {
		emit = func(context.Context, models.EventType, any) error { return nil }
	}

	msgs := make([]ChatMessage, 0, len(input.Prior)+1)
	msgs = append(msgs, input.Prior...)
	msgs = append(msgs, input.User)

	var total models.Usage

	for round := 0; round <= l.config.MaxToolRounds; round++ {
		if round > 0 && l.config.Checkpoint != nil {
			if err := l.config.Checkpoint(ctx); err != nil {
				return nil, err
			}
		}

		text, calls, err := l.streamRound(ctx, input, msgs, &total, emit)
		if err != nil {
			return nil, err
		}

		if len(calls) == 0 {
			result := &TurnResult{FinalText: text, Usage: total, Rounds: round}
			return result, l.emitFinal(ctx, emit, result)
		}

		if l.runner == nil {
			// Cannot proceed further; surface what we have.
			result := &TurnResult{FinalText: text, Usage: total, Rounds: round}
			return result, l.emitFinal(ctx, emit, result)
		}

		msgs = append(msgs, ChatMessage{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})

		for _, call := range calls {
			args := string(call.Input)
			if args == "" {
				args = "{}"
			}
			result, err := l.runner.RunTool(ctx, call.Name, args)
			if err != nil {
				return nil, fmt.Errorf("run tool %s: %w", call.Name, err)
			}
			payload := models.ToolResultPayload{CallID: call.ID, Name: call.Name, Result: result}
			if err := emit(ctx, models.EventToolResult, payload); err != nil {
				return nil, err
			}
			msgs = append(msgs, ChatMessage{
				Role:       models.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	result := &TurnResult{Usage: total, Rounds: l.config.MaxToolRounds, Note: roundLimitNote}
	return result, l.emitFinal(ctx, emit, result)
}

// streamRound consumes one provider stream, emitting delta, tool_call, and
// usage events as they arrive. It returns the round's text and any buffered
// tool calls, or an error if the provider reported one.
func (l *TurnLoop) streamRound(
	ctx context.Context,
	input TurnInput,
	msgs []ChatMessage,
	total *models.Usage,
	emit EmitFunc,
) (string, []models.ToolCall, error) {
	events, err := l.provider.StreamChat(ctx, &ChatRequest{
		Model:    input.Model,
		System:   input.System,
		Messages: msgs,
		Tools:    input.Tools,
	})
	if err != nil {
		emitErr := emit(ctx, models.EventError, models.ErrorPayload{Message: err.Error()})
		if emitErr != nil {
			return "", nil, emitErr
		}
		return "", nil, fmt.Errorf("%w: %v", ErrProviderStream, err)
	}

	var accumulated strings.Builder
	var complete string
	var calls []models.ToolCall

	for event := range events {
		switch {
		case event.Err != nil:
			if err := emit(ctx, models.EventError, models.ErrorPayload{Message: event.Err.Error()}); err != nil {
				return "", nil, err
			}
			return "", nil, fmt.Errorf("%w: %v", ErrProviderStream, event.Err)

		case event.Text != "":
			accumulated.WriteString(event.Text)
			if err := emit(ctx, models.EventAssistantDelta, models.DeltaPayload{Text: event.Text}); err != nil {
				return "", nil, err
			}

		case event.Message != "":
			complete = event.Message

		case event.ToolCall != nil:
			calls = append(calls, *event.ToolCall)
			payload := models.ToolCallPayload{
				CallID: event.ToolCall.ID,
				Name:   event.ToolCall.Name,
				Input:  event.ToolCall.Input,
			}
			if err := emit(ctx, models.EventToolCall, payload); err != nil {
				return "", nil, err
			}

		case event.Usage != nil:
			total.Add(event.Usage)
			if err := emit(ctx, models.EventUsage, event.Usage); err != nil {
				return "", nil, err
			}
		}
	}

	text := complete
	if text == "" {
		text = accumulated.String()
	}
	return text, calls, nil
}

func (l *TurnLoop) emitFinal(ctx context.Context, emit EmitFunc, result *TurnResult) error {
	usage := result.Usage
	payload := models.MessagePayload{Text: result.FinalText, Usage: &usage, Note: result.Note}
	return emit(ctx, models.EventAssistantMessage, payload)
}
