package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

// scriptedProvider replays one scripted event sequence per round and
// records every request it receives.
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]*StreamEvent
	requests []*ChatRequest
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req *ChatRequest) (<-chan *StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rounds) == 0 {
		return nil, errors.New("no scripted rounds left")
	}
	round := p.rounds[0]
	p.rounds = p.rounds[1:]
	p.requests = append(p.requests, req)

	ch := make(chan *StreamEvent, len(round)+1)
	for _, ev := range round {
		ch <- ev
	}
	ch <- &StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

type recordedEvent struct {
	typ     models.EventType
	payload any
}

func collectEmit(events *[]recordedEvent) EmitFunc {
	return func(_ context.Context, typ models.EventType, payload any) error {
		*events = append(*events, recordedEvent{typ, payload})
		return nil
	}
}

func eventTypes(events []recordedEvent) []models.EventType {
	types := make([]models.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.typ
	}
	return types
}

func TestTurnPlainText(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*StreamEvent{{
		{Text: "Hello"},
		{Text: ", world"},
		{Usage: &models.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}},
	}}}

	var events []recordedEvent
	loop := NewTurnLoop(provider, nil, TurnConfig{})
	result, err := loop.Run(context.Background(), TurnInput{
		Model:  "test-model",
		System: "be brief",
		User:   ChatMessage{Role: models.RoleUser, Content: "hi"},
	}, collectEmit(&events))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.FinalText != "Hello, world" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.Usage.TotalTokens != 7 {
		t.Errorf("Usage.TotalTokens = %d, want 7", result.Usage.TotalTokens)
	}
	want := []models.EventType{
		models.EventAssistantDelta,
		models.EventAssistantDelta,
		models.EventUsage,
		models.EventAssistantMessage,
	}
	got := eventTypes(events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("event order = %v, want %v", got, want)
	}
}

func TestTurnCompleteMessageWinsOverDeltas(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*StreamEvent{{
		{Text: "partial"},
		{Message: "full corrected text"},
	}}}

	loop := NewTurnLoop(provider, nil, TurnConfig{})
	result, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalText != "full corrected text" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
}

func TestTurnSingleToolRound(t *testing.T) {
	call := &models.ToolCall{ID: "c1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)}
	provider := &scriptedProvider{rounds: [][]*StreamEvent{
		{{Text: "checking"}, {ToolCall: call}},
		{{Text: "the answer is 42"}},
	}}

	var ranArgs string
	runner := ToolRunnerFunc(func(_ context.Context, name, args string) (string, error) {
		if name != "lookup" {
			t.Errorf("tool name = %q", name)
		}
		ranArgs = args
		return EncodeToolResult(`{"answer":42}`), nil
	})

	var events []recordedEvent
	loop := NewTurnLoop(provider, runner, TurnConfig{})
	result, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "what is x"},
	}, collectEmit(&events))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ranArgs != `{"q":"x"}` {
		t.Errorf("tool args = %q", ranArgs)
	}
	if result.FinalText != "the answer is 42" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	if result.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1", result.Rounds)
	}

	want := []models.EventType{
		models.EventAssistantDelta,
		models.EventToolCall,
		models.EventToolResult,
		models.EventAssistantDelta,
		models.EventAssistantMessage,
	}
	got := eventTypes(events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("event order = %v, want %v", got, want)
	}

	// The second round must carry the assistant tool-call message and the
	// tool-role result.
	second := provider.requests[1]
	n := len(second.Messages)
	if n < 3 {
		t.Fatalf("second round messages = %d", n)
	}
	assistant := second.Messages[n-2]
	toolMsg := second.Messages[n-1]
	if assistant.Role != models.RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Errorf("assistant message malformed: %+v", assistant)
	}
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "c1" || toolMsg.ToolName != "lookup" {
		t.Errorf("tool message malformed: %+v", toolMsg)
	}
}

func TestTurnToolsRunSeriallyInReceiptOrder(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*StreamEvent{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "first"}},
			{ToolCall: &models.ToolCall{ID: "c2", Name: "second"}},
			{ToolCall: &models.ToolCall{ID: "c3", Name: "third"}},
		},
		{{Text: "done"}},
	}}

	var order []string
	runner := ToolRunnerFunc(func(_ context.Context, name, _ string) (string, error) {
		order = append(order, name)
		return EncodeToolResult(`{}`), nil
	})

	loop := NewTurnLoop(provider, runner, TurnConfig{})
	if _, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "go"},
	}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fmt.Sprint(order) != "[first second third]" {
		t.Errorf("execution order = %v", order)
	}
}

func TestTurnProviderError(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*StreamEvent{{
		{Text: "some"},
		{Err: errors.New("backend unavailable")},
	}}}

	var events []recordedEvent
	loop := NewTurnLoop(provider, nil, TurnConfig{})
	_, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "hi"},
	}, collectEmit(&events))
	if !errors.Is(err, ErrProviderStream) {
		t.Fatalf("err = %v, want ErrProviderStream", err)
	}

	got := eventTypes(events)
	for _, typ := range got {
		if typ == models.EventAssistantMessage {
			t.Error("assistant_message emitted for a failed round")
		}
	}
	if got[len(got)-1] != models.EventError {
		t.Errorf("last event = %v, want error", got[len(got)-1])
	}
}

func TestTurnToolCallsWithoutRunner(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*StreamEvent{{
		{Text: "let me check"},
		{ToolCall: &models.ToolCall{ID: "c1", Name: "lookup"}},
	}}}

	var events []recordedEvent
	loop := NewTurnLoop(provider, nil, TurnConfig{})
	result, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "hi"},
	}, collectEmit(&events))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Best-effort termination: accumulated text surfaced as final.
	if result.FinalText != "let me check" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
	got := eventTypes(events)
	if got[len(got)-1] != models.EventAssistantMessage {
		t.Errorf("last event = %v, want assistant_message", got[len(got)-1])
	}
}

func TestTurnRoundCapExhausted(t *testing.T) {
	// Every round requests another tool call; cap of 2 should stop it.
	rounds := make([][]*StreamEvent, 3)
	for i := range rounds {
		rounds[i] = []*StreamEvent{
			{ToolCall: &models.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "loop"}},
		}
	}
	provider := &scriptedProvider{rounds: rounds}
	runner := ToolRunnerFunc(func(_ context.Context, _, _ string) (string, error) {
		return EncodeToolResult(`{}`), nil
	})

	var events []recordedEvent
	loop := NewTurnLoop(provider, runner, TurnConfig{MaxToolRounds: 2})
	result, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "go"},
	}, collectEmit(&events))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalText != "" {
		t.Errorf("FinalText = %q, want empty", result.FinalText)
	}
	if result.Note == "" {
		t.Error("Note not set for exhausted cap")
	}

	final, ok := events[len(events)-1].payload.(models.MessagePayload)
	if !ok || final.Note == "" {
		t.Errorf("final payload missing note: %+v", events[len(events)-1].payload)
	}
}

func TestTurnCheckpointStopsBetweenRounds(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]*StreamEvent{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "slow"}}},
		{{Text: "never reached"}},
	}}
	runner := ToolRunnerFunc(func(_ context.Context, _, _ string) (string, error) {
		return EncodeToolResult(`{}`), nil
	})

	loop := NewTurnLoop(provider, runner, TurnConfig{
		Checkpoint: func(context.Context) error { return ErrTurnCanceled },
	})
	_, err := loop.Run(context.Background(), TurnInput{
		User: ChatMessage{Role: models.RoleUser, Content: "go"},
	}, nil)
	if !errors.Is(err, ErrTurnCanceled) {
		t.Fatalf("err = %v, want ErrTurnCanceled", err)
	}
	// First round's tools completed; the second provider call never
	// happened.
	if len(provider.requests) != 1 {
		t.Errorf("provider calls = %d, want 1", len(provider.requests))
	}
}

func TestToolResultWireShapes(t *testing.T) {
	okWire := EncodeToolResult(`{"files":3}`)
	var ok map[string]any
	if err := json.Unmarshal([]byte(okWire), &ok); err != nil {
		t.Fatalf("ok wire not JSON: %v", err)
	}
	if ok["ok"] != true {
		t.Errorf("ok wire = %s", okWire)
	}

	// Non-JSON payloads are embedded as JSON strings.
	rawWire := EncodeToolResult("plain text output")
	var raw map[string]any
	if err := json.Unmarshal([]byte(rawWire), &raw); err != nil {
		t.Fatalf("raw wire not JSON: %v", err)
	}
	if raw["result"] != "plain text output" {
		t.Errorf("raw wire = %s", rawWire)
	}

	errWire := EncodeToolError(&ToolError{Type: ToolErrorUnauthorized, Tool: "exec", Detail: "not granted"})
	var rej map[string]any
	if err := json.Unmarshal([]byte(errWire), &rej); err != nil {
		t.Fatalf("error wire not JSON: %v", err)
	}
	if rej["ok"] != false || rej["error"] != "unauthorized" {
		t.Errorf("error wire = %s", errWire)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", func(context.Context, string) (string, error) { return "", nil })
	r.Register("alpha", func(context.Context, string) (string, error) { return "", nil })
	r.Register("", nil)

	if _, ok := r.Lookup("alpha"); !ok {
		t.Error("alpha not found")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("missing tool found")
	}
	if names := r.Names(); fmt.Sprint(names) != "[alpha beta]" {
		t.Errorf("Names = %v", names)
	}
}
