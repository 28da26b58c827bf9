package agent

import (
	"context"
	"strings"

	"github.com/loomworks/loom/pkg/models"
)

// echoChunk is the delta size EchoProvider streams in.
const echoChunk = 16

// EchoProvider is the local development backend: it streams the triggering
// user message back in small deltas. It lets the full pipeline run without
// a model endpoint configured.
type EchoProvider struct{}

// NewEchoProvider returns an echo backend.
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

// StreamChat streams the last user message back, chunked.
func (p *EchoProvider) StreamChat(ctx context.Context, req *ChatRequest) (<-chan *StreamEvent, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	text := "echo: " + last

	ch := make(chan *StreamEvent, 8)
	go func() {
		defer close(ch)
		for _, chunk := range chunks(text) {
			select {
			case ch <- &StreamEvent{Text: chunk}:
			case <-ctx.Done():
				return
			}
		}
		usage := &models.Usage{
			InputTokens:  approxTokens(last),
			OutputTokens: approxTokens(text),
		}
		select {
		case ch <- &StreamEvent{Usage: usage}:
		case <-ctx.Done():
			return
		}
		select {
		case ch <- &StreamEvent{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func chunks(text string) []string {
	var out []string
	for i := 0; i < len(text); i += echoChunk {
		end := i + echoChunk
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[i:end])
	}
	return out
}

func approxTokens(text string) int {
	return len(strings.Fields(text))
}
