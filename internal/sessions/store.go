// Package sessions provides session message storage, the per-session
// compaction summary, and the context builder that turns history into turn
// input.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// ErrSessionNotFound indicates an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Store persists messages and session summaries. Message history is shared
// state: the external API layer also writes user turns, so the engine never
// assumes exclusive ownership.
type Store interface {
	// AppendMessage persists one message.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListMessagesSince returns a session's messages created at or after
	// the cutoff, in chronological order. A zero cutoff returns all.
	ListMessagesSince(ctx context.Context, sessionID string, since time.Time) ([]*models.Message, error)

	// GetSummary returns the session's summary, or nil if none exists.
	GetSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)

	// PutSummary replaces the session's summary wholesale.
	PutSummary(ctx context.Context, summary *models.SessionSummary) error

	// Touch bumps the session's freshness timestamp.
	Touch(ctx context.Context, sessionID string, at time.Time) error
}

// MemoryStore keeps sessions in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  map[string][]*models.Message
	summaries map[string]*models.SessionSummary
	touched   map[string]time.Time
}

// NewMemoryStore returns an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string][]*models.Message),
		summaries: make(map[string]*models.SessionSummary),
		touched:   make(map[string]time.Time),
	}
}

// AppendMessage persists one message.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("message session id is required")
	}
	if msg.Role == models.RoleTool && (msg.ToolName == "" || msg.ToolCallID == "") {
		return fmt.Errorf("tool message requires tool name and call id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *msg
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &clone)
	return nil
}

// ListMessagesSince returns messages created at or after the cutoff.
func (s *MemoryStore) ListMessagesSince(ctx context.Context, sessionID string, since time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Message
	for _, msg := range s.messages[sessionID] {
		if !since.IsZero() && msg.CreatedAt.Before(since) {
			continue
		}
		clone := *msg
		out = append(out, &clone)
	}
	return out, nil
}

// GetSummary returns the session summary or nil.
func (s *MemoryStore) GetSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *summary
	return &clone, nil
}

// PutSummary replaces the session summary wholesale.
func (s *MemoryStore) PutSummary(ctx context.Context, summary *models.SessionSummary) error {
	if summary == nil || summary.SessionID == "" {
		return fmt.Errorf("summary session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *summary
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now().UTC()
	}
	s.summaries[summary.SessionID] = &clone
	return nil
}

// Touch bumps the session freshness timestamp.
func (s *MemoryStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[sessionID] = at
	return nil
}

// TouchedAt returns the session's freshness timestamp.
func (s *MemoryStore) TouchedAt(sessionID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[sessionID]
}
