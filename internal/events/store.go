// Package events provides the append-only per-run event log and the live
// fan-out broker that downstream observers tail.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// Store persists run events. Seq assignment is atomic per run: events for
// one run are totally ordered starting at 1 with no gaps, and are immutable
// once written.
type Store interface {
	// Append stores the next event for a run and returns it with its
	// assigned sequence number and timestamp.
	Append(ctx context.Context, runID string, typ models.EventType, payload any) (*models.Event, error)

	// List returns events for a run with seq > afterSeq, in seq order.
	List(ctx context.Context, runID string, afterSeq int64) ([]*models.Event, error)
}

// MemoryStore keeps event logs in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]*models.Event
}

// NewMemoryStore returns an in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]*models.Event)}
}

// Append stores the next event for a run.
func (s *MemoryStore) Append(ctx context.Context, runID string, typ models.EventType, payload any) (*models.Event, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[runID]
	event := &models.Event{
		RunID:     runID,
		Seq:       int64(len(log)) + 1,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
		Payload:   data,
	}
	s.logs[runID] = append(log, event)
	return event, nil
}

// List returns events for a run after the given sequence number.
func (s *MemoryStore) List(ctx context.Context, runID string, afterSeq int64) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[runID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(log)) {
		return nil, nil
	}
	out := make([]*models.Event, len(log)-int(afterSeq))
	copy(out, log[afterSeq:])
	return out, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return data, nil
}
