package routines

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/pkg/models"
)

// ErrNotFound indicates an unknown routine id.
var ErrNotFound = errors.New("routine not found")

// Store persists routines. (AgentID, Name) is unique; Put upserts on that
// pair.
type Store interface {
	Put(ctx context.Context, routine *models.Routine) error
	Get(ctx context.Context, id string) (*models.Routine, error)
	Delete(ctx context.Context, id string) error

	// ListEnabled returns all enabled routines.
	ListEnabled(ctx context.Context) ([]*models.Routine, error)

	// ListByAgent returns an agent's routines, enabled or not.
	ListByAgent(ctx context.Context, agentID string) ([]*models.Routine, error)
}

// LogStore persists the append-only fire log.
type LogStore interface {
	Append(ctx context.Context, log *models.RoutineLog) error
	ListByRoutine(ctx context.Context, routineID string, limit int) ([]*models.RoutineLog, error)
}

// MemoryStore keeps routines in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	routines map[string]*models.Routine
}

// NewMemoryStore returns an in-memory routine store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{routines: make(map[string]*models.Routine)}
}

// Put inserts or replaces a routine. A routine with the same (AgentID,
// Name) but a different id is replaced, keeping the pair unique.
func (s *MemoryStore) Put(ctx context.Context, routine *models.Routine) error {
	if routine == nil || routine.AgentID == "" || routine.Name == "" {
		return fmt.Errorf("routine agent id and name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *routine
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	for id, existing := range s.routines {
		if existing.AgentID == clone.AgentID && existing.Name == clone.Name && id != clone.ID {
			delete(s.routines, id)
		}
	}
	s.routines[clone.ID] = &clone
	return nil
}

// Get returns a routine by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routine, ok := s.routines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	clone := *routine
	return &clone, nil
}

// Delete removes a routine. Deleting an unknown id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routines, id)
	return nil
}

// ListEnabled returns enabled routines, ordered by id for deterministic
// tick iteration.
func (s *MemoryStore) ListEnabled(ctx context.Context) ([]*models.Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Routine
	for _, routine := range s.routines {
		if routine.Enabled {
			clone := *routine
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListByAgent returns an agent's routines.
func (s *MemoryStore) ListByAgent(ctx context.Context, agentID string) ([]*models.Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Routine
	for _, routine := range s.routines {
		if routine.AgentID == agentID {
			clone := *routine
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MemoryLogStore keeps the fire log in memory.
type MemoryLogStore struct {
	mu   sync.RWMutex
	logs []*models.RoutineLog
}

// NewMemoryLogStore returns an in-memory fire log.
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

// Append writes one fire record.
func (s *MemoryLogStore) Append(ctx context.Context, log *models.RoutineLog) error {
	if log == nil || log.RoutineID == "" {
		return fmt.Errorf("routine log routine id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *log
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, &clone)
	return nil
}

// ListByRoutine returns a routine's most recent fires, newest first.
// limit <= 0 returns all.
func (s *MemoryLogStore) ListByRoutine(ctx context.Context, routineID string, limit int) ([]*models.RoutineLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RoutineLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].RoutineID != routineID {
			continue
		}
		clone := *s.logs[i]
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
