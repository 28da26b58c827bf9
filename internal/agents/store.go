// Package agents provides the agent snapshot store consumed by the
// orchestrator and mutated by scheduled routine actions. Agent CRUD itself
// belongs to the external platform layer; this store is the collaborator
// boundary the engine reads through.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// ErrNotFound indicates an unknown agent id.
var ErrNotFound = errors.New("agent not found")

// Store reads and mutates agent snapshots.
type Store interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
	Put(ctx context.Context, agent *models.Agent) error

	// SetState toggles sleep/wake. resetContext additionally moves the
	// agent's context cutoff to now, discarding visible history without
	// deleting it.
	SetState(ctx context.Context, id string, state models.AgentState, resetContext bool) error

	// EquipSkills adds skills to the agent's equipped list, deduplicated.
	EquipSkills(ctx context.Context, id string, skills []string) error

	// List returns all agents.
	List(ctx context.Context) ([]*models.Agent, error)
}

// MemoryStore keeps agents in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewMemoryStore returns an in-memory agent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*models.Agent)}
}

// Get returns a copy of an agent snapshot.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

// Put stores an agent snapshot.
func (s *MemoryStore) Put(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneAgent(agent)
	clone.UpdatedAt = time.Now().UTC()
	s.agents[agent.ID] = clone
	return nil
}

// SetState toggles sleep/wake, optionally resetting the context cutoff.
func (s *MemoryStore) SetState(ctx context.Context, id string, state models.AgentState, resetContext bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	agent.State = state
	if resetContext {
		agent.ContextResetAt = time.Now().UTC()
	}
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// EquipSkills adds skills to the equipped list, deduplicated.
func (s *MemoryStore) EquipSkills(ctx context.Context, id string, skills []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return ErrNotFound
	}
	have := make(map[string]bool, len(agent.EquippedSkills))
	for _, skill := range agent.EquippedSkills {
		have[skill] = true
	}
	for _, skill := range skills {
		if skill == "" || have[skill] {
			continue
		}
		have[skill] = true
		agent.EquippedSkills = append(agent.EquippedSkills, skill)
	}
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns all agents.
func (s *MemoryStore) List(ctx context.Context) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, cloneAgent(agent))
	}
	return out, nil
}

func cloneAgent(agent *models.Agent) *models.Agent {
	clone := *agent
	clone.GrantedTools = append([]string(nil), agent.GrantedTools...)
	clone.EquippedSkills = append([]string(nil), agent.EquippedSkills...)
	return &clone
}
