package agents

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DocumentKind categorizes generated agent documents.
type DocumentKind string

const (
	// DocReflection is a self-reflection digest generated by the daily
	// reflection routine.
	DocReflection DocumentKind = "reflection"

	// DocReport is a status report composed by a reporting routine.
	DocReport DocumentKind = "report"
)

// Document is one generated content item owned by an agent. Rating feeds
// the prune_content routine: low-value documents are removed by threshold.
type Document struct {
	ID        string       `json:"id"`
	AgentID   string       `json:"agent_id"`
	Kind      DocumentKind `json:"kind"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	Rating    float64      `json:"rating"`
	CreatedAt time.Time    `json:"created_at"`
}

// DocumentStore persists generated agent documents.
type DocumentStore interface {
	Put(ctx context.Context, doc *Document) error
	ListByAgent(ctx context.Context, agentID string, kind DocumentKind) ([]*Document, error)

	// PruneBelowRating removes an agent's documents rated strictly below
	// the threshold and returns the removed count.
	PruneBelowRating(ctx context.Context, agentID string, threshold float64) (int, error)
}

// MemoryDocumentStore keeps documents in memory.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryDocumentStore returns an in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]*Document)}
}

// Put stores a document.
func (s *MemoryDocumentStore) Put(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *doc
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.docs[doc.ID] = &clone
	return nil
}

// ListByAgent returns an agent's documents, optionally filtered by kind.
func (s *MemoryDocumentStore) ListByAgent(ctx context.Context, agentID string, kind DocumentKind) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Document
	for _, doc := range s.docs {
		if doc.AgentID != agentID {
			continue
		}
		if kind != "" && doc.Kind != kind {
			continue
		}
		clone := *doc
		out = append(out, &clone)
	}
	return out, nil
}

// PruneBelowRating removes documents rated strictly below the threshold.
func (s *MemoryDocumentStore) PruneBelowRating(ctx context.Context, agentID string, threshold float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, doc := range s.docs {
		if doc.AgentID == agentID && doc.Rating < threshold {
			delete(s.docs, id)
			pruned++
		}
	}
	return pruned, nil
}
