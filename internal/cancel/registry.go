// Package cancel provides the cooperative cancellation flags the
// orchestrator polls before a job starts and between tool-calling rounds.
// A long streaming round is never interrupted mid-stream; cancellation
// takes effect at the next checkpoint.
package cancel

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL bounds how long a cancel request stays pending without a job
// picking it up.
const DefaultTTL = time.Hour

// Registry stores cancellation flags keyed by job id.
type Registry interface {
	// Request sets the cancellation flag for a job.
	Request(ctx context.Context, jobID string) error

	// Requested reports whether a live cancellation flag exists.
	Requested(ctx context.Context, jobID string) (bool, error)

	// Clear removes the flag once a job has acted on it.
	Clear(ctx context.Context, jobID string) error
}

// MemoryRegistry keeps flags in memory with TTL expiry.
type MemoryRegistry struct {
	mu    sync.Mutex
	flags map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryRegistry creates a registry. ttl <= 0 selects DefaultTTL.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryRegistry{
		flags: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Request sets the cancellation flag for a job.
func (r *MemoryRegistry) Request(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[jobID] = r.now().Add(r.ttl)
	return nil
}

// Requested reports whether a live cancellation flag exists.
func (r *MemoryRegistry) Requested(ctx context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.flags[jobID]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.flags, jobID)
		return false, nil
	}
	return true, nil
}

// Clear removes the flag.
func (r *MemoryRegistry) Clear(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, jobID)
	return nil
}
