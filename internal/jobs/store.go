// Package jobs provides the job store and the durable work queue feeding
// the orchestrator's worker pools.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

var (
	// ErrNotFound indicates the job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates a status change that would violate
	// the monotonic lifecycle. Terminal jobs are never re-executed.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store persists jobs. Jobs are mutated only through the lifecycle methods;
// they are never deleted (retained as history).
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)

	// SetRunning transitions queued -> running.
	SetRunning(ctx context.Context, id string, at time.Time) error

	// Finish transitions to a terminal status with output or error.
	Finish(ctx context.Context, id string, status models.JobStatus, output json.RawMessage, errMsg string, at time.Time) error
}

// MemoryStore keeps jobs in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStore returns a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

// Create stores a new job. Status defaults to queued.
func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	if clone.Status == "" {
		clone.Status = models.JobQueued
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = &clone
	return nil
}

// Get returns a copy of a job by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *job
	return &clone, nil
}

// SetRunning transitions queued -> running.
func (s *MemoryStore) SetRunning(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.CanTransitionTo(models.JobRunning) {
		return fmt.Errorf("%w: %s -> running", ErrInvalidTransition, job.Status)
	}
	job.Status = models.JobRunning
	job.StartedAt = at
	return nil
}

// Finish transitions a job to a terminal status.
func (s *MemoryStore) Finish(ctx context.Context, id string, status models.JobStatus, output json.RawMessage, errMsg string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	job.Output = output
	job.Error = errMsg
	job.FinishedAt = at
	return nil
}
