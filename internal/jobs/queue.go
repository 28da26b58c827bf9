package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

// Message is the queue payload. All other job state lives in the Job
// entity; a consumer re-reads it from the store on delivery.
type Message struct {
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`

	// Attempt counts deliveries of this message, starting at 1.
	Attempt int `json:"attempt"`
}

// DeadLetter is a message that exhausted its redelivery budget.
type DeadLetter struct {
	Message Message   `json:"message"`
	Kind    models.JobKind `json:"kind"`
	Reason  string    `json:"reason"`
	Time    time.Time `json:"time"`
}

// Queue is the work queue contract shared by the orchestrator's worker
// pools and the routine scheduler's remediation action.
type Queue interface {
	// Enqueue submits a message to the pool for the given job kind.
	Enqueue(ctx context.Context, kind models.JobKind, msg Message) error

	// Dequeue blocks until a message is available or ctx ends.
	Dequeue(ctx context.Context, kind models.JobKind) (Message, error)

	// DeadLetter parks a message whose retries are exhausted.
	DeadLetter(ctx context.Context, kind models.JobKind, msg Message, reason string) error
}

const queueCapacity = 1024

// MemoryQueue is a channel-backed queue with one lane per job kind.
// Durability comes from the job store: a queued Job row can be re-enqueued
// on restart.
type MemoryQueue struct {
	mu    sync.Mutex
	lanes map[models.JobKind]chan Message
	dead  []DeadLetter
}

// NewMemoryQueue creates a queue with interactive and batch lanes.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		lanes: map[models.JobKind]chan Message{
			models.JobKindInteractive: make(chan Message, queueCapacity),
			models.JobKindBatch:       make(chan Message, queueCapacity),
		},
	}
}

func (q *MemoryQueue) lane(kind models.JobKind) (chan Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane, ok := q.lanes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	return lane, nil
}

// Enqueue submits a message. A first delivery gets Attempt = 1.
func (q *MemoryQueue) Enqueue(ctx context.Context, kind models.JobKind, msg Message) error {
	lane, err := q.lane(kind)
	if err != nil {
		return err
	}
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	select {
	case lane <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a message is available.
func (q *MemoryQueue) Dequeue(ctx context.Context, kind models.JobKind) (Message, error) {
	lane, err := q.lane(kind)
	if err != nil {
		return Message{}, err
	}
	select {
	case msg := <-lane:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// DeadLetter parks a message whose retries are exhausted.
func (q *MemoryQueue) DeadLetter(ctx context.Context, kind models.JobKind, msg Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{
		Message: msg,
		Kind:    kind,
		Reason:  reason,
		Time:    time.Now().UTC(),
	})
	return nil
}

// DeadLetters returns a snapshot of parked messages.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Depth returns the number of messages waiting in a lane.
func (q *MemoryQueue) Depth(kind models.JobKind) int {
	lane, err := q.lane(kind)
	if err != nil {
		return 0
	}
	return len(lane)
}
