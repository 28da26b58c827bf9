package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/models"
)

func newTestJob(id string) *models.Job {
	return &models.Job{
		ID:        id,
		ProjectID: "p1",
		AgentID:   "a1",
		Kind:      models.JobKindInteractive,
		Input:     json.RawMessage(`{"text":"hi"}`),
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Create(ctx, newTestJob("j1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	job, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != models.JobQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}

	if err := store.SetRunning(ctx, "j1", now); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}
	if err := store.Finish(ctx, "j1", models.JobSucceeded, json.RawMessage(`{"text":"ok"}`), "", now); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	job, _ = store.Get(ctx, "j1")
	if job.Status != models.JobSucceeded || string(job.Output) != `{"text":"ok"}` {
		t.Errorf("unexpected final job: %+v", job)
	}
}

func TestStoreRejectsTerminalMutation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	store.Create(ctx, newTestJob("j1"))
	store.SetRunning(ctx, "j1", now)
	store.Finish(ctx, "j1", models.JobFailed, nil, "boom", now)

	if err := store.SetRunning(ctx, "j1", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetRunning on failed job: %v, want ErrInvalidTransition", err)
	}
	if err := store.Finish(ctx, "j1", models.JobSucceeded, nil, "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Finish on failed job: %v, want ErrInvalidTransition", err)
	}
}

func TestStoreCancelBeforeStart(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, newTestJob("j1"))
	if err := store.Finish(ctx, "j1", models.JobCanceled, nil, "", time.Now().UTC()); err != nil {
		t.Fatalf("Finish(canceled) on queued job: %v", err)
	}
	job, _ := store.Get(ctx, "j1")
	if job.Status != models.JobCanceled {
		t.Errorf("status = %s, want canceled", job.Status)
	}
}

func TestStoreFinishRequiresTerminalStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, newTestJob("j1"))

	if err := store.Finish(ctx, "j1", models.JobRunning, nil, "", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Finish(running): %v, want ErrInvalidTransition", err)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: %v, want ErrNotFound", err)
	}
}

func TestQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue()
	ctx := context.Background()

	if err := queue.Enqueue(ctx, models.JobKindInteractive, Message{JobID: "j1", UserID: "u1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if depth := queue.Depth(models.JobKindInteractive); depth != 1 {
		t.Errorf("Depth = %d, want 1", depth)
	}

	msg, err := queue.Dequeue(ctx, models.JobKindInteractive)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if msg.JobID != "j1" || msg.Attempt != 1 {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestQueueLanesAreIndependent(t *testing.T) {
	queue := NewMemoryQueue()
	ctx := context.Background()

	queue.Enqueue(ctx, models.JobKindBatch, Message{JobID: "b1"})

	dequeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := queue.Dequeue(dequeCtx, models.JobKindInteractive); err == nil {
		t.Error("interactive lane served a batch message")
	}

	msg, err := queue.Dequeue(ctx, models.JobKindBatch)
	if err != nil || msg.JobID != "b1" {
		t.Errorf("batch dequeue = %+v, %v", msg, err)
	}
}

func TestQueueUnknownKind(t *testing.T) {
	queue := NewMemoryQueue()
	if err := queue.Enqueue(context.Background(), "mystery", Message{JobID: "j1"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestQueueDeadLetters(t *testing.T) {
	queue := NewMemoryQueue()
	ctx := context.Background()

	msg := Message{JobID: "j1", Attempt: 3}
	if err := queue.DeadLetter(ctx, models.JobKindInteractive, msg, "agent missing"); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	dead := queue.DeadLetters()
	if len(dead) != 1 || dead[0].Message.JobID != "j1" || dead[0].Reason != "agent missing" {
		t.Errorf("unexpected dead letters: %+v", dead)
	}
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	queue := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := queue.Dequeue(ctx, models.JobKindInteractive); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
