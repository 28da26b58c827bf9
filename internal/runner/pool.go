package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/loomworks/loom/internal/backoff"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

// PoolConfig configures one worker pool.
type PoolConfig struct {
	// Kind selects the queue lane this pool drains.
	Kind models.JobKind

	// Workers is the number of concurrent job slots.
	Workers int

	// MaxAttempts bounds deliveries per message before it is dead-lettered.
	MaxAttempts int

	// Retry shapes the delay between redeliveries.
	Retry backoff.Policy
}

// Pool drains one queue lane with a fixed number of workers. Interactive
// and batch jobs run on separate pools so a flood of batch work does not
// starve interactive latency.
type Pool struct {
	runner *Runner
	queue  jobs.Queue
	cfg    PoolConfig

	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewPool creates a worker pool for one job kind.
func NewPool(r *Runner, queue jobs.Queue, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retry.InitialMs == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	return &Pool{
		runner: r,
		queue:  queue,
		cfg:    cfg,
		logger: r.logger.With("pool", string(cfg.Kind)),
	}
}

// Start launches the workers. They run until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.work(ctx, worker)
		}(i)
	}
	p.logger.Info("pool started", "workers", p.cfg.Workers)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		msg, err := p.queue.Dequeue(ctx, p.cfg.Kind)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", "worker", worker, "error", err)
			if err := backoff.SleepAttempt(ctx, p.cfg.Retry, 1); err != nil {
				return
			}
			continue
		}
		p.observeDepth()
		p.handle(ctx, msg)
	}
}

// handle settles one delivery: process, and on orchestration error either
// redeliver with backoff or dead-letter once attempts are exhausted.
func (p *Pool) handle(ctx context.Context, msg jobs.Message) {
	err := p.runner.Process(ctx, msg)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-job; the message stays settled and the job is
		// recovered from its persisted state on restart.
		return
	}

	if msg.Attempt >= p.cfg.MaxAttempts {
		p.logger.Error("delivery dead-lettered",
			"job_id", msg.JobID, "attempts", msg.Attempt, "error", err)
		p.runner.diags.Record(observability.Diagnostic{
			Kind:    observability.DiagQueueDeadLetter,
			JobID:   msg.JobID,
			Message: err.Error(),
		})
		if dlErr := p.queue.DeadLetter(ctx, p.cfg.Kind, msg, err.Error()); dlErr != nil {
			p.logger.Error("dead-letter failed", "job_id", msg.JobID, "error", dlErr)
		}
		return
	}

	p.logger.Warn("delivery retrying",
		"job_id", msg.JobID, "attempt", msg.Attempt, "error", err)
	if sleepErr := backoff.SleepAttempt(ctx, p.cfg.Retry, msg.Attempt); sleepErr != nil {
		return
	}
	msg.Attempt++
	if enqErr := p.queue.Enqueue(ctx, p.cfg.Kind, msg); enqErr != nil {
		p.logger.Error("redelivery enqueue failed", "job_id", msg.JobID, "error", enqErr)
	}
}

func (p *Pool) observeDepth() {
	mq, ok := p.queue.(*jobs.MemoryQueue)
	if !ok || p.runner.metrics == nil {
		return
	}
	p.runner.metrics.QueueDepth.WithLabelValues(string(p.cfg.Kind)).Set(float64(mq.Depth(p.cfg.Kind)))
}
