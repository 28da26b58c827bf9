// Package runner implements the job orchestrator: it turns one dequeued
// job into turn input, supervises the turn, streams and persists its
// events, and finalizes job state with cooperative cancellation.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/agent"
	"github.com/loomworks/loom/internal/agents"
	"github.com/loomworks/loom/internal/cancel"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/sessions"
	"github.com/loomworks/loom/internal/tools/policy"
	"github.com/loomworks/loom/pkg/models"
)

// ErrAgentSleeping indicates a job was dispatched to a sleeping agent.
// Sleeping agents never execute.
var ErrAgentSleeping = errors.New("agent is sleeping")

// Config configures the orchestrator.
type Config struct {
	// MaxToolRounds caps tool-calling rounds per turn.
	MaxToolRounds int

	// ContextCharLimit is the prior-history ceiling before compaction.
	ContextCharLimit int
}

// Runner processes jobs end to end.
type Runner struct {
	jobStore jobs.Store
	events   events.Store
	broker   *events.Broker
	sessions sessions.Store
	agents   agents.Store
	registry *agent.Registry
	provider agent.Provider
	cancels  cancel.Registry
	builder  *sessions.ContextBuilder

	logger  *slog.Logger
	metrics *observability.Metrics
	diags   *observability.Diagnostics

	cfg Config
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Jobs     jobs.Store
	Events   events.Store
	Broker   *events.Broker
	Sessions sessions.Store
	Agents   agents.Store
	Registry *agent.Registry
	Provider agent.Provider
	Cancels  cancel.Registry

	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Diagnostics *observability.Diagnostics

	Config Config
}

// New creates a job runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = observability.NewDiagnostics(0)
	}
	if opts.Registry == nil {
		opts.Registry = agent.NewRegistry()
	}
	return &Runner{
		jobStore: opts.Jobs,
		events:   opts.Events,
		broker:   opts.Broker,
		sessions: opts.Sessions,
		agents:   opts.Agents,
		registry: opts.Registry,
		provider: opts.Provider,
		cancels:  opts.Cancels,
		builder:  sessions.NewContextBuilder(opts.Sessions, opts.Config.ContextCharLimit),
		logger:   logger.With("component", "runner"),
		metrics:  opts.Metrics,
		diags:    opts.Diagnostics,
		cfg:      opts.Config,
	}
}

// Process executes one queue delivery. A nil return means the delivery is
// settled (including jobs that finished failed or canceled); a non-nil
// return asks the queue to retry and eventually dead-letter.
func (r *Runner) Process(ctx context.Context, msg jobs.Message) error {
	job, err := r.jobStore.Get(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	if job.Status.Terminal() {
		// Redelivery of a settled job is an idempotent no-op.
		return nil
	}

	// Checkpoint one: before the job starts at all.
	if canceled, err := r.cancelRequested(ctx, job.ID); err != nil {
		return err
	} else if canceled {
		return r.finishCanceled(ctx, job)
	}

	agentSnap, err := r.agents.Get(ctx, job.AgentID)
	if err != nil {
		return r.failJob(ctx, job, fmt.Errorf("load agent %s: %w", job.AgentID, err))
	}
	if agentSnap.State == models.AgentSleeping {
		return r.failJob(ctx, job, fmt.Errorf("%w: %s", ErrAgentSleeping, agentSnap.ID))
	}

	input := &models.JobInput{}
	if len(job.Input) > 0 {
		if err := json.Unmarshal(job.Input, input); err != nil {
			return r.failJob(ctx, job, fmt.Errorf("decode job input: %w", err))
		}
	}

	prior, err := r.builder.Build(ctx, agentSnap, job, input)
	if err != nil {
		return r.failJob(ctx, job, fmt.Errorf("assemble context: %w", err))
	}

	now := time.Now().UTC()
	if err := r.jobStore.SetRunning(ctx, job.ID, now); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	job.Status = models.JobRunning
	job.StartedAt = now

	emit := r.emitter(job.ID)
	if err := emit(ctx, models.EventRunStarted, nil); err != nil {
		return err
	}

	allowed := policy.Resolve(agentSnap)
	loop := agent.NewTurnLoop(r.provider, r.sandboxedRunner(job, allowed), agent.TurnConfig{
		MaxToolRounds: r.cfg.MaxToolRounds,
		Checkpoint:    r.checkpoint(job.ID),
	})

	result, err := loop.Run(ctx, agent.TurnInput{
		Model:  agentSnap.Model,
		System: agentSnap.SystemPrompt,
		Prior:  prior,
		User:   agent.ChatMessage{Role: models.RoleUser, Content: input.Text},
		Tools:  r.toolSchemas(allowed),
	}, emit)

	switch {
	case errors.Is(err, agent.ErrTurnCanceled):
		return r.finishCanceled(ctx, job)
	case err != nil:
		// The turn loop already emitted the error event.
		return r.finishFailed(ctx, job, err, emit)
	default:
		return r.finishSucceeded(ctx, job, result, emit)
	}
}

// cancelRequested polls the cooperative cancellation flag.
func (r *Runner) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	if r.cancels == nil {
		return false, nil
	}
	return r.cancels.Requested(ctx, jobID)
}

// checkpoint adapts the cancellation flag to the turn loop's between-round
// poll.
func (r *Runner) checkpoint(jobID string) func(context.Context) error {
	return func(ctx context.Context) error {
		canceled, err := r.cancelRequested(ctx, jobID)
		if err != nil {
			return err
		}
		if canceled {
			return agent.ErrTurnCanceled
		}
		return nil
	}
}

// emitter returns the event pipeline for one job: assign the next sequence
// number, append durably, then publish live. The durable write
// happens-before the publish, so replay-then-live readers never miss what
// a live subscriber just saw.
func (r *Runner) emitter(jobID string) agent.EmitFunc {
	return func(ctx context.Context, typ models.EventType, payload any) error {
		event, err := r.events.Append(ctx, jobID, typ, payload)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		if r.metrics != nil {
			r.metrics.EventsAppended.WithLabelValues(string(typ)).Inc()
		}
		if r.broker != nil {
			r.broker.Publish(event)
		}
		return nil
	}
}

// sandboxedRunner binds the tool registry to a job's permitted tool set
// and identity. Rejections come back as {ok:false} wire strings; the turn
// never fails on a tool rejection.
func (r *Runner) sandboxedRunner(job *models.Job, allowed []string) agent.ToolRunner {
	return agent.ToolRunnerFunc(func(ctx context.Context, name, argsJSON string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		wire, status := r.runToolOnce(ctx, job, allowed, name, argsJSON)
		if r.metrics != nil {
			r.metrics.ToolExecutions.WithLabelValues(name, status).Inc()
		}
		return wire, nil
	})
}

func (r *Runner) runToolOnce(ctx context.Context, job *models.Job, allowed []string, name, argsJSON string) (wire string, status string) {
	if !policy.Allowed(allowed, name) {
		return agent.EncodeToolError(&agent.ToolError{
			Type: agent.ToolErrorUnauthorized, Tool: name,
			Detail: "tool is not in this job's permitted set",
		}), "error"
	}
	fn, ok := r.registry.Lookup(name)
	if !ok {
		return agent.EncodeToolError(&agent.ToolError{
			Type: agent.ToolErrorNotFound, Tool: name,
			Detail: "no implementation registered",
		}), "error"
	}
	if !json.Valid([]byte(argsJSON)) {
		return agent.EncodeToolError(&agent.ToolError{
			Type: agent.ToolErrorInvalidInput, Tool: name,
			Detail: "arguments are not valid JSON",
		}), "error"
	}

	result, err := fn(withJobIdentity(ctx, job), argsJSON)
	if err != nil {
		return agent.EncodeToolError(&agent.ToolError{
			Type: agent.ToolErrorExecution, Tool: name,
			Detail: err.Error(),
		}), "error"
	}
	return agent.EncodeToolResult(result), "ok"
}

// toolSchemas exposes the permitted tools that have implementations.
func (r *Runner) toolSchemas(allowed []string) []models.ToolSchema {
	var out []models.ToolSchema
	for _, name := range allowed {
		if _, ok := r.registry.Lookup(name); ok {
			out = append(out, models.ToolSchema{Name: name})
		}
	}
	return out
}

func (r *Runner) finishSucceeded(ctx context.Context, job *models.Job, result *agent.TurnResult, emit agent.EmitFunc) error {
	now := time.Now().UTC()

	if job.SessionID != "" {
		usage := result.Usage
		msg := &models.Message{
			ID:        uuid.NewString(),
			SessionID: job.SessionID,
			Role:      models.RoleAssistant,
			Content:   result.FinalText,
			Usage:     &usage,
			CreatedAt: now,
		}
		if err := r.sessions.AppendMessage(ctx, msg); err != nil {
			return r.finishFailed(ctx, job, fmt.Errorf("persist assistant message: %w", err), emit)
		}
		if err := r.sessions.Touch(ctx, job.SessionID, now); err != nil {
			r.logger.Warn("session touch failed", "session_id", job.SessionID, "error", err)
		}
	}

	output, _ := json.Marshal(map[string]string{"text": result.FinalText})
	if err := r.jobStore.Finish(ctx, job.ID, models.JobSucceeded, output, "", now); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if err := emit(ctx, models.EventRunFinished, models.StatusPayload{Status: models.JobSucceeded}); err != nil {
		return err
	}
	r.observeFinish(job, models.JobSucceeded, now)
	return nil
}

// finishFailed settles a job as failed after the run started. The error
// string is the operator-facing signal; the diagnostic carries detail.
func (r *Runner) finishFailed(ctx context.Context, job *models.Job, cause error, emit agent.EmitFunc) error {
	now := time.Now().UTC()
	if err := r.jobStore.Finish(ctx, job.ID, models.JobFailed, nil, cause.Error(), now); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if emit != nil {
		if err := emit(ctx, models.EventRunFinished, models.StatusPayload{Status: models.JobFailed}); err != nil {
			r.logger.Warn("run_finished emit failed", "job_id", job.ID, "error", err)
		}
	}
	r.diags.Record(observability.Diagnostic{
		Kind:    observability.DiagJobFailed,
		JobID:   job.ID,
		AgentID: job.AgentID,
		Message: cause.Error(),
	})
	r.logger.Error("job failed", "job_id", job.ID, "agent_id", job.AgentID, "error", cause)
	r.observeFinish(job, models.JobFailed, now)
	return nil
}

// failJob settles a job that failed before its run started: no events
// have been emitted yet, so the error event is the first and only one.
func (r *Runner) failJob(ctx context.Context, job *models.Job, cause error) error {
	emit := r.emitter(job.ID)
	if err := emit(ctx, models.EventError, models.ErrorPayload{Message: cause.Error()}); err != nil {
		r.logger.Warn("error emit failed", "job_id", job.ID, "error", err)
	}
	now := time.Now().UTC()
	if err := r.jobStore.Finish(ctx, job.ID, models.JobFailed, nil, cause.Error(), now); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	r.diags.Record(observability.Diagnostic{
		Kind:    observability.DiagJobFailed,
		JobID:   job.ID,
		AgentID: job.AgentID,
		Message: cause.Error(),
	})
	r.logger.Error("job failed in preflight", "job_id", job.ID, "error", cause)
	r.observeFinish(job, models.JobFailed, now)
	return nil
}

// finishCanceled settles a canceled job. No final assistant message is
// written.
func (r *Runner) finishCanceled(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	emit := r.emitter(job.ID)
	if err := emit(ctx, models.EventStatus, models.StatusPayload{Status: models.JobCanceled}); err != nil {
		r.logger.Warn("cancel status emit failed", "job_id", job.ID, "error", err)
	}
	if err := r.jobStore.Finish(ctx, job.ID, models.JobCanceled, nil, "", now); err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	if err := emit(ctx, models.EventRunFinished, models.StatusPayload{Status: models.JobCanceled}); err != nil {
		r.logger.Warn("run_finished emit failed", "job_id", job.ID, "error", err)
	}
	if r.cancels != nil {
		if err := r.cancels.Clear(ctx, job.ID); err != nil {
			r.logger.Warn("cancel flag clear failed", "job_id", job.ID, "error", err)
		}
	}
	r.logger.Info("job canceled", "job_id", job.ID)
	r.observeFinish(job, models.JobCanceled, now)
	return nil
}

func (r *Runner) observeFinish(job *models.Job, status models.JobStatus, at time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.JobsProcessed.WithLabelValues(string(job.Kind), string(status)).Inc()
	if !job.StartedAt.IsZero() {
		r.metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(at.Sub(job.StartedAt).Seconds())
	}
}

type identityKey struct{}

// Identity is the job-scoped identity visible to tool implementations.
type Identity struct {
	JobID   string
	AgentID string
	UserID  string
}

func withJobIdentity(ctx context.Context, job *models.Job) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{
		JobID:   job.ID,
		AgentID: job.AgentID,
		UserID:  job.UserID,
	})
}

// IdentityFromContext returns the job identity a tool is running under.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
