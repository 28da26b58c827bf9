package routines

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loomworks/loom/internal/agents"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

const (
	// DefaultTickInterval is how often schedules are evaluated.
	DefaultTickInterval = 10 * time.Second

	// MinTickInterval is the evaluation floor. Ticking faster buys
	// nothing: the schedule granularity is one minute.
	MinTickInterval = 5 * time.Second
)

// defaultReflectionName is the auto-provisioned routine's (AgentID, Name)
// name component.
const defaultReflectionName = "daily-reflection"

// defaultReflectionCron fires once a day at 03:00 local time.
const defaultReflectionCron = "0 3 * * *"

// Scheduler is the periodic loop that fires due routines. Replicas may run
// concurrently: duplicate suppression is the lock store, not in-process
// exclusivity. The running flag only guards one replica against its own
// overlapping ticks.
type Scheduler struct {
	store   Store
	logs    LogStore
	locks   LockStore
	actions *Actions

	logger   *slog.Logger
	metrics  *observability.Metrics
	diags    *observability.Diagnostics
	interval time.Duration

	running atomic.Bool
	now     func() time.Time
}

// SchedulerOptions bundles the scheduler's collaborators.
type SchedulerOptions struct {
	Store   Store
	Logs    LogStore
	Locks   LockStore
	Actions *Actions

	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Diagnostics *observability.Diagnostics

	// TickInterval defaults to DefaultTickInterval and is clamped to
	// MinTickInterval.
	TickInterval time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = observability.NewDiagnostics(0)
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if interval < MinTickInterval {
		interval = MinTickInterval
	}
	return &Scheduler{
		store:    opts.Store,
		logs:     opts.Logs,
		locks:    opts.Locks,
		actions:  opts.Actions,
		logger:   logger.With("component", "scheduler"),
		metrics:  opts.Metrics,
		diags:    opts.Diagnostics,
		interval: interval,
		now:      time.Now,
	}
}

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled routine once. A tick that starts while the
// previous one is still running returns immediately.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	enabled, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("list routines failed", "error", err)
		return
	}

	now := s.now()
	for _, routine := range enabled {
		// One routine's failure never affects the others' evaluation.
		s.evaluate(ctx, routine, now)
	}
}

func (s *Scheduler) evaluate(ctx context.Context, routine *models.Routine, now time.Time) {
	loc := time.UTC
	if routine.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(routine.Timezone)
		if err != nil {
			s.configError(routine, "invalid timezone", err)
			return
		}
	}

	sched, err := ParseSchedule(routine.Cron)
	if err != nil {
		s.configError(routine, "invalid cron expression", err)
		return
	}

	local := now.In(loc)
	if !sched.Matches(local) {
		return
	}

	acquired, err := s.locks.TryAcquire(ctx, FireKey(routine.ID, local), LockTTL)
	if err != nil {
		s.logger.Error("lock acquire failed",
			"routine_id", routine.ID, "error", err)
		return
	}
	if !acquired {
		// Another tick or replica already fired this minute.
		return
	}

	outcome, msg := s.actions.Execute(ctx, routine)
	if err := s.logs.Append(ctx, &models.RoutineLog{
		RoutineID: routine.ID,
		AgentID:   routine.AgentID,
		Action:    routine.Action,
		Outcome:   outcome,
		Message:   msg,
	}); err != nil {
		s.logger.Error("fire log append failed",
			"routine_id", routine.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.RoutineFires.WithLabelValues(string(routine.Action), string(outcome)).Inc()
	}
	switch outcome {
	case models.RoutineOK:
		s.logger.Info("routine fired",
			"routine_id", routine.ID, "action", routine.Action, "message", msg)
	default:
		s.logger.Warn("routine fired with problem",
			"routine_id", routine.ID, "action", routine.Action,
			"outcome", outcome, "message", msg)
		s.diags.Record(observability.Diagnostic{
			Kind:      observability.DiagRoutineError,
			RoutineID: routine.ID,
			AgentID:   routine.AgentID,
			Message:   msg,
		})
	}
}

func (s *Scheduler) configError(routine *models.Routine, what string, err error) {
	s.logger.Warn(what,
		"routine_id", routine.ID, "agent_id", routine.AgentID, "error", err)
	s.diags.Record(observability.Diagnostic{
		Kind:      observability.DiagRoutineError,
		RoutineID: routine.ID,
		AgentID:   routine.AgentID,
		Message:   what,
		Detail:    err.Error(),
	})
}

// EnsureDefaults provisions the standing routines every agent gets: a
// daily self-reflection. Existing routines with the same name are left
// untouched, including ones the owner disabled.
func EnsureDefaults(ctx context.Context, store Store, agentStore agents.Store) error {
	all, err := agentStore.List(ctx)
	if err != nil {
		return err
	}
	for _, agentSnap := range all {
		existing, err := store.ListByAgent(ctx, agentSnap.ID)
		if err != nil {
			return err
		}
		found := false
		for _, routine := range existing {
			if routine.Name == defaultReflectionName {
				found = true
				break
			}
		}
		if found {
			continue
		}
		routine := &models.Routine{
			AgentID:  agentSnap.ID,
			Name:     defaultReflectionName,
			Cron:     defaultReflectionCron,
			Timezone: "UTC",
			Action:   models.ActionReflect,
			Enabled:  true,
		}
		if err := store.Put(ctx, routine); err != nil {
			return err
		}
	}
	return nil
}
