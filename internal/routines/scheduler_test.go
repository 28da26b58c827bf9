package routines

import (
	"context"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/agents"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/pkg/models"
)

type schedFixture struct {
	scheduler *Scheduler
	store     *MemoryStore
	logs      *MemoryLogStore
	agents    *agents.MemoryStore
	documents *agents.MemoryDocumentStore
	jobs      *jobs.MemoryStore
	queue     *jobs.MemoryQueue
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	f := &schedFixture{
		store:     NewMemoryStore(),
		logs:      NewMemoryLogStore(),
		agents:    agents.NewMemoryStore(),
		documents: agents.NewMemoryDocumentStore(),
		jobs:      jobs.NewMemoryStore(),
		queue:     jobs.NewMemoryQueue(),
	}
	actions := NewActions(f.agents, f.documents, f.jobs, f.queue, nil, nil)
	f.scheduler = NewScheduler(SchedulerOptions{
		Store:   f.store,
		Logs:    f.logs,
		Locks:   NewMemoryLockStore(),
		Actions: actions,
	})
	return f
}

func (f *schedFixture) at(t *testing.T, when time.Time) {
	t.Helper()
	f.scheduler.now = func() time.Time { return when }
}

func (f *schedFixture) addAgent(t *testing.T, a *models.Agent) {
	t.Helper()
	if err := f.agents.Put(context.Background(), a); err != nil {
		t.Fatalf("put agent: %v", err)
	}
}

func (f *schedFixture) addRoutine(t *testing.T, r *models.Routine) *models.Routine {
	t.Helper()
	if err := f.store.Put(context.Background(), r); err != nil {
		t.Fatalf("put routine: %v", err)
	}
	list, err := f.store.ListByAgent(context.Background(), r.AgentID)
	if err != nil {
		t.Fatalf("list routines: %v", err)
	}
	for _, stored := range list {
		if stored.Name == r.Name {
			return stored
		}
	}
	t.Fatalf("routine %s not stored", r.Name)
	return nil
}

func TestTickFiresMatchingRoutine(t *testing.T) {
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	routine := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "nightly-sleep",
		Cron: "30 23 * * *", Timezone: "UTC",
		Action: models.ActionSleep, Enabled: true,
	})

	f.at(t, time.Date(2025, 6, 2, 23, 30, 10, 0, time.UTC))
	f.scheduler.Tick(context.Background())

	fires, err := f.logs.ListByRoutine(context.Background(), routine.ID, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(fires) != 1 {
		t.Fatalf("fire log rows = %d, want 1", len(fires))
	}
	if fires[0].Outcome != models.RoutineOK {
		t.Fatalf("outcome = %s (%s), want ok", fires[0].Outcome, fires[0].Message)
	}

	agentSnap, _ := f.agents.Get(context.Background(), "a1")
	if agentSnap.State != models.AgentSleeping {
		t.Errorf("agent state = %s, want sleeping", agentSnap.State)
	}
}

func TestTickSameMinuteFiresOnce(t *testing.T) {
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	routine := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "nightly-sleep",
		Cron: "30 23 * * *", Timezone: "UTC",
		Action: models.ActionSleep, Enabled: true,
	})

	// Three ticks land inside the same local minute.
	for _, sec := range []int{5, 25, 55} {
		f.at(t, time.Date(2025, 6, 2, 23, 30, sec, 0, time.UTC))
		f.scheduler.Tick(context.Background())
	}

	fires, _ := f.logs.ListByRoutine(context.Background(), routine.ID, 0)
	if len(fires) != 1 {
		t.Fatalf("fire log rows = %d, want exactly 1", len(fires))
	}

	// The next day's minute is a fresh key.
	f.at(t, time.Date(2025, 6, 3, 23, 30, 5, 0, time.UTC))
	f.scheduler.Tick(context.Background())
	fires, _ = f.logs.ListByRoutine(context.Background(), routine.ID, 0)
	if len(fires) != 2 {
		t.Fatalf("fire log rows after next day = %d, want 2", len(fires))
	}
}

func TestTickSkipsNonMatchingAndDisabled(t *testing.T) {
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	miss := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "off-minute",
		Cron: "15 10 * * *", Timezone: "UTC",
		Action: models.ActionWake, Enabled: true,
	})
	disabled := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "disabled",
		Cron: "* * * * *", Timezone: "UTC",
		Action: models.ActionWake, Enabled: false,
	})

	f.at(t, time.Date(2025, 6, 2, 10, 16, 0, 0, time.UTC))
	f.scheduler.Tick(context.Background())

	for _, routine := range []*models.Routine{miss, disabled} {
		fires, _ := f.logs.ListByRoutine(context.Background(), routine.ID, 0)
		if len(fires) != 0 {
			t.Errorf("routine %s fired %d times, want 0", routine.Name, len(fires))
		}
	}
}

func TestTickIsolatesBrokenRoutines(t *testing.T) {
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "broken-cron",
		Cron: "not a cron", Timezone: "UTC",
		Action: models.ActionWake, Enabled: true,
	})
	f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "broken-tz",
		Cron: "* * * * *", Timezone: "Mars/Olympus",
		Action: models.ActionWake, Enabled: true,
	})
	healthy := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "healthy",
		Cron: "* * * * *", Timezone: "UTC",
		Action: models.ActionWake, Enabled: true,
	})

	f.at(t, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	f.scheduler.Tick(context.Background())

	fires, _ := f.logs.ListByRoutine(context.Background(), healthy.ID, 0)
	if len(fires) != 1 {
		t.Fatalf("healthy routine fired %d times, want 1", len(fires))
	}
}

func TestTickLogsRejectedUnknownAction(t *testing.T) {
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	routine := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "mystery",
		Cron: "* * * * *", Timezone: "UTC",
		Action: models.RoutineAction("launch_rockets"), Enabled: true,
	})

	f.at(t, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	f.scheduler.Tick(context.Background())

	fires, _ := f.logs.ListByRoutine(context.Background(), routine.ID, 0)
	if len(fires) != 1 {
		t.Fatalf("fire log rows = %d, want 1", len(fires))
	}
	if fires[0].Outcome != models.RoutineRejected {
		t.Errorf("outcome = %s, want rejected", fires[0].Outcome)
	}
}

func TestTickRoutineLocalTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("timezone database unavailable: %v", err)
	}
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	routine := f.addRoutine(t, &models.Routine{
		AgentID: "a1", Name: "tokyo-morning",
		Cron: "0 9 * * *", Timezone: "Asia/Tokyo",
		Action: models.ActionWake, Enabled: true,
	})

	// 00:00 UTC is 09:00 in Tokyo.
	f.at(t, time.Date(2025, 6, 2, 0, 0, 30, 0, time.UTC))
	f.scheduler.Tick(context.Background())

	fires, _ := f.logs.ListByRoutine(context.Background(), routine.ID, 0)
	if len(fires) != 1 {
		t.Fatalf("fire log rows = %d, want 1 (09:00 %s)", len(fires), loc)
	}
}

func TestMemoryLockExpiry(t *testing.T) {
	locks := NewMemoryLockStore()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	locks.now = func() time.Time { return base }

	key := FireKey("r1", base)
	if ok, _ := locks.TryAcquire(context.Background(), key, time.Hour); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := locks.TryAcquire(context.Background(), key, time.Hour); ok {
		t.Fatal("second acquire succeeded while held")
	}

	locks.now = func() time.Time { return base.Add(61 * time.Minute) }
	if ok, _ := locks.TryAcquire(context.Background(), key, time.Hour); !ok {
		t.Fatal("acquire after expiry failed")
	}
}

func TestEnsureDefaultsProvisionsReflection(t *testing.T) {
	f := newSchedFixture(t)
	f.addAgent(t, &models.Agent{ID: "a1", State: models.AgentAwake})
	f.addAgent(t, &models.Agent{ID: "a2", State: models.AgentAwake})

	// a2's owner already disabled theirs; it must stay disabled.
	f.addRoutine(t, &models.Routine{
		AgentID: "a2", Name: defaultReflectionName,
		Cron: defaultReflectionCron, Timezone: "UTC",
		Action: models.ActionReflect, Enabled: false,
	})

	if err := EnsureDefaults(context.Background(), f.store, f.agents); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	if err := EnsureDefaults(context.Background(), f.store, f.agents); err != nil {
		t.Fatalf("second ensure defaults: %v", err)
	}

	for _, agentID := range []string{"a1", "a2"} {
		list, err := f.store.ListByAgent(context.Background(), agentID)
		if err != nil {
			t.Fatalf("list routines: %v", err)
		}
		count := 0
		var routine *models.Routine
		for _, r := range list {
			if r.Name == defaultReflectionName {
				count++
				routine = r
			}
		}
		if count != 1 {
			t.Fatalf("agent %s has %d reflection routines, want 1", agentID, count)
		}
		if agentID == "a2" && routine.Enabled {
			t.Error("disabled reflection routine was re-enabled")
		}
		if agentID == "a1" && !routine.Enabled {
			t.Error("provisioned reflection routine is disabled")
		}
	}
}
