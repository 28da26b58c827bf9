package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

func TestStorePutGetIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent := &models.Agent{ID: "a1", Name: "scout", GrantedTools: []string{"web_search"}}
	if err := store.Put(ctx, agent); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Mutating the returned snapshot must not affect the store.
	got.GrantedTools[0] = "mutated"
	again, _ := store.Get(ctx, "a1")
	if again.GrantedTools[0] != "web_search" {
		t.Error("store snapshot was mutated through a returned copy")
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetStateWithContextReset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, &models.Agent{ID: "a1", State: models.AgentAwake})

	if err := store.SetState(ctx, "a1", models.AgentSleeping, false); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	agent, _ := store.Get(ctx, "a1")
	if agent.State != models.AgentSleeping || !agent.ContextResetAt.IsZero() {
		t.Errorf("unexpected agent after sleep: %+v", agent)
	}

	if err := store.SetState(ctx, "a1", models.AgentAwake, true); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	agent, _ = store.Get(ctx, "a1")
	if agent.State != models.AgentAwake || agent.ContextResetAt.IsZero() {
		t.Errorf("wake with reset did not move cutoff: %+v", agent)
	}
}

func TestEquipSkillsDeduplicates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, &models.Agent{ID: "a1", EquippedSkills: []string{"sql"}})

	if err := store.EquipSkills(ctx, "a1", []string{"sql", "python", "", "python"}); err != nil {
		t.Fatalf("EquipSkills: %v", err)
	}
	agent, _ := store.Get(ctx, "a1")
	if len(agent.EquippedSkills) != 2 {
		t.Errorf("EquippedSkills = %v", agent.EquippedSkills)
	}
}

func TestDocumentStorePrune(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	docs := []*Document{
		{ID: "d1", AgentID: "a1", Kind: DocReflection, Rating: 0.9},
		{ID: "d2", AgentID: "a1", Kind: DocReflection, Rating: 0.2},
		{ID: "d3", AgentID: "a1", Kind: DocReflection, Rating: 0.4},
		{ID: "d4", AgentID: "a2", Kind: DocReflection, Rating: 0.1},
	}
	for _, doc := range docs {
		if err := store.Put(ctx, doc); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	pruned, err := store.PruneBelowRating(ctx, "a1", 0.5)
	if err != nil {
		t.Fatalf("PruneBelowRating: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
	remaining, _ := store.ListByAgent(ctx, "a1", DocReflection)
	if len(remaining) != 1 || remaining[0].ID != "d1" {
		t.Errorf("remaining = %+v", remaining)
	}
	// Other agents untouched.
	other, _ := store.ListByAgent(ctx, "a2", "")
	if len(other) != 1 {
		t.Errorf("a2 docs = %+v", other)
	}
}
