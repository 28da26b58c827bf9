package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MaxToolRounds != 3 {
		t.Errorf("MaxToolRounds = %d, want 3", cfg.Engine.MaxToolRounds)
	}
	if cfg.Engine.ContextCharLimit != 120000 {
		t.Errorf("ContextCharLimit = %d, want 120000", cfg.Engine.ContextCharLimit)
	}
	if cfg.Routines.TickInterval != 10*time.Second {
		t.Errorf("TickInterval = %v, want 10s", cfg.Routines.TickInterval)
	}
}

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("LOOM_TEST_DSN", "postgres://test")

	path := filepath.Join(t.TempDir(), "loom.yaml")
	body := `
log:
  level: debug
database:
  dsn: ${LOOM_TEST_DSN}
engine:
  interactive_workers: 8
routines:
  tick_interval: 1s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://test" {
		t.Errorf("DSN = %q, want expanded env", cfg.Database.DSN)
	}
	if cfg.Engine.InteractiveWorkers != 8 {
		t.Errorf("InteractiveWorkers = %d, want 8", cfg.Engine.InteractiveWorkers)
	}
	// Unset fields keep defaults.
	if cfg.Engine.BatchWorkers != 2 {
		t.Errorf("BatchWorkers = %d, want default 2", cfg.Engine.BatchWorkers)
	}
	// Sub-floor tick intervals are rejected back to the default.
	if cfg.Routines.TickInterval != 10*time.Second {
		t.Errorf("TickInterval = %v, want clamped to 10s", cfg.Routines.TickInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
