// Package config loads engine configuration from YAML with environment
// variable expansion and sensible defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Routines RoutineConfig  `yaml:"routines"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus scrape endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the storage backend. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// EngineConfig configures the job orchestrator.
type EngineConfig struct {
	// InteractiveWorkers is the worker count for the interactive pool.
	InteractiveWorkers int `yaml:"interactive_workers"`

	// BatchWorkers is the worker count for the batch pool.
	BatchWorkers int `yaml:"batch_workers"`

	// MaxToolRounds caps tool-calling rounds per turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// ContextCharLimit is the prior-history character ceiling before
	// compaction kicks in.
	ContextCharLimit int `yaml:"context_char_limit"`

	// MaxAttempts bounds queue redelivery before dead-lettering.
	MaxAttempts int `yaml:"max_attempts"`
}

// RoutineConfig configures the routine scheduler.
type RoutineConfig struct {
	// TickInterval is how often schedules are evaluated. Floor: 5s.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Engine: EngineConfig{
			InteractiveWorkers: 4,
			BatchWorkers:       2,
			MaxToolRounds:      3,
			ContextCharLimit:   120000,
			MaxAttempts:        3,
		},
		Routines: RoutineConfig{TickInterval: 10 * time.Second},
	}
}

// Load reads a YAML config file, expanding ${ENV} references, and applies
// defaults for unset fields. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Engine.InteractiveWorkers <= 0 {
		c.Engine.InteractiveWorkers = d.Engine.InteractiveWorkers
	}
	if c.Engine.BatchWorkers <= 0 {
		c.Engine.BatchWorkers = d.Engine.BatchWorkers
	}
	if c.Engine.MaxToolRounds <= 0 {
		c.Engine.MaxToolRounds = d.Engine.MaxToolRounds
	}
	if c.Engine.ContextCharLimit <= 0 {
		c.Engine.ContextCharLimit = d.Engine.ContextCharLimit
	}
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = d.Engine.MaxAttempts
	}
	if c.Routines.TickInterval < 5*time.Second {
		c.Routines.TickInterval = d.Routines.TickInterval
	}
}
