// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/liamcoop/caseflow/workflow"
)

// Config is the full service configuration
type Config struct {
	// DatabaseURL is required unless Demo is set
	DatabaseURL string `env:"DATABASE_URL"`
	Port        string `env:"PORT" envDefault:"8080"`

	// Demo runs against in-memory stores seeded with sample data
	Demo bool `env:"DEMO"`

	Workers        int           `env:"WORKERS" envDefault:"4"`
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"1024"`
	MaxDepth       int           `env:"MAX_DEPTH" envDefault:"3"`
	RuleTimeout    time.Duration `env:"RULE_TIMEOUT" envDefault:"30s"`
	ActionTimeout  time.Duration `env:"ACTION_TIMEOUT" envDefault:"10s"`
	HistoryTimeout time.Duration `env:"HISTORY_TIMEOUT" envDefault:"5s"`
	CooldownPolicy string        `env:"COOLDOWN_POLICY" envDefault:"status"`
	CooldownWindow time.Duration `env:"COOLDOWN_WINDOW" envDefault:"1h"`
	FirstMatchOnly bool          `env:"FIRST_MATCH_ONLY"`

	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5m"`

	// RulesCacheTTL backstops missed change notifications
	RulesCacheTTL time.Duration `env:"RULES_CACHE_TTL" envDefault:"5m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" && !c.Demo {
		return errors.New("DATABASE_URL is required unless DEMO=true")
	}
	if c.SchedulerEnabled && c.SchedulerInterval < time.Second {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s, got %s", c.SchedulerInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// EngineOptions maps the engine settings onto workflow.Options
func (c Config) EngineOptions() workflow.Options {
	return workflow.Options{
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		MaxDepth:       c.MaxDepth,
		RuleTimeout:    c.RuleTimeout,
		ActionTimeout:  c.ActionTimeout,
		HistoryTimeout: c.HistoryTimeout,
		Cooldown:       workflow.CooldownPolicy(c.CooldownPolicy),
		CooldownWindow: c.CooldownWindow,
		FirstMatchOnly: c.FirstMatchOnly,
	}
}
