package config

import (
	"testing"
	"time"

	"github.com/liamcoop/caseflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/caseflow")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, 5*time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, workflow.DefaultOptions(), cfg.EngineOptions())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEMO", "true")
	t.Setenv("WORKERS", "8")
	t.Setenv("MAX_DEPTH", "5")
	t.Setenv("ACTION_TIMEOUT", "250ms")
	t.Setenv("COOLDOWN_POLICY", "window")
	t.Setenv("COOLDOWN_WINDOW", "15m")
	t.Setenv("FIRST_MATCH_ONLY", "true")
	t.Setenv("SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	opts := cfg.EngineOptions()
	assert.Equal(t, 8, opts.Workers)
	assert.Equal(t, 5, opts.MaxDepth)
	assert.Equal(t, 250*time.Millisecond, opts.ActionTimeout)
	assert.Equal(t, workflow.CooldownWindow, opts.Cooldown)
	assert.Equal(t, 15*time.Minute, opts.CooldownWindow)
	assert.True(t, opts.FirstMatchOnly)
	assert.False(t, cfg.SchedulerEnabled)
}

func TestLoadRejects(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"no database", map[string]string{}},
		{"bad duration", map[string]string{"DEMO": "true", "RULE_TIMEOUT": "soon"}},
		{"fast scheduler", map[string]string{"DEMO": "true", "SCHEDULER_INTERVAL": "10ms"}},
		{"bad integer", map[string]string{"DEMO": "true", "WORKERS": "many"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
