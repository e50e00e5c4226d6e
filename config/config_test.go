package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/tasks"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 4, cfg.Task.MaxAttempts(tasks.TypeMap))
	require.Equal(t, 4, cfg.Task.MaxAttempts(tasks.TypeReduce))
	require.Equal(t, 5*time.Minute, cfg.Heartbeat.AttemptTimeout())
	require.Equal(t, 5*time.Minute, cfg.Heartbeat.ContainerTimeout())
	require.Equal(t, 30*time.Second, cfg.Heartbeat.CheckInterval())
	require.Equal(t, BackendMemory, cfg.Bus.Backend)
	require.Equal(t, BackendMemory, cfg.History.Backend)
	require.Equal(t, "taskkit", cfg.Metrics.Namespace)
	require.Equal(t, logging.LevelInfo, cfg.LogLevel())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse(`
[task]
max_reduce_attempts = 2
needs_wait_after_output_consumable = true

[heartbeat]
attempt_timeout_ms = 0

[bus]
backend = "nats"
url = "nats://queue.internal:4222"

[history]
backend = "nats"

[logging]
level = "debug"
`)
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Task.MaxAttempts(tasks.TypeMap))
	require.Equal(t, 2, cfg.Task.MaxAttempts(tasks.TypeReduce))
	require.True(t, cfg.Task.NeedsWaitAfterOutputConsumable)
	require.Zero(t, cfg.Heartbeat.AttemptTimeout(), "zero disables detection")
	require.Equal(t, 30*time.Second, cfg.Heartbeat.CheckInterval())
	require.Equal(t, "nats://queue.internal:4222", cfg.Bus.URL)
	require.Equal(t, "taskkit-history", cfg.History.Bucket)
	require.Equal(t, logging.LevelDebug, cfg.LogLevel())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[task"},
		{"unknown key", "[task]\nretries = 3"},
		{"zero budget", "[task]\nmax_map_attempts = 0"},
		{"zero start count", "[task]\nstart_count = 0"},
		{"zero interval", "[heartbeat]\ncheck_interval_ms = 0"},
		{"unknown bus", "[bus]\nbackend = \"kafka\""},
		{"nats history without nats bus", "[history]\nbackend = \"nats\""},
		{"unknown level", "[logging]\nlevel = \"loud\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			require.Error(t, err)
		})
	}

	_, err := Parse("[bus]\nbackend = \"kafka\"")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[metrics]\nlisten = \":9090\"\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Metrics.Listen)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
