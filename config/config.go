// Package config loads taskkit configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/tasks"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Backends for the bus and history sections.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Config is the complete configuration.
type Config struct {
	Task      Task      `toml:"task"`
	Heartbeat Heartbeat `toml:"heartbeat"`
	Bus       Bus       `toml:"bus"`
	History   History   `toml:"history"`
	Metrics   Metrics   `toml:"metrics"`
	Logging   Logging   `toml:"logging"`
}

// Task holds per-task defaults.
type Task struct {
	MaxMapAttempts                 int  `toml:"max_map_attempts"`
	MaxReduceAttempts              int  `toml:"max_reduce_attempts"`
	StartCount                     int  `toml:"start_count"`
	NeedsWaitAfterOutputConsumable bool `toml:"needs_wait_after_output_consumable"`
	EncryptedShuffle               bool `toml:"encrypted_shuffle"`
}

// MaxAttempts returns the failure budget for a task type.
func (t Task) MaxAttempts(typ tasks.TaskType) int {
	if typ == tasks.TypeReduce {
		return t.MaxReduceAttempts
	}
	return t.MaxMapAttempts
}

// Heartbeat holds liveness monitor settings in milliseconds. A timeout of
// zero or less disables detection.
type Heartbeat struct {
	AttemptTimeoutMS   int64 `toml:"attempt_timeout_ms"`
	ContainerTimeoutMS int64 `toml:"container_timeout_ms"`
	CheckIntervalMS    int64 `toml:"check_interval_ms"`
}

// AttemptTimeout returns the attempt liveness timeout.
func (h Heartbeat) AttemptTimeout() time.Duration {
	return time.Duration(h.AttemptTimeoutMS) * time.Millisecond
}

// ContainerTimeout returns the container liveness timeout.
func (h Heartbeat) ContainerTimeout() time.Duration {
	return time.Duration(h.ContainerTimeoutMS) * time.Millisecond
}

// CheckInterval returns the monitor check period.
func (h Heartbeat) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalMS) * time.Millisecond
}

// Bus selects the message bus.
type Bus struct {
	Backend       string `toml:"backend"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	BufferSize    int    `toml:"buffer_size"`
}

// History selects the history store.
type History struct {
	Backend string `toml:"backend"`
	Bucket  string `toml:"bucket"`
}

// Metrics configures the Prometheus exporter.
type Metrics struct {
	Namespace string `toml:"namespace"`
	// Listen is the address serving /metrics. Empty disables the endpoint.
	Listen string `toml:"listen"`
}

// Logging configures the logger.
type Logging struct {
	Level string `toml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Task: Task{
			MaxMapAttempts:    4,
			MaxReduceAttempts: 4,
			StartCount:        1,
		},
		Heartbeat: Heartbeat{
			AttemptTimeoutMS:   300000,
			ContainerTimeoutMS: 300000,
			CheckIntervalMS:    30000,
		},
		Bus: Bus{
			Backend:       BackendMemory,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "taskkit",
			BufferSize:    256,
		},
		History: History{
			Backend: BackendMemory,
			Bucket:  "taskkit-history",
		},
		Metrics: Metrics{
			Namespace: "taskkit",
		},
		Logging: Logging{
			Level: string(logging.LevelInfo),
		},
	}
}

// LoadFile loads configuration from a TOML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses TOML content on top of the defaults and validates the
// result. Unknown keys are rejected.
func Parse(content string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Task.MaxMapAttempts <= 0 || c.Task.MaxReduceAttempts <= 0 {
		return fmt.Errorf("%w: task attempt budgets must be positive", ErrInvalid)
	}
	if c.Task.StartCount <= 0 {
		return fmt.Errorf("%w: task.start_count must be positive", ErrInvalid)
	}
	if c.Heartbeat.CheckIntervalMS <= 0 {
		return fmt.Errorf("%w: heartbeat.check_interval_ms must be positive", ErrInvalid)
	}
	switch c.Bus.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Bus.URL == "" {
			return fmt.Errorf("%w: bus.url is required for nats", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown bus backend %q", ErrInvalid, c.Bus.Backend)
	}
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("%w: bus.buffer_size must be positive", ErrInvalid)
	}
	switch c.History.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Bus.Backend != BackendNATS {
			return fmt.Errorf("%w: nats history needs the nats bus", ErrInvalid)
		}
		if c.History.Bucket == "" {
			return fmt.Errorf("%w: history.bucket is required for nats", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown history backend %q", ErrInvalid, c.History.Backend)
	}
	if logging.ParseLevel(strings.ToUpper(c.Logging.Level)) != logging.Level(strings.ToUpper(c.Logging.Level)) {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Logging.Level)
	}
	return nil
}

// LogLevel returns the configured level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(strings.ToUpper(c.Logging.Level))
}
