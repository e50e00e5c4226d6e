// Package logging provides leveled, component-scoped console logging for
// taskkit services. Entries are encoded by zap; callers pass structured
// fields as a map the same way everywhere in the module.
package logging

import (
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a level name into a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	l := Level(s)
	if _, ok := zapLevels[l]; ok {
		return l
	}
	return LevelInfo
}

// Logger provides structured logging to stdout.
type Logger struct {
	output    io.Writer
	level     zap.AtomicLevel
	component string
	zl        *zap.Logger
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	l := &Logger{
		output: os.Stdout,
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
	l.build()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	derived := &Logger{
		output:    l.output,
		level:     zap.NewAtomicLevelAt(l.level.Level()),
		component: component,
	}
	derived.build()
	return derived
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if zl, ok := zapLevels[level]; ok {
		l.level.SetLevel(zl)
	}
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.build()
}

func (l *Logger) build() {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:     "ts",
		LevelKey:    "level",
		NameKey:     "component",
		MessageKey:  "msg",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeLevel: zapcore.CapitalLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(l.output), l.level)
	zl := zap.New(core)
	if l.component != "" {
		zl = zl.Named(l.component)
	}
	l.zl = zl
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.zl.Debug(msg, toZap(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.zl.Info(msg, toZap(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.zl.Warn(msg, toZap(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.zl.Error(msg, toZap(fields)...)
}

// toZap flattens the optional field map into zap fields in key order so
// that output is stable.
func toZap(fields []map[string]interface{}) []zap.Field {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields[0]))
	for k := range fields[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[0][k]))
	}
	return out
}

// --- Lifecycle logging helpers ---

// TaskTransition logs a task moving between states.
func (l *Logger) TaskTransition(taskID, from, to, event string) {
	l.Info("task_transition", map[string]interface{}{
		"task":  taskID,
		"from":  from,
		"to":    to,
		"event": event,
	})
}

// AttemptKillRequested logs a kill request issued to an attempt.
func (l *Logger) AttemptKillRequested(attemptID, reason string) {
	l.Info("attempt_kill_requested", map[string]interface{}{
		"attempt": attemptID,
		"reason":  reason,
	})
}

// LivenessTimeout logs an identity evicted by a heartbeat monitor.
func (l *Logger) LivenessTimeout(monitor, id string, silent time.Duration) {
	l.Warn("liveness_timeout", map[string]interface{}{
		"monitor": monitor,
		"id":      id,
		"silent":  silent.String(),
	})
}
