package tasks

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidConfig = errors.New("invalid task configuration")
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

// TaskState is the internal state of a task.
type TaskState string

const (
	StateNew       TaskState = "NEW"
	StateScheduled TaskState = "SCHEDULED"
	StateRunning   TaskState = "RUNNING"
	StateKillWait  TaskState = "KILL_WAIT"
	StateSucceeded TaskState = "SUCCEEDED"
	StateFailed    TaskState = "FAILED"
	StateKilled    TaskState = "KILLED"
)

// String returns the state name.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are expected. A
// SUCCEEDED map task can still be reopened by a retroactive failure.
func (s TaskState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateKilled
}

// External maps the internal state to the one reported outside the task.
// KILL_WAIT is reported as KILLED.
func (s TaskState) External() TaskState {
	if s == StateKillWait {
		return StateKilled
	}
	return s
}

// EventType enumerates the events a task consumes.
type EventType string

const (
	EventSchedule                EventType = "T_SCHEDULE"
	EventKill                    EventType = "T_KILL"
	EventAttemptLaunched         EventType = "T_ATTEMPT_LAUNCHED"
	EventAttemptOutputConsumable EventType = "T_ATTEMPT_OUTPUT_CONSUMABLE"
	EventAttemptCommitPending    EventType = "T_ATTEMPT_COMMIT_PENDING"
	EventAddSpeculativeAttempt   EventType = "T_ADD_SPEC_ATTEMPT"
	EventAttemptSucceeded        EventType = "T_ATTEMPT_SUCCEEDED"
	EventAttemptKilled           EventType = "T_ATTEMPT_KILLED"
	EventAttemptFailed           EventType = "T_ATTEMPT_FAILED"
)

// String returns the event name.
func (e EventType) String() string {
	return string(e)
}

// AttemptScoped reports whether events of this type name an attempt.
func (e EventType) AttemptScoped() bool {
	switch e {
	case EventSchedule, EventKill, EventAddSpeculativeAttempt:
		return false
	}
	return true
}

// AttemptState is the coarse state of an attempt as seen by its task.
type AttemptState string

const (
	AttemptNew           AttemptState = "NEW"
	AttemptStarting      AttemptState = "STARTING"
	AttemptRunning       AttemptState = "RUNNING"
	AttemptCommitPending AttemptState = "COMMIT_PENDING"
	AttemptSucceeded     AttemptState = "SUCCEEDED"
	AttemptFailed        AttemptState = "FAILED"
	AttemptKilled        AttemptState = "KILLED"
)

// CompletionStatus is the status carried by an attempt completion record.
type CompletionStatus string

const (
	CompletionSucceeded CompletionStatus = "SUCCEEDED"
	CompletionFailed    CompletionStatus = "FAILED"
	CompletionKilled    CompletionStatus = "KILLED"
	CompletionTIPFailed CompletionStatus = "TIPFAILED"
)

// Counters are named attempt counters.
type Counters map[string]int64

// Clone returns a copy; a nil receiver yields an empty map.
func (c Counters) Clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Attempt is the view a task needs of one of its attempts. Kill requests
// are not a method here; the task posts KillAttempt to DestinationAttempt.
type Attempt interface {
	ID() AttemptID
	State() AttemptState

	// Progress in [0,1].
	Progress() float64
	Counters() Counters
	Diagnostics() []string

	// LaunchTime and FinishTime are zero until set.
	LaunchTime() time.Time
	FinishTime() time.Time

	// NodeHTTPAddress is host:port of the node running the attempt, or ""
	// if no node has been assigned.
	NodeHTTPAddress() string
	ShufflePort() int

	IsFinished() bool
}

// AttemptFactory creates the attempt object for a newly allocated id.
type AttemptFactory func(id AttemptID) Attempt

// RecoveredAttempt describes an attempt from a previous job generation.
type RecoveredAttempt struct {
	ID        AttemptID `json:"id"`
	StartTime time.Time `json:"start_time"`
}

// Metrics receives task lifecycle counts.
type Metrics interface {
	WaitingTask(t TaskType)
	EndWaitingTask(t TaskType)
	// LaunchedTask also ends the waiting period.
	LaunchedTask(t TaskType)
	RunningTask(t TaskType)
	EndRunningTask(t TaskType)
	FinishedTask(t TaskType, state TaskState)
}

type nopMetrics struct{}

func (nopMetrics) WaitingTask(TaskType)             {}
func (nopMetrics) EndWaitingTask(TaskType)          {}
func (nopMetrics) LaunchedTask(TaskType)            {}
func (nopMetrics) RunningTask(TaskType)             {}
func (nopMetrics) EndRunningTask(TaskType)          {}
func (nopMetrics) FinishedTask(TaskType, TaskState) {}
