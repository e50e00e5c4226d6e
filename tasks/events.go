package tasks

import (
	"time"

	"github.com/vinayprograms/taskkit/router"
)

// Destinations used by the task lifecycle.
const (
	DestinationTask      router.Destination = "task"
	DestinationJob       router.Destination = "job"
	DestinationHistory   router.Destination = "history"
	DestinationScheduler router.Destination = "scheduler"
	DestinationAttempt   router.Destination = "attempt"
)

// Event is delivered to a task. AttemptID is set for attempt-scoped types.
type Event struct {
	Type        EventType `json:"type"`
	TaskID      TaskID    `json:"task_id"`
	AttemptID   AttemptID `json:"attempt_id"`
	Diagnostics string    `json:"diagnostics,omitempty"`
}

// Destination implements router.Message.
func (Event) Destination() router.Destination { return DestinationTask }

// NewEvent builds a task-scoped event.
func NewEvent(typ EventType, task TaskID) Event {
	return Event{Type: typ, TaskID: task}
}

// NewAttemptEvent builds an attempt-scoped event for the attempt's task.
func NewAttemptEvent(typ EventType, attempt AttemptID) Event {
	return Event{Type: typ, TaskID: attempt.Task, AttemptID: attempt}
}

// --- Job destination ---

// TaskCompleted tells the job a task reached a final external state.
type TaskCompleted struct {
	TaskID TaskID    `json:"task_id"`
	State  TaskState `json:"state"`
}

// AttemptCompletion is the record downstream consumers use to locate
// attempt output.
type AttemptCompletion struct {
	EventID             int              `json:"event_id"`
	AttemptID           AttemptID        `json:"attempt_id"`
	Status              CompletionStatus `json:"status"`
	OutputServerAddress string           `json:"output_server_address"`
	// AttemptRunTime is finish minus launch in milliseconds, 0 if either
	// is unknown.
	AttemptRunTime int64 `json:"attempt_run_time"`
}

// AttemptCompleted carries an AttemptCompletion to the job.
type AttemptCompleted struct {
	TaskID     TaskID            `json:"task_id"`
	Completion AttemptCompletion `json:"completion"`
}

// MapTaskRescheduled tells the job a succeeded map must run again.
type MapTaskRescheduled struct {
	TaskID TaskID `json:"task_id"`
}

// DiagnosticsUpdate appends a diagnostic line to the job.
type DiagnosticsUpdate struct {
	TaskID  TaskID `json:"task_id"`
	Message string `json:"message"`
}

// InternalError reports a task-level anomaly the job must judge.
type InternalError struct {
	TaskID TaskID    `json:"task_id"`
	Event  EventType `json:"event"`
	State  TaskState `json:"state"`
}

func (TaskCompleted) Destination() router.Destination      { return DestinationJob }
func (AttemptCompleted) Destination() router.Destination   { return DestinationJob }
func (MapTaskRescheduled) Destination() router.Destination { return DestinationJob }
func (DiagnosticsUpdate) Destination() router.Destination  { return DestinationJob }
func (InternalError) Destination() router.Destination      { return DestinationJob }

// --- History destination ---

// HistoryKind names the record inside a HistoryEvent.
type HistoryKind string

const (
	HistoryTaskStarted  HistoryKind = "TASK_STARTED"
	HistoryTaskFinished HistoryKind = "TASK_FINISHED"
	HistoryTaskFailed   HistoryKind = "TASK_FAILED"
)

// TaskStarted is written when a task is first scheduled.
type TaskStarted struct {
	TaskID            TaskID    `json:"task_id"`
	LaunchTime        time.Time `json:"launch_time"`
	TaskType          TaskType  `json:"task_type"`
	SplitsDescription string    `json:"splits"`
}

// TaskFinished is written when a task succeeds.
type TaskFinished struct {
	TaskID            TaskID    `json:"task_id"`
	SuccessfulAttempt AttemptID `json:"successful_attempt"`
	FinishTime        time.Time `json:"finish_time"`
	TaskType          TaskType  `json:"task_type"`
	FinalState        TaskState `json:"final_state"`
	Counters          Counters  `json:"counters"`
}

// TaskFailed is written when a task fails or is killed. FailedAttempt is
// nil for kills.
type TaskFailed struct {
	TaskID        TaskID     `json:"task_id"`
	FinishTime    time.Time  `json:"finish_time"`
	TaskType      TaskType   `json:"task_type"`
	Diagnostics   string     `json:"diagnostics"`
	FinalState    TaskState  `json:"final_state"`
	FailedAttempt *AttemptID `json:"failed_attempt,omitempty"`
}

// HistoryEvent wraps exactly one history record.
type HistoryEvent struct {
	Kind     HistoryKind   `json:"kind"`
	Started  *TaskStarted  `json:"started,omitempty"`
	Finished *TaskFinished `json:"finished,omitempty"`
	Failed   *TaskFailed   `json:"failed,omitempty"`
}

// Destination implements router.Message.
func (HistoryEvent) Destination() router.Destination { return DestinationHistory }

// TaskID returns the task the record belongs to.
func (h HistoryEvent) TaskID() TaskID {
	switch {
	case h.Started != nil:
		return h.Started.TaskID
	case h.Finished != nil:
		return h.Finished.TaskID
	case h.Failed != nil:
		return h.Failed.TaskID
	}
	return TaskID{}
}

// --- Scheduler and attempt destinations ---

// ScheduleAttempt asks the resource layer to place an attempt.
type ScheduleAttempt struct {
	AttemptID      AttemptID `json:"attempt_id"`
	PreferNonLocal bool      `json:"prefer_non_local"`
}

// Destination implements router.Message.
func (ScheduleAttempt) Destination() router.Destination { return DestinationScheduler }

// Kill reasons.
const (
	ReasonAlternateSucceeded     = "Alternate attempt succeeded"
	ReasonAlternateServingOutput = "Alternate attemptId already serving output"
	ReasonAlternateCommitting    = "Output being committed by alternate attemptId."
	ReasonTaskKilled             = "Task KILL is received. Killing attempt!"
)

// KillAttempt asks an attempt to terminate. Timeout is set when the kill
// follows a liveness timeout that was already reported as a failure.
type KillAttempt struct {
	AttemptID AttemptID `json:"attempt_id"`
	Reason    string    `json:"reason"`
	Timeout   bool      `json:"timeout,omitempty"`
}

// Destination implements router.Message.
func (KillAttempt) Destination() router.Destination { return DestinationAttempt }
