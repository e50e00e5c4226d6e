package tasks

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskType distinguishes map tasks from reduce tasks.
type TaskType string

const (
	TypeMap    TaskType = "MAP"
	TypeReduce TaskType = "REDUCE"
)

func (t TaskType) short() string {
	if t == TypeReduce {
		return "r"
	}
	return "m"
}

func parseTaskType(s string) (TaskType, error) {
	switch s {
	case "m":
		return TypeMap, nil
	case "r":
		return TypeReduce, nil
	}
	return "", fmt.Errorf("%w: task type %q", ErrInvalidID, s)
}

// JobID identifies a job within an application.
type JobID struct {
	AppID string
	Seq   int
}

// String returns job_<app>_<seq>.
func (j JobID) String() string {
	return fmt.Sprintf("job_%s_%04d", j.AppID, j.Seq)
}

// TaskID identifies a task: job, type and partition.
type TaskID struct {
	Job       JobID
	Type      TaskType
	Partition int
}

// String returns task_<app>_<seq>_<m|r>_<partition>.
func (t TaskID) String() string {
	return fmt.Sprintf("task_%s_%04d_%s_%06d", t.Job.AppID, t.Job.Seq, t.Type.short(), t.Partition)
}

// AttemptID identifies one execution of a task.
type AttemptID struct {
	Task TaskID
	Seq  int
}

// String returns attempt_<app>_<seq>_<m|r>_<partition>_<n>.
func (a AttemptID) String() string {
	return fmt.Sprintf("attempt_%s_%04d_%s_%06d_%d",
		a.Task.Job.AppID, a.Task.Job.Seq, a.Task.Type.short(), a.Task.Partition, a.Seq)
}

// IsZero reports whether a is the zero AttemptID.
func (a AttemptID) IsZero() bool {
	return a == AttemptID{}
}

// ParseJobID parses the output of JobID.String.
func ParseJobID(s string) (JobID, error) {
	parts, err := splitID(s, "job", 3)
	if err != nil {
		return JobID{}, err
	}
	return jobFromParts(parts[1], parts[2])
}

// ParseTaskID parses the output of TaskID.String.
func ParseTaskID(s string) (TaskID, error) {
	parts, err := splitID(s, "task", 5)
	if err != nil {
		return TaskID{}, err
	}
	return taskFromParts(parts[1:5])
}

// ParseAttemptID parses the output of AttemptID.String.
func ParseAttemptID(s string) (AttemptID, error) {
	parts, err := splitID(s, "attempt", 6)
	if err != nil {
		return AttemptID{}, err
	}
	task, err := taskFromParts(parts[1:5])
	if err != nil {
		return AttemptID{}, err
	}
	n, err := strconv.Atoi(parts[5])
	if err != nil || n < 0 {
		return AttemptID{}, fmt.Errorf("%w: attempt number %q", ErrInvalidID, parts[5])
	}
	return AttemptID{Task: task, Seq: n}, nil
}

func splitID(s, prefix string, n int) ([]string, error) {
	parts := strings.Split(s, "_")
	if len(parts) != n || parts[0] != prefix {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return parts, nil
}

func jobFromParts(app, seq string) (JobID, error) {
	if app == "" {
		return JobID{}, fmt.Errorf("%w: empty application id", ErrInvalidID)
	}
	n, err := strconv.Atoi(seq)
	if err != nil || n < 0 {
		return JobID{}, fmt.Errorf("%w: job sequence %q", ErrInvalidID, seq)
	}
	return JobID{AppID: app, Seq: n}, nil
}

func taskFromParts(parts []string) (TaskID, error) {
	job, err := jobFromParts(parts[0], parts[1])
	if err != nil {
		return TaskID{}, err
	}
	typ, err := parseTaskType(parts[2])
	if err != nil {
		return TaskID{}, err
	}
	p, err := strconv.Atoi(parts[3])
	if err != nil || p < 0 {
		return TaskID{}, fmt.Errorf("%w: partition %q", ErrInvalidID, parts[3])
	}
	return TaskID{Job: job, Type: typ, Partition: p}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (j JobID) MarshalText() ([]byte, error) { return []byte(j.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JobID) UnmarshalText(b []byte) error {
	v, err := ParseJobID(string(b))
	if err != nil {
		return err
	}
	*j = v
	return nil
}

// MarshalText implements encoding.TextMarshaler. The zero TaskID marshals
// as an empty string.
func (t TaskID) MarshalText() ([]byte, error) {
	if t == (TaskID{}) {
		return []byte{}, nil
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TaskID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = TaskID{}
		return nil
	}
	v, err := ParseTaskID(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalText implements encoding.TextMarshaler. The zero AttemptID, as
// carried by task-scoped events, marshals as an empty string.
func (a AttemptID) MarshalText() ([]byte, error) {
	if a.IsZero() {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AttemptID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = AttemptID{}
		return nil
	}
	v, err := ParseAttemptID(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
