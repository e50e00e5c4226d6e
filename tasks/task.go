package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/samber/lo"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
)

// attemptsPerGeneration separates attempt numbers across job restarts.
const attemptsPerGeneration = 1000

// Config configures a Task.
type Config struct {
	// ID is the task identity.
	ID TaskID

	// MaxAttempts is the failure budget. Required, > 0.
	MaxAttempts int

	// StartCount is the job generation, starting at 1.
	// Default: 1
	StartCount int

	// Recovered lists attempts of this task from the previous generation.
	// Their numbers are reused, earliest start first.
	Recovered []RecoveredAttempt

	// NeedsWaitAfterOutputConsumable suppresses a second SUCCEEDED
	// completion for an attempt already announced as output consumable.
	NeedsWaitAfterOutputConsumable bool

	// EncryptedShuffle selects https for output server addresses.
	EncryptedShuffle bool

	// SplitsDescription is written into the task-started history record.
	SplitsDescription string

	// NewAttempt creates attempt objects. Required.
	NewAttempt AttemptFactory

	// Poster receives every message the task emits. Required.
	Poster router.Poster

	// Metrics receives lifecycle counts. Default: no-op.
	Metrics Metrics

	// Clock is the time source. Default: wall clock.
	Clock clock.Clock

	// Logger. Default: logging.New()
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: MaxAttempts must be positive", ErrInvalidConfig)
	}
	if c.StartCount < 0 {
		return fmt.Errorf("%w: StartCount must not be negative", ErrInvalidConfig)
	}
	if c.NewAttempt == nil {
		return fmt.Errorf("%w: NewAttempt is required", ErrInvalidConfig)
	}
	if c.Poster == nil {
		return fmt.Errorf("%w: Poster is required", ErrInvalidConfig)
	}
	if c.ID.Type != TypeMap && c.ID.Type != TypeReduce {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidConfig, c.ID.Type)
	}
	return nil
}

// Task owns the attempts of one unit of work and decides the task's state
// from attempt events. All mutation happens in Handle under the write lock.
type Task struct {
	id               TaskID
	maxAttempts      int
	needsWait        bool
	encryptedShuffle bool
	splits           string
	newAttempt       AttemptFactory
	poster           router.Poster
	metrics          Metrics
	clock            clock.Clock
	log              *logging.Logger

	mu       sync.RWMutex
	state    TaskState
	attempts []Attempt
	byID     map[AttemptID]Attempt

	recovered         []RecoveredAttempt
	nextAttemptNumber int

	failedAttempts            int
	finishedAttempts          int
	numberUncompletedAttempts int

	successfulAttempt       *AttemptID
	commitAttempt           *AttemptID
	outputConsumableAttempt *AttemptID
	outputConsumableSent    bool
	historyStartGenerated   bool
	scheduledTime           time.Time

	waiting bool
	running bool
	postErr error
}

// New creates a task in state NEW.
func New(cfg Config) (*Task, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StartCount == 0 {
		cfg.StartCount = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	t := &Task{
		id:               cfg.ID,
		maxAttempts:      cfg.MaxAttempts,
		needsWait:        cfg.NeedsWaitAfterOutputConsumable,
		encryptedShuffle: cfg.EncryptedShuffle,
		splits:           cfg.SplitsDescription,
		newAttempt:       cfg.NewAttempt,
		poster:           cfg.Poster,
		metrics:          cfg.Metrics,
		clock:            cfg.Clock,
		log:              cfg.Logger.WithComponent("task"),
		state:            StateNew,
		byID:             make(map[AttemptID]Attempt),
		waiting:          true,
	}

	recovered := lo.Filter(cfg.Recovered, func(r RecoveredAttempt, _ int) bool {
		return r.ID.Task == cfg.ID
	})
	sort.SliceStable(recovered, func(i, j int) bool {
		return recovered[i].StartTime.Before(recovered[j].StartTime)
	})
	if len(recovered) == 0 {
		t.nextAttemptNumber = (cfg.StartCount - 1) * attemptsPerGeneration
	} else {
		t.log.Info("task is from previous run", map[string]interface{}{
			"task":      t.id.String(),
			"recovered": len(recovered),
		})
		t.nextAttemptNumber = recovered[0].ID.Seq
		t.recovered = recovered[1:]
	}

	t.metrics.WaitingTask(t.id.Type)
	return t, nil
}

// ID returns the task identity.
func (t *Task) ID() TaskID {
	return t.id
}

// Type returns the task type.
func (t *Task) Type() TaskType {
	return t.id.Type
}

// MaxAttempts returns the failure budget.
func (t *Task) MaxAttempts() int {
	return t.maxAttempts
}

// State returns the internal state.
func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// ExternalState returns the state reported outside the task.
func (t *Task) ExternalState() TaskState {
	return t.State().External()
}

// IsFinished reports whether the task is terminal or draining.
func (t *Task) IsFinished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isFinished()
}

func (t *Task) isFinished() bool {
	return t.state == StateKillWait || t.state.IsTerminal()
}

// Attempts returns the attempts in creation order.
func (t *Task) Attempts() []Attempt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Attempt(nil), t.attempts...)
}

// Attempt looks up one attempt.
func (t *Task) Attempt(id AttemptID) (Attempt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.byID[id]
	return a, ok
}

// CanCommit reports whether id holds the commit grant.
func (t *Task) CanCommit(id AttemptID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ok := t.commitAttempt != nil && *t.commitAttempt == id
	t.log.Debug("can commit", map[string]interface{}{
		"attempt": id.String(),
		"result":  ok,
	})
	return ok
}

// SuccessfulAttempt returns the attempt that succeeded, if any.
func (t *Task) SuccessfulAttempt() (AttemptID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return deref(t.successfulAttempt)
}

// CommitAttempt returns the attempt holding the commit grant, if any.
func (t *Task) CommitAttempt() (AttemptID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return deref(t.commitAttempt)
}

// OutputConsumableAttempt returns the attempt whose output is being
// consumed, if any.
func (t *Task) OutputConsumableAttempt() (AttemptID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return deref(t.outputConsumableAttempt)
}

func deref(id *AttemptID) (AttemptID, bool) {
	if id == nil {
		return AttemptID{}, false
	}
	return *id, true
}

// Counts is a snapshot of the attempt counters.
type Counts struct {
	Failed      int
	Finished    int
	Uncompleted int
}

// Counts returns the attempt counters.
func (t *Task) Counts() Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Counts{
		Failed:      t.failedAttempts,
		Finished:    t.finishedAttempts,
		Uncompleted: t.numberUncompletedAttempts,
	}
}

// Progress is the progress of the best attempt, 0 if there is none.
func (t *Task) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if best := t.bestAttempt(); best != nil {
		return best.Progress()
	}
	return 0
}

// Counters are the counters of the best attempt, empty if there is none.
func (t *Task) Counters() Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counters()
}

func (t *Task) counters() Counters {
	if best := t.bestAttempt(); best != nil {
		return best.Counters().Clone()
	}
	return Counters{}
}

// bestAttempt picks the first live attempt, replaced only by one with
// strictly higher progress. Failed and killed attempts never qualify.
func (t *Task) bestAttempt() Attempt {
	var best Attempt
	var progress float64
	for _, a := range t.attempts {
		switch a.State() {
		case AttemptFailed, AttemptKilled:
			continue
		}
		if best == nil {
			best = a
		}
		if p := a.Progress(); p > progress {
			best = a
			progress = p
		}
	}
	return best
}

// LaunchTime is the earliest attempt launch time, or the scheduled time if
// no attempt has launched.
func (t *Task) LaunchTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.launchTime()
}

func (t *Task) launchTime() time.Time {
	var earliest time.Time
	for _, a := range t.attempts {
		lt := a.LaunchTime()
		if lt.IsZero() {
			continue
		}
		if earliest.IsZero() || lt.Before(earliest) {
			earliest = lt
		}
	}
	if earliest.IsZero() {
		return t.scheduledTime
	}
	return earliest
}

// FinishTime is the latest attempt finish time once the task is finished,
// zero before that.
func (t *Task) FinishTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finishTime()
}

func (t *Task) finishTime() time.Time {
	if !t.isFinished() {
		return time.Time{}
	}
	var latest time.Time
	for _, a := range t.attempts {
		if ft := a.FinishTime(); ft.After(latest) {
			latest = ft
		}
	}
	return latest
}

// attemptFinishTime is the finish time of one attempt, or now when no
// attempt is named.
func (t *Task) attemptFinishTime(id *AttemptID) time.Time {
	if id == nil {
		return t.clock.Now()
	}
	if a, ok := t.byID[*id]; ok {
		return a.FinishTime()
	}
	return time.Time{}
}

// Report is a point-in-time summary of a task.
type Report struct {
	TaskID            TaskID      `json:"task_id"`
	StartTime         time.Time   `json:"start_time"`
	FinishTime        time.Time   `json:"finish_time"`
	State             TaskState   `json:"state"`
	Progress          float64     `json:"progress"`
	RunningAttempts   []AttemptID `json:"running_attempts"`
	SuccessfulAttempt *AttemptID  `json:"successful_attempt,omitempty"`
	Diagnostics       []string    `json:"diagnostics"`
	Counters          Counters    `json:"counters"`
}

// Report summarizes the task.
func (t *Task) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := Report{
		TaskID:     t.id,
		StartTime:  t.launchTime(),
		FinishTime: t.finishTime(),
		State:      t.state.External(),
	}
	if best := t.bestAttempt(); best != nil {
		r.Progress = best.Progress()
	}

	running := lo.Filter(t.attempts, func(a Attempt, _ int) bool {
		return a.State() == AttemptRunning
	})
	r.RunningAttempts = lo.Map(running, func(a Attempt, _ int) AttemptID {
		return a.ID()
	})

	if t.successfulAttempt != nil {
		id := *t.successfulAttempt
		r.SuccessfulAttempt = &id
	}

	for _, a := range t.attempts {
		prefix := "AttemptID:" + a.ID().String() + " Info:"
		for _, d := range a.Diagnostics() {
			r.Diagnostics = append(r.Diagnostics, prefix+d)
		}
	}

	r.Counters = t.counters()
	return r
}
