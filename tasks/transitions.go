package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	tkerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/router"
)

// Handle applies one event. The whole transition runs under the task's
// write lock; messages it produces are posted without blocking.
//
// An event the current state does not accept leaves the state unchanged,
// is reported to the job and returns an error with code
// INVALID_TRANSITION. Errors from the poster are returned combined.
func (t *Task) Handle(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.TaskID != t.id {
		return tkerrors.New(tkerrors.ErrCodeInvalidInput,
			fmt.Sprintf("event for task %s delivered to task %s", ev.TaskID, t.id),
			tkerrors.WithTaskID(t.id.String()))
	}

	from := t.state
	next, err := t.transition(ev)
	if err == nil && next != from {
		t.state = next
		t.log.TaskTransition(t.id.String(), from.String(), next.String(), ev.Type.String())
	}
	return multierr.Append(err, t.takePostErr())
}

// transition is the closed set of (state, event) pairs a task accepts.
func (t *Task) transition(ev Event) (TaskState, error) {
	switch t.state {
	case StateNew:
		switch ev.Type {
		case EventSchedule:
			return t.schedule(), nil
		case EventKill:
			return t.killNew(), nil
		}

	case StateScheduled:
		switch ev.Type {
		case EventAttemptLaunched:
			return t.launched(), nil
		case EventKill:
			return t.killRequested(), nil
		case EventAttemptKilled:
			return t.withAttempt(ev, t.attemptKilled)
		case EventAttemptFailed:
			return t.withAttempt(ev, func(a Attempt, ev Event) TaskState {
				return t.attemptFailed(a, ev, StateScheduled)
			})
		}

	case StateRunning:
		switch ev.Type {
		case EventAttemptLaunched:
			return StateRunning, nil
		case EventAttemptOutputConsumable:
			return t.withAttempt(ev, t.outputConsumable)
		case EventAttemptCommitPending:
			return t.withAttempt(ev, t.commitPending)
		case EventAddSpeculativeAttempt:
			t.addAndScheduleAttempt()
			return StateRunning, nil
		case EventAttemptSucceeded:
			return t.withAttempt(ev, t.attemptSucceeded)
		case EventAttemptKilled:
			return t.withAttempt(ev, t.attemptKilled)
		case EventAttemptFailed:
			return t.withAttempt(ev, func(a Attempt, ev Event) TaskState {
				return t.attemptFailed(a, ev, StateRunning)
			})
		case EventKill:
			return t.killRequested(), nil
		}

	case StateKillWait:
		switch ev.Type {
		case EventAttemptKilled:
			return t.withAttempt(ev, t.killWaitAttemptKilled)
		case EventKill, EventAttemptLaunched, EventAttemptOutputConsumable,
			EventAttemptCommitPending, EventAttemptFailed, EventAttemptSucceeded,
			EventAddSpeculativeAttempt:
			return StateKillWait, nil
		}

	case StateSucceeded:
		switch ev.Type {
		case EventAttemptFailed:
			return t.withAttempt(ev, t.retroactiveFailure)
		case EventAttemptKilled:
			return t.withAttempt(ev, t.retroactiveKill)
		case EventAddSpeculativeAttempt, EventAttemptLaunched:
			return StateSucceeded, nil
		}

	case StateFailed, StateKilled:
		switch ev.Type {
		case EventKill, EventAddSpeculativeAttempt:
			return t.state, nil
		}
	}
	return t.state, t.invalid(ev)
}

// withAttempt resolves the event's attempt before running fn.
func (t *Task) withAttempt(ev Event, fn func(Attempt, Event) TaskState) (TaskState, error) {
	a, ok := t.byID[ev.AttemptID]
	if !ok {
		t.log.Warn("event for unknown attempt", map[string]interface{}{
			"task":    t.id.String(),
			"attempt": ev.AttemptID.String(),
			"event":   ev.Type.String(),
		})
		t.post(InternalError{TaskID: t.id, Event: ev.Type, State: t.state})
		return t.state, tkerrors.New(tkerrors.ErrCodeNotFound,
			fmt.Sprintf("attempt %s is not an attempt of task %s", ev.AttemptID, t.id),
			tkerrors.WithTaskID(t.id.String()),
			tkerrors.WithAttemptID(ev.AttemptID.String()),
			tkerrors.WithMetadata("event", ev.Type.String()))
	}
	return fn(a, ev), nil
}

func (t *Task) invalid(ev Event) error {
	t.log.Error("invalid event", map[string]interface{}{
		"task":  t.id.String(),
		"event": ev.Type.String(),
		"state": t.state.String(),
	})
	t.post(DiagnosticsUpdate{
		TaskID:  t.id,
		Message: fmt.Sprintf("Invalid event %s on Task %s", ev.Type, t.id),
	})
	t.post(InternalError{TaskID: t.id, Event: ev.Type, State: t.state})
	return tkerrors.InvalidTransition(t.id.String(), ev.Type.String(), t.state.String())
}

// --- Transitions ---

func (t *Task) schedule() TaskState {
	t.addAndScheduleAttempt()
	t.scheduledTime = t.clock.Now()
	t.post(HistoryEvent{
		Kind: HistoryTaskStarted,
		Started: &TaskStarted{
			TaskID:            t.id,
			LaunchTime:        t.launchTime(),
			TaskType:          t.id.Type,
			SplitsDescription: t.splits,
		},
	})
	t.historyStartGenerated = true
	return StateScheduled
}

func (t *Task) killNew() TaskState {
	if t.historyStartGenerated {
		t.postFailed(nil, "", StateKilled)
	}
	t.post(TaskCompleted{TaskID: t.id, State: StateKilled})
	return t.finished(StateKilled)
}

func (t *Task) launched() TaskState {
	t.metrics.LaunchedTask(t.id.Type)
	t.metrics.RunningTask(t.id.Type)
	t.waiting = false
	t.running = true
	return StateRunning
}

func (t *Task) killRequested() TaskState {
	for _, a := range t.attempts {
		if !a.IsFinished() {
			t.killAttempt(a.ID(), ReasonTaskKilled)
		}
	}
	t.numberUncompletedAttempts = 0
	return StateKillWait
}

func (t *Task) outputConsumable(a Attempt, _ Event) TaskState {
	if t.outputConsumableAttempt != nil {
		t.log.Info("output already consumable from another attempt", map[string]interface{}{
			"attempt": a.ID().String(),
			"serving": t.outputConsumableAttempt.String(),
		})
		t.killAttempt(a.ID(), ReasonAlternateServingOutput)
		return t.state
	}
	t.sendCompletion(a, CompletionSucceeded)
	id := a.ID()
	t.outputConsumableAttempt = &id
	t.outputConsumableSent = true
	return t.state
}

func (t *Task) commitPending(a Attempt, _ Event) TaskState {
	if t.commitAttempt != nil {
		t.log.Info("commit already granted to another attempt", map[string]interface{}{
			"attempt":   a.ID().String(),
			"committer": t.commitAttempt.String(),
		})
		t.killAttempt(a.ID(), ReasonAlternateCommitting)
		return t.state
	}
	id := a.ID()
	t.commitAttempt = &id
	return t.state
}

func (t *Task) attemptSucceeded(a Attempt, _ Event) TaskState {
	id := a.ID()
	t.sendCompletion(a, CompletionSucceeded)
	t.finishedAttempts++
	t.numberUncompletedAttempts--
	t.successfulAttempt = &id

	t.post(TaskCompleted{TaskID: t.id, State: StateSucceeded})
	if t.historyStartGenerated {
		t.post(HistoryEvent{
			Kind: HistoryTaskFinished,
			Finished: &TaskFinished{
				TaskID:            t.id,
				SuccessfulAttempt: id,
				FinishTime:        a.FinishTime(),
				TaskType:          t.id.Type,
				FinalState:        StateSucceeded,
				Counters:          t.counters(),
			},
		})
	}

	for _, other := range t.attempts {
		if other.ID() != id && !other.IsFinished() {
			t.killAttempt(other.ID(), ReasonAlternateSucceeded)
		}
	}
	return t.finished(StateSucceeded)
}

func (t *Task) attemptKilled(a Attempt, _ Event) TaskState {
	t.releaseClaims(a.ID())
	t.sendCompletion(a, CompletionKilled)
	t.finishedAttempts++
	t.numberUncompletedAttempts--
	if t.successfulAttempt == nil {
		t.addAndScheduleAttempt()
	}
	return t.state
}

// attemptFailed applies the failure budget. Below the budget the task
// stays in next; at the budget it fails.
func (t *Task) attemptFailed(a Attempt, ev Event, next TaskState) TaskState {
	id := a.ID()
	t.failedAttempts++
	wasConsumable := t.outputConsumableAttempt != nil && *t.outputConsumableAttempt == id
	t.releaseClaims(id)
	// A retroactive failure counts the successful attempt a second time, so
	// a later kill drain can end before every attempt reported.
	t.finishedAttempts++

	if t.failedAttempts < t.maxAttempts {
		t.sendCompletion(a, CompletionFailed)
		t.numberUncompletedAttempts--
		if t.numberUncompletedAttempts == 0 && t.successfulAttempt == nil {
			t.addAndScheduleAttempt()
		}
		return next
	}

	if wasConsumable {
		t.sendCompletion(a, CompletionFailed)
	}
	t.sendCompletion(a, CompletionTIPFailed)
	if t.historyStartGenerated {
		diags := a.Diagnostics()
		if ev.Diagnostics != "" {
			diags = append(append([]string(nil), diags...), ev.Diagnostics)
		}
		var b strings.Builder
		for _, d := range diags {
			b.WriteString(", ")
			b.WriteString(d)
		}
		t.postFailed(&id, b.String(), StateFailed)
	}
	t.post(TaskCompleted{TaskID: t.id, State: StateFailed})
	return t.finished(StateFailed)
}

func (t *Task) killWaitAttemptKilled(a Attempt, _ Event) TaskState {
	t.sendCompletion(a, CompletionKilled)
	t.finishedAttempts++
	if t.finishedAttempts < len(t.attempts) {
		return StateKillWait
	}
	if t.historyStartGenerated {
		t.postFailed(nil, "", StateKilled)
	}
	t.post(TaskCompleted{TaskID: t.id, State: StateKilled})
	return t.finished(StateKilled)
}

// retroactiveFailure reopens a map task whose successful attempt failed
// after the fact. Reduce tasks and stale reports keep SUCCEEDED.
func (t *Task) retroactiveFailure(a Attempt, ev Event) TaskState {
	if !t.isSuccessful(a.ID()) {
		t.log.Info("ignoring failure of superseded attempt", map[string]interface{}{
			"attempt": a.ID().String(),
		})
		return StateSucceeded
	}
	if t.id.Type == TypeReduce {
		t.log.Info("ignoring late failure of reduce attempt", map[string]interface{}{
			"attempt": a.ID().String(),
		})
		return StateSucceeded
	}

	t.post(MapTaskRescheduled{TaskID: t.id})
	t.unSucceed()
	t.numberUncompletedAttempts++
	next := t.attemptFailed(a, ev, StateScheduled)
	if next == StateScheduled {
		t.rewait()
	}
	return next
}

// retroactiveKill reopens a map task whose successful attempt was killed
// after the fact.
func (t *Task) retroactiveKill(a Attempt, _ Event) TaskState {
	if !t.isSuccessful(a.ID()) {
		return StateSucceeded
	}
	if t.id.Type == TypeReduce {
		t.log.Info("ignoring late kill of reduce attempt", map[string]interface{}{
			"attempt": a.ID().String(),
		})
		return StateSucceeded
	}

	t.releaseClaims(a.ID())
	t.unSucceed()
	t.sendCompletion(a, CompletionKilled)
	t.post(MapTaskRescheduled{TaskID: t.id})
	t.addAndScheduleAttempt()
	t.rewait()
	return StateScheduled
}

// --- Helpers ---

func (t *Task) addAndScheduleAttempt() {
	id := AttemptID{Task: t.id, Seq: t.nextAttemptNumber}
	a := t.newAttempt(id)
	t.attempts = append(t.attempts, a)
	t.byID[id] = a

	if len(t.recovered) > 0 {
		t.nextAttemptNumber = t.recovered[0].ID.Seq
		t.recovered = t.recovered[1:]
	} else {
		t.nextAttemptNumber++
	}
	for {
		if _, used := t.byID[AttemptID{Task: t.id, Seq: t.nextAttemptNumber}]; !used {
			break
		}
		t.nextAttemptNumber++
	}

	t.numberUncompletedAttempts++
	t.log.Debug("scheduling attempt", map[string]interface{}{
		"attempt":          id.String(),
		"prefer_non_local": t.failedAttempts > 0,
	})
	t.post(ScheduleAttempt{AttemptID: id, PreferNonLocal: t.failedAttempts > 0})
}

func (t *Task) sendCompletion(a Attempt, status CompletionStatus) {
	id := a.ID()
	if t.needsWait && status == CompletionSucceeded && t.outputConsumableSent &&
		t.outputConsumableAttempt != nil && *t.outputConsumableAttempt == id {
		return
	}
	addr := a.NodeHTTPAddress()
	if addr == "" {
		return
	}

	scheme := "http://"
	if t.encryptedShuffle {
		scheme = "https://"
	}
	host := strings.Split(addr, ":")[0]

	var runTime int64
	launch, finish := a.LaunchTime(), a.FinishTime()
	if !launch.IsZero() && !finish.IsZero() {
		runTime = finish.Sub(launch).Milliseconds()
	}

	t.post(AttemptCompleted{
		TaskID: t.id,
		Completion: AttemptCompletion{
			EventID:             -1,
			AttemptID:           id,
			Status:              status,
			OutputServerAddress: scheme + host + ":" + strconv.Itoa(a.ShufflePort()),
			AttemptRunTime:      runTime,
		},
	})
}

func (t *Task) postFailed(failed *AttemptID, diagnostics string, final TaskState) {
	t.post(HistoryEvent{
		Kind: HistoryTaskFailed,
		Failed: &TaskFailed{
			TaskID:        t.id,
			FinishTime:    t.attemptFinishTime(failed),
			TaskType:      t.id.Type,
			Diagnostics:   diagnostics,
			FinalState:    final,
			FailedAttempt: failed,
		},
	})
}

func (t *Task) killAttempt(id AttemptID, reason string) {
	t.log.AttemptKillRequested(id.String(), reason)
	t.post(KillAttempt{AttemptID: id, Reason: reason})
}

// releaseClaims drops the commit and output grants held by id.
func (t *Task) releaseClaims(id AttemptID) {
	if t.commitAttempt != nil && *t.commitAttempt == id {
		t.commitAttempt = nil
	}
	if t.outputConsumableAttempt != nil && *t.outputConsumableAttempt == id {
		t.outputConsumableAttempt = nil
		t.outputConsumableSent = false
	}
}

func (t *Task) isSuccessful(id AttemptID) bool {
	return t.successfulAttempt != nil && *t.successfulAttempt == id
}

func (t *Task) unSucceed() {
	t.commitAttempt = nil
	t.successfulAttempt = nil
}

// rewait puts a reopened task back into the waiting gauge.
func (t *Task) rewait() {
	t.metrics.WaitingTask(t.id.Type)
	t.waiting = true
}

// finished settles metrics for a final state and returns it.
func (t *Task) finished(final TaskState) TaskState {
	switch {
	case t.running:
		t.metrics.EndRunningTask(t.id.Type)
		t.running = false
	case t.waiting:
		t.metrics.EndWaitingTask(t.id.Type)
		t.waiting = false
	}
	t.metrics.FinishedTask(t.id.Type, final)
	return final
}

func (t *Task) post(msg router.Message) {
	if err := t.poster.Post(msg); err != nil {
		t.log.Warn("post failed", map[string]interface{}{
			"task":        t.id.String(),
			"destination": string(msg.Destination()),
			"error":       err.Error(),
		})
		t.postErr = multierr.Append(t.postErr, err)
	}
}

func (t *Task) takePostErr() error {
	err := t.postErr
	t.postErr = nil
	return err
}
