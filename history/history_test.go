package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
	"github.com/vinayprograms/taskkit/state"
	"github.com/vinayprograms/taskkit/tasks"
)

var (
	job  = tasks.JobID{AppID: "1700000000000", Seq: 2}
	base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func mapID(p int) tasks.TaskID {
	return tasks.TaskID{Job: job, Type: tasks.TypeMap, Partition: p}
}

func newTestStore(t *testing.T) (*Store, *state.MemoryStore) {
	t.Helper()
	mem := state.NewMemoryStore()
	s, err := New(Config{State: mem, Logger: logging.Nop()})
	require.NoError(t, err)
	return s, mem
}

func started(id tasks.TaskID) tasks.HistoryEvent {
	return tasks.HistoryEvent{
		Kind: tasks.HistoryTaskStarted,
		Started: &tasks.TaskStarted{
			TaskID:     id,
			LaunchTime: base,
			TaskType:   id.Type,
		},
	}
}

func finished(id tasks.TaskID, seq int) tasks.HistoryEvent {
	return tasks.HistoryEvent{
		Kind: tasks.HistoryTaskFinished,
		Finished: &tasks.TaskFinished{
			TaskID:            id,
			SuccessfulAttempt: tasks.AttemptID{Task: id, Seq: seq},
			FinishTime:        base.Add(time.Hour),
			TaskType:          id.Type,
			FinalState:        tasks.StateSucceeded,
			Counters:          tasks.Counters{"records": 12},
		},
	}
}

// --- Unit Tests ---

func TestNew_RequiresState(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRecord_Keys(t *testing.T) {
	s, mem := newTestStore(t)
	id := mapID(1)

	require.NoError(t, s.Record(started(id)))
	require.NoError(t, s.Record(finished(id, 0)))
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: id, Seq: 0}, base))

	keys, err := mem.Keys("*")
	require.NoError(t, err)
	prefix := "history.job_1700000000000_0002.task_1700000000000_0002_m_000001."
	require.Equal(t, []string{
		prefix + "attempt.0",
		prefix + "finished",
		prefix + "started",
	}, keys)
}

func TestRecord_Empty(t *testing.T) {
	s, _ := newTestStore(t)
	require.ErrorIs(t, s.Record(tasks.HistoryEvent{Kind: tasks.HistoryTaskFailed}), ErrInvalidEvent)
	require.Error(t, s.Handle(tasks.KillAttempt{}))
}

func TestTask(t *testing.T) {
	s, _ := newTestStore(t)
	id := mapID(1)

	_, err := s.Task(id)
	require.ErrorIs(t, err, state.ErrNotFound)

	require.NoError(t, s.Record(started(id)))
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: id, Seq: 1}, base.Add(time.Minute)))
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: id, Seq: 0}, base))
	failedAttempt := tasks.AttemptID{Task: id, Seq: 1}
	require.NoError(t, s.Record(tasks.HistoryEvent{
		Kind: tasks.HistoryTaskFailed,
		Failed: &tasks.TaskFailed{
			TaskID:        id,
			FinishTime:    base.Add(time.Hour),
			TaskType:      id.Type,
			Diagnostics:   ", oom",
			FinalState:    tasks.StateFailed,
			FailedAttempt: &failedAttempt,
		},
	}))

	r, err := s.Task(id)
	require.NoError(t, err)
	require.False(t, r.Succeeded())
	require.Equal(t, base, r.Started.LaunchTime)
	require.Equal(t, ", oom", r.Failed.Diagnostics)
	require.Equal(t, failedAttempt, *r.Failed.FailedAttempt)
	require.Len(t, r.Attempts, 2)
	require.Equal(t, 0, r.Attempts[0].ID.Seq)
	require.Equal(t, 1, r.Attempts[1].ID.Seq)
}

func TestRecord_LatestTerminalRecordWins(t *testing.T) {
	s, mem := newTestStore(t)
	id := mapID(4)
	lost := tasks.AttemptID{Task: id, Seq: 0}
	failedEv := tasks.HistoryEvent{
		Kind: tasks.HistoryTaskFailed,
		Failed: &tasks.TaskFailed{
			TaskID:        id,
			FinishTime:    base.Add(2 * time.Hour),
			TaskType:      id.Type,
			Diagnostics:   ", output lost",
			FinalState:    tasks.StateFailed,
			FailedAttempt: &lost,
		},
	}

	require.NoError(t, s.Record(started(id)))
	require.NoError(t, s.RecordAttemptStarted(lost, base))
	require.NoError(t, s.Record(finished(id, 0)))
	require.NoError(t, s.Record(failedEv))

	r, err := s.Task(id)
	require.NoError(t, err)
	require.False(t, r.Succeeded())
	require.Nil(t, r.Finished)
	require.NotNil(t, r.Failed)
	_, err = mem.Get(taskKey(id, recFinished))
	require.ErrorIs(t, err, state.ErrNotFound)

	got, err := s.CompletedTasks(job)
	require.NoError(t, err)
	require.NotContains(t, got, id)

	// A later success replaces the failure again.
	require.NoError(t, s.Record(finished(id, 1)))
	r, err = s.Task(id)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	require.Nil(t, r.Failed)
}

func TestCompletedTasks_SortedByStartTime(t *testing.T) {
	s, _ := newTestStore(t)
	done, failed, other := mapID(1), mapID(2), tasks.TaskID{Job: tasks.JobID{AppID: "1700000000000", Seq: 3}, Type: tasks.TypeReduce}

	for _, id := range []tasks.TaskID{done, failed, other} {
		require.NoError(t, s.Record(started(id)))
	}
	// Attempt numbers out of start order.
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: done, Seq: 10}, base.Add(2*time.Minute)))
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: done, Seq: 2}, base.Add(3*time.Minute)))
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: done, Seq: 3}, base.Add(time.Minute)))
	require.NoError(t, s.Record(finished(done, 2)))
	require.NoError(t, s.RecordAttemptStarted(tasks.AttemptID{Task: failed, Seq: 0}, base))
	require.NoError(t, s.Record(finished(other, 0)))

	ids, err := s.Tasks(job)
	require.NoError(t, err)
	require.Equal(t, []tasks.TaskID{done, failed}, ids)

	got, err := s.CompletedTasks(job)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []tasks.RecoveredAttempt{
		{ID: tasks.AttemptID{Task: done, Seq: 3}, StartTime: base.Add(time.Minute)},
		{ID: tasks.AttemptID{Task: done, Seq: 10}, StartTime: base.Add(2 * time.Minute)},
		{ID: tasks.AttemptID{Task: done, Seq: 2}, StartTime: base.Add(3 * time.Minute)},
	}, got[done])
}

// --- Integration Tests ---

func TestStore_ThroughRouterFeedsRecovery(t *testing.T) {
	s, _ := newTestStore(t)
	r := router.New(router.Config{Logger: logging.Nop()})
	require.NoError(t, r.Register(tasks.DestinationHistory, s))
	for _, dest := range []router.Destination{tasks.DestinationJob, tasks.DestinationScheduler, tasks.DestinationAttempt} {
		require.NoError(t, r.Register(dest, router.HandlerFunc(func(router.Message) error { return nil })))
	}
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	id := mapID(4)
	attempts := make(map[tasks.AttemptID]*attempt)
	newTask := func(recovered []tasks.RecoveredAttempt, startCount int) *tasks.Task {
		task, err := tasks.New(tasks.Config{
			ID:          id,
			MaxAttempts: 2,
			StartCount:  startCount,
			Recovered:   recovered,
			NewAttempt: func(aid tasks.AttemptID) tasks.Attempt {
				a := &attempt{id: aid}
				attempts[aid] = a
				return a
			},
			Poster: r,
			Logger: logging.Nop(),
		})
		require.NoError(t, err)
		return task
	}

	// First generation: attempt 0 fails, attempt 1 succeeds.
	task := newTask(nil, 1)
	require.NoError(t, task.Handle(tasks.NewEvent(tasks.EventSchedule, id)))
	a0 := tasks.AttemptID{Task: id, Seq: 0}
	require.NoError(t, s.RecordAttemptStarted(a0, base))
	require.NoError(t, task.Handle(tasks.NewAttemptEvent(tasks.EventAttemptLaunched, a0)))
	attempts[a0].state = tasks.AttemptFailed
	require.NoError(t, task.Handle(tasks.NewAttemptEvent(tasks.EventAttemptFailed, a0)))

	a1 := tasks.AttemptID{Task: id, Seq: 1}
	require.NoError(t, s.RecordAttemptStarted(a1, base.Add(time.Minute)))
	attempts[a1].state = tasks.AttemptSucceeded
	require.NoError(t, task.Handle(tasks.NewAttemptEvent(tasks.EventAttemptSucceeded, a1)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.WaitIdle(ctx))

	rec, err := s.Task(id)
	require.NoError(t, err)
	require.True(t, rec.Succeeded())
	require.Equal(t, a1, rec.Finished.SuccessfulAttempt)

	// Second generation reuses the recorded numbers in start order.
	completed, err := s.CompletedTasks(job)
	require.NoError(t, err)
	task = newTask(completed[id], 2)
	require.NoError(t, task.Handle(tasks.NewEvent(tasks.EventSchedule, id)))
	require.Equal(t, a0, task.Attempts()[0].ID())
}

// attempt is a minimal tasks.Attempt. Tests only touch it from the test
// goroutine.
type attempt struct {
	id    tasks.AttemptID
	state tasks.AttemptState
}

func (a *attempt) ID() tasks.AttemptID       { return a.id }
func (a *attempt) State() tasks.AttemptState { return a.state }
func (a *attempt) Progress() float64         { return 0 }
func (a *attempt) Counters() tasks.Counters  { return nil }
func (a *attempt) Diagnostics() []string     { return nil }
func (a *attempt) LaunchTime() time.Time     { return time.Time{} }
func (a *attempt) FinishTime() time.Time     { return time.Time{} }
func (a *attempt) NodeHTTPAddress() string   { return "" }
func (a *attempt) ShufflePort() int          { return 0 }
func (a *attempt) IsFinished() bool          { return a.state == tasks.AttemptSucceeded || a.state == tasks.AttemptFailed }
