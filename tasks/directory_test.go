package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	tkerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
)

// sink records what a router delivers to one destination.
type sink struct {
	mu   sync.Mutex
	msgs []router.Message
}

func (s *sink) Handle(msg router.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sink) all() []router.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]router.Message(nil), s.msgs...)
}

type wiring struct {
	router    *router.Router
	dir       *Directory
	job       *sink
	history   *sink
	scheduler *sink
	attempts  *sink
}

func newWiring(t *testing.T) *wiring {
	t.Helper()
	w := &wiring{
		router:    router.New(router.Config{Logger: logging.Nop()}),
		dir:       NewDirectory(logging.Nop()),
		job:       &sink{},
		history:   &sink{},
		scheduler: &sink{},
		attempts:  &sink{},
	}
	require.NoError(t, w.router.Register(DestinationTask, w.dir))
	require.NoError(t, w.router.Register(DestinationJob, w.job))
	require.NoError(t, w.router.Register(DestinationHistory, w.history))
	require.NoError(t, w.router.Register(DestinationScheduler, w.scheduler))
	require.NoError(t, w.router.Register(DestinationAttempt, w.attempts))
	require.NoError(t, w.router.Start(context.Background()))
	t.Cleanup(func() { _ = w.router.Stop(context.Background()) })
	return w
}

func (w *wiring) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.router.WaitIdle(ctx))
}

func (w *wiring) addTask(t *testing.T, id TaskID, maxAttempts int, attempts map[AttemptID]*fakeAttempt) *Task {
	t.Helper()
	var mu sync.Mutex
	task, err := New(Config{
		ID:          id,
		MaxAttempts: maxAttempts,
		NewAttempt: func(aid AttemptID) Attempt {
			a := &fakeAttempt{id: aid, state: AttemptNew}
			mu.Lock()
			attempts[aid] = a
			mu.Unlock()
			return a
		},
		Poster: w.router,
		Logger: logging.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.dir.Add(task))
	return task
}

// --- Unit Tests ---

func TestDirectory_AddGetRemove(t *testing.T) {
	dir := NewDirectory(logging.Nop())
	mk := func(p int) *Task {
		id := TaskID{Job: testJob(), Type: TypeMap, Partition: p}
		task, err := New(Config{
			ID:          id,
			MaxAttempts: 1,
			NewAttempt:  func(aid AttemptID) Attempt { return &fakeAttempt{id: aid} },
			Poster:      &capture{},
			Logger:      logging.Nop(),
		})
		require.NoError(t, err)
		return task
	}

	t2, t1 := mk(2), mk(1)
	require.NoError(t, dir.Add(t2))
	require.NoError(t, dir.Add(t1))
	require.ErrorIs(t, dir.Add(mk(1)), ErrDuplicateTask)
	require.Equal(t, 2, dir.Len())

	got, ok := dir.Get(t1.ID())
	require.True(t, ok)
	require.Same(t, t1, got)
	require.Equal(t, []*Task{t1, t2}, dir.Tasks())

	dir.Remove(t1.ID())
	dir.Remove(t1.ID())
	_, ok = dir.Get(t1.ID())
	require.False(t, ok)
	require.Equal(t, 1, dir.Len())
}

func TestDirectory_HandleErrors(t *testing.T) {
	dir := NewDirectory(logging.Nop())

	err := dir.Handle(NewEvent(EventSchedule, testTaskID(TypeMap)))
	require.True(t, tkerrors.Is(err, tkerrors.ErrCodeNotFound))

	err = dir.Handle(KillAttempt{})
	require.Error(t, err)
}

// --- Integration Tests ---

func TestDirectory_ThroughRouter(t *testing.T) {
	w := newWiring(t)
	attempts := make(map[AttemptID]*fakeAttempt)
	id := testTaskID(TypeMap)
	task := w.addTask(t, id, 2, attempts)

	require.NoError(t, w.router.Post(NewEvent(EventSchedule, id)))
	w.idle(t)
	require.Equal(t, StateScheduled, task.State())

	a0 := AttemptID{Task: id, Seq: 0}
	require.Equal(t, []router.Message{ScheduleAttempt{AttemptID: a0}}, w.scheduler.all())
	require.Len(t, w.history.all(), 1)

	require.NoError(t, w.router.Post(NewAttemptEvent(EventAttemptLaunched, a0)))
	attempts[a0].set(func(a *fakeAttempt) { a.state = AttemptSucceeded })
	require.NoError(t, w.router.Post(NewAttemptEvent(EventAttemptSucceeded, a0)))
	w.idle(t)

	require.Equal(t, StateSucceeded, task.State())
	require.Equal(t, []router.Message{TaskCompleted{TaskID: id, State: StateSucceeded}}, w.job.all())
}

func TestAttemptMonitor_FailsSilentAttempt(t *testing.T) {
	w := newWiring(t)
	attempts := make(map[AttemptID]*fakeAttempt)
	id := testTaskID(TypeReduce)
	task := w.addTask(t, id, 2, attempts)

	mock := clock.NewMock()
	mon, err := NewAttemptMonitor(10*time.Second, time.Second, w.router, logging.Nop(), heartbeat.WithClock(mock))
	require.NoError(t, err)

	require.NoError(t, w.router.Post(NewEvent(EventSchedule, id)))
	w.idle(t)
	a0 := AttemptID{Task: id, Seq: 0}
	attempts[a0].set(func(a *fakeAttempt) { a.state = AttemptRunning })
	require.NoError(t, w.router.Post(NewAttemptEvent(EventAttemptLaunched, a0)))
	mon.Register(a0)

	mock.Add(5 * time.Second)
	mon.Pinged(a0)
	mock.Add(9 * time.Second)
	require.Zero(t, mon.Check())

	mock.Add(2 * time.Second)
	attempts[a0].set(func(a *fakeAttempt) { a.state = AttemptFailed })
	require.Equal(t, 1, mon.Check())
	require.False(t, mon.IsMonitored(a0))
	w.idle(t)

	require.Equal(t, StateRunning, task.State())
	require.Equal(t, 1, task.Counts().Failed)
	require.Len(t, task.Attempts(), 2, "a replacement was scheduled")

	kills := w.attempts.all()
	require.Len(t, kills, 1)
	kill := kills[0].(KillAttempt)
	require.Equal(t, a0, kill.AttemptID)
	require.Equal(t, "AttemptID:"+a0.String()+" Timed out after 10 secs", kill.Reason)
	require.True(t, kill.Timeout)
}
