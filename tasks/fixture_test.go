package tasks

import (
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
)

// fakeAttempt is a settable Attempt.
type fakeAttempt struct {
	mu       sync.Mutex
	id       AttemptID
	state    AttemptState
	progress float64
	counters Counters
	diags    []string
	launch   time.Time
	finish   time.Time
	node     string
	port     int
}

func (a *fakeAttempt) ID() AttemptID { return a.id }

func (a *fakeAttempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *fakeAttempt) Progress() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

func (a *fakeAttempt) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

func (a *fakeAttempt) Diagnostics() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diags
}

func (a *fakeAttempt) LaunchTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.launch
}

func (a *fakeAttempt) FinishTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finish
}

func (a *fakeAttempt) NodeHTTPAddress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.node
}

func (a *fakeAttempt) ShufflePort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port
}

func (a *fakeAttempt) IsFinished() bool {
	switch a.State() {
	case AttemptSucceeded, AttemptFailed, AttemptKilled:
		return true
	}
	return false
}

func (a *fakeAttempt) set(fn func(a *fakeAttempt)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

// capture is a Poster that records every message.
type capture struct {
	mu   sync.Mutex
	msgs []router.Message
	err  error
}

func (c *capture) Post(msg router.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

// take returns the recorded messages and clears them.
func (c *capture) take() []router.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.msgs
	c.msgs = nil
	return out
}

func only[T router.Message](msgs []router.Message) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type countingMetrics struct {
	mu       sync.Mutex
	waiting  int
	running  int
	launched int
	finished map[TaskState]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{finished: make(map[TaskState]int)}
}

func (m *countingMetrics) WaitingTask(TaskType)    { m.add(&m.waiting, 1) }
func (m *countingMetrics) EndWaitingTask(TaskType) { m.add(&m.waiting, -1) }
func (m *countingMetrics) LaunchedTask(TaskType) {
	m.add(&m.waiting, -1)
	m.add(&m.launched, 1)
}
func (m *countingMetrics) RunningTask(TaskType)    { m.add(&m.running, 1) }
func (m *countingMetrics) EndRunningTask(TaskType) { m.add(&m.running, -1) }

func (m *countingMetrics) FinishedTask(_ TaskType, state TaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[state]++
}

func (m *countingMetrics) add(v *int, d int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*v += d
}

func testJob() JobID {
	return JobID{AppID: "1700000000000", Seq: 1}
}

func testTaskID(typ TaskType) TaskID {
	return TaskID{Job: testJob(), Type: typ, Partition: 3}
}

type fixture struct {
	t        *testing.T
	task     *Task
	poster   *capture
	clock    *clock.Mock
	metrics  *countingMetrics
	attempts []*fakeAttempt
}

func newFixture(t *testing.T, typ TaskType, maxAttempts int, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		poster:  &capture{},
		clock:   clock.NewMock(),
		metrics: newCountingMetrics(),
	}
	f.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := Config{
		ID:          testTaskID(typ),
		MaxAttempts: maxAttempts,
		NewAttempt: func(id AttemptID) Attempt {
			a := &fakeAttempt{
				id:    id,
				state: AttemptNew,
				node:  "node1.example.com:8042",
				port:  13562,
			}
			f.attempts = append(f.attempts, a)
			return a
		},
		Poster:  f.poster,
		Metrics: f.metrics,
		Clock:   f.clock,
		Logger:  logging.Nop(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	task, err := New(cfg)
	require.NoError(t, err)
	f.task = task
	return f
}

// attempt returns the n-th attempt the task created.
func (f *fixture) attempt(n int) *fakeAttempt {
	f.t.Helper()
	require.Greater(f.t, len(f.attempts), n, "attempt %d was never created", n)
	return f.attempts[n]
}

func (f *fixture) send(typ EventType) error {
	return f.task.Handle(NewEvent(typ, f.task.ID()))
}

func (f *fixture) sendAttempt(typ EventType, a *fakeAttempt) error {
	return f.task.Handle(NewAttemptEvent(typ, a.id))
}

// launch marks a running and reports it.
func (f *fixture) launch(a *fakeAttempt) {
	f.t.Helper()
	a.set(func(a *fakeAttempt) {
		a.state = AttemptRunning
		a.launch = f.clock.Now()
	})
	require.NoError(f.t, f.sendAttempt(EventAttemptLaunched, a))
}

// end moves a into a final state and reports the matching event.
func (f *fixture) end(a *fakeAttempt, state AttemptState) error {
	f.clock.Add(time.Second)
	a.set(func(a *fakeAttempt) {
		a.state = state
		a.finish = f.clock.Now()
	})
	switch state {
	case AttemptSucceeded:
		return f.sendAttempt(EventAttemptSucceeded, a)
	case AttemptKilled:
		return f.sendAttempt(EventAttemptKilled, a)
	default:
		return f.sendAttempt(EventAttemptFailed, a)
	}
}

// running schedules the task and launches its first attempt.
func (f *fixture) running() *fakeAttempt {
	f.t.Helper()
	require.NoError(f.t, f.send(EventSchedule))
	a := f.attempt(0)
	f.launch(a)
	require.Equal(f.t, StateRunning, f.task.State())
	f.poster.take()
	return a
}
