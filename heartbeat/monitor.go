package heartbeat

import (
	"context"
	"fmt"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/raulk/clock"

	"github.com/vinayprograms/taskkit/logging"
)

// Monitor tracks liveness records for identities of type ID and evicts the
// ones that fall silent. Tasks, attempts and containers each get their own
// Monitor instance with their own Policy.
type Monitor[ID comparable] struct {
	name   string
	policy Policy[ID]
	clock  clock.Clock
	log    *logging.Logger

	running *xsync.MapOf[ID, *Record]

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Monitor.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *logging.Logger
}

// WithClock sets the time source. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewMonitor creates a monitor. name identifies it in logs.
func NewMonitor[ID comparable](name string, policy Policy[ID], opts ...Option) (*Monitor[ID], error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.CheckInterval <= 0 {
		policy.CheckInterval = DefaultCheckInterval
	}
	if policy.TimedOut == nil {
		policy.TimedOut = PingTimedOut
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New()
	}

	return &Monitor[ID]{
		name:    name,
		policy:  policy,
		clock:   o.clock,
		log:     o.logger.WithComponent("heartbeat"),
		running: xsync.NewTypedMapOf[ID, *Record](hashID[ID]),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func hashID[ID comparable](seed maphash.Seed, id ID) uint64 {
	return maphash.Comparable(seed, id)
}

// Register starts monitoring id. Registering an id again resets its clock.
func (m *Monitor[ID]) Register(id ID) {
	m.running.Store(id, newRecord(m.clock.Now()))
}

// Unregister stops monitoring id. Unknown ids are ignored.
func (m *Monitor[ID]) Unregister(id ID) {
	m.running.Delete(id)
}

// Progressing records progress for id. It never registers an id that is not
// already monitored.
func (m *Monitor[ID]) Progressing(id ID) {
	if rec, ok := m.running.Load(id); ok {
		rec.SetLastProgress(m.clock.Now())
	}
}

// Pinged records a ping for id if it is monitored.
func (m *Monitor[ID]) Pinged(id ID) {
	if rec, ok := m.running.Load(id); ok {
		rec.SetLastPing(m.clock.Now())
	}
}

// IsMonitored reports whether id is currently registered.
func (m *Monitor[ID]) IsMonitored(id ID) bool {
	_, ok := m.running.Load(id)
	return ok
}

// Len returns the number of monitored identities.
func (m *Monitor[ID]) Len() int {
	return m.running.Size()
}

// Timeout returns the configured silence threshold.
func (m *Monitor[ID]) Timeout() time.Duration {
	return m.policy.Timeout
}

// Check runs one scan and returns the number of evicted identities. The
// loop calls it every CheckInterval; tests call it directly.
func (m *Monitor[ID]) Check() int {
	if m.policy.Timeout <= 0 {
		return 0
	}
	now := m.clock.Now()

	type candidate struct {
		id  ID
		rec *Record
	}
	var candidates []candidate
	m.running.Range(func(id ID, rec *Record) bool {
		if m.policy.TimedOut(rec.Snapshot(), m.policy.Timeout, now) {
			candidates = append(candidates, candidate{id: id, rec: rec})
		}
		return true
	})

	evicted := 0
	for _, c := range candidates {
		if m.stopped.Load() {
			break
		}
		if !m.evict(c.id, c.rec, now) {
			continue
		}
		evicted++
		m.log.LivenessTimeout(m.name, fmt.Sprint(c.id), now.Sub(c.rec.Snapshot().LastPing))
		m.notify(c.id)
	}
	return evicted
}

// evict removes id only while it still maps to rec and rec is still expired.
// A concurrent Register installs a new record and wins.
func (m *Monitor[ID]) evict(id ID, rec *Record, now time.Time) bool {
	removed := false
	m.running.Compute(id, func(cur *Record, loaded bool) (*Record, bool) {
		if !loaded {
			return nil, true
		}
		if cur != rec || !m.policy.TimedOut(cur.Snapshot(), m.policy.Timeout, now) {
			return cur, false
		}
		removed = true
		return nil, true
	})
	return removed
}

func (m *Monitor[ID]) notify(id ID) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("timeout handler panicked", map[string]interface{}{
				"monitor": m.name,
				"id":      fmt.Sprint(id),
				"panic":   fmt.Sprint(r),
			})
		}
	}()
	m.policy.OnTimeout(id)
}

// Start launches the check loop. It stops when Stop is called or ctx is
// done.
func (m *Monitor[ID]) Start(ctx context.Context) error {
	if m.started.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	go m.run(ctx)
	return nil
}

func (m *Monitor[ID]) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := m.clock.Ticker(m.policy.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopped.Store(true)
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.stopped.Load() {
				return
			}
			m.Check()
		}
	}
}

// Stop halts the check loop and waits for it to exit. Handlers already
// running are not interrupted. Monitoring calls remain valid afterwards.
func (m *Monitor[ID]) Stop() error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
	})
	<-m.doneCh
	return nil
}
