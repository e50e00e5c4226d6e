package heartbeat

import (
	"sync"
	"time"
)

// Record holds the last-seen timestamps for one monitored identity.
// Setting progress also advances the ping; a ping alone leaves progress
// untouched.
type Record struct {
	mu           sync.Mutex
	lastProgress time.Time
	lastPing     time.Time
}

func newRecord(now time.Time) *Record {
	r := &Record{}
	r.SetLastProgress(now)
	return r
}

// SetLastProgress records progress at t.
func (r *Record) SetLastProgress(t time.Time) {
	r.mu.Lock()
	r.lastProgress = t
	r.lastPing = t
	r.mu.Unlock()
}

// SetLastPing records a ping at t.
func (r *Record) SetLastPing(t time.Time) {
	r.mu.Lock()
	r.lastPing = t
	r.mu.Unlock()
}

// Snapshot returns both timestamps read under one lock.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		LastProgress: r.lastProgress,
		LastPing:     r.lastPing,
	}
}

// Snapshot is a consistent copy of a Record.
type Snapshot struct {
	LastProgress time.Time
	LastPing     time.Time
}
