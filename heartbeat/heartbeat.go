package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidMessage = errors.New("invalid heartbeat message")
)

const (
	// DefaultTimeout is the silence after which an identity is evicted.
	DefaultTimeout = 5 * time.Minute

	// DefaultCheckInterval is the period of the check loop.
	DefaultCheckInterval = 30 * time.Second
)

// Policy configures a Monitor. It replaces subclass hooks with plain values:
// the timeout, the check period, the detection predicate and the action.
type Policy[ID comparable] struct {
	// Timeout is the allowed silence. A value <= 0 disables detection.
	Timeout time.Duration

	// CheckInterval is the check loop period.
	// Default: 30 seconds
	CheckInterval time.Duration

	// TimedOut decides whether a record has expired at now.
	// Default: PingTimedOut
	TimedOut func(s Snapshot, timeout time.Duration, now time.Time) bool

	// OnTimeout is invoked once per eviction, after the id has been removed.
	OnTimeout func(id ID)
}

// Validate checks the policy.
func (p *Policy[ID]) Validate() error {
	if p.OnTimeout == nil {
		return fmt.Errorf("%w: OnTimeout is required", ErrInvalidConfig)
	}
	return nil
}

// DefaultPolicy returns a policy with the default timeout and interval.
func DefaultPolicy[ID comparable](onTimeout func(ID)) Policy[ID] {
	return Policy[ID]{
		Timeout:       DefaultTimeout,
		CheckInterval: DefaultCheckInterval,
		TimedOut:      PingTimedOut,
		OnTimeout:     onTimeout,
	}
}

// PingTimedOut reports whether the last ping is older than timeout.
func PingTimedOut(s Snapshot, timeout time.Duration, now time.Time) bool {
	return timeout > 0 && now.After(s.LastPing.Add(timeout))
}

// ProgressTimedOut reports whether the last progress report is older than
// timeout. Use it for identities that ping routinely but may stall.
func ProgressTimedOut(s Snapshot, timeout time.Duration, now time.Time) bool {
	return timeout > 0 && now.After(s.LastProgress.Add(timeout))
}

// SubjectPrefix is the subject prefix for heartbeat messages.
const SubjectPrefix = "heartbeat."

// Kind distinguishes pings from progress reports on the wire.
type Kind string

const (
	KindPing     Kind = "ping"
	KindProgress Kind = "progress"
)

// Message is the wire form of a liveness report.
type Message struct {
	// ID is the string form of the reporting identity.
	ID string `json:"id"`

	// Kind is ping or progress.
	Kind Kind `json:"kind"`

	// Session identifies the sender instance that produced the message.
	Session string `json:"session,omitempty"`

	// Timestamp when the message was generated, sender clock.
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the subject this message is published on.
func (m *Message) Subject() string {
	return SubjectPrefix + string(m.Kind)
}

// Marshal serializes a message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal deserializes a message from JSON.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.Kind != KindPing && m.Kind != KindProgress {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return &m, nil
}
