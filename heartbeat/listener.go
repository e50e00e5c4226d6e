package heartbeat

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vinayprograms/taskkit/bus"
	"github.com/vinayprograms/taskkit/logging"
)

// Liveness is the part of Monitor a transport feeds.
type Liveness[ID comparable] interface {
	Pinged(id ID)
	Progressing(id ID)
}

// ListenerConfig configures a Listener.
type ListenerConfig[ID comparable] struct {
	// Bus is the message bus heartbeats arrive on.
	Bus bus.MessageBus

	// Target receives the decoded reports, normally a *Monitor[ID].
	Target Liveness[ID]

	// Parse converts the wire id back into an ID.
	Parse func(string) (ID, error)

	// Pattern is the subscription pattern.
	// Default: "heartbeat.*"
	Pattern string

	// Logger for rejected messages. Default: logging.New()
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *ListenerConfig[ID]) Validate() error {
	if c.Bus == nil || c.Target == nil || c.Parse == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Listener decodes heartbeat messages from a bus and forwards them to a
// Monitor. Reports for ids the monitor does not know are dropped there.
type Listener[ID comparable] struct {
	cfg ListenerConfig[ID]
	log *logging.Logger

	received atomic.Uint64
	rejected atomic.Uint64

	running atomic.Bool
	sub     bus.Subscription
	doneCh  chan struct{}
}

// NewListener creates a listener.
func NewListener[ID comparable](cfg ListenerConfig[ID]) (*Listener[ID], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Pattern == "" {
		cfg.Pattern = SubjectPrefix + "*"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &Listener[ID]{
		cfg: cfg,
		log: cfg.Logger.WithComponent("heartbeat-listener"),
	}, nil
}

// Start subscribes and begins forwarding.
func (l *Listener[ID]) Start(ctx context.Context) error {
	if l.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sub, err := l.cfg.Bus.Subscribe(l.cfg.Pattern)
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("heartbeat listener subscribe: %w", err)
	}
	l.sub = sub
	l.doneCh = make(chan struct{})

	go l.run(ctx)
	return nil
}

func (l *Listener[ID]) run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-l.sub.Messages():
			if !ok {
				return
			}
			l.handle(msg)
		}
	}
}

func (l *Listener[ID]) handle(msg *bus.Message) {
	hb, err := Unmarshal(msg.Data)
	if err != nil {
		l.rejected.Add(1)
		l.log.Debug("rejected heartbeat", map[string]interface{}{
			"subject": msg.Subject,
			"error":   err.Error(),
		})
		return
	}
	id, err := l.cfg.Parse(hb.ID)
	if err != nil {
		l.rejected.Add(1)
		l.log.Debug("unparseable heartbeat id", map[string]interface{}{
			"id":    hb.ID,
			"error": err.Error(),
		})
		return
	}

	l.received.Add(1)
	switch hb.Kind {
	case KindProgress:
		l.cfg.Target.Progressing(id)
	default:
		l.cfg.Target.Pinged(id)
	}
}

// Received returns the number of forwarded reports.
func (l *Listener[ID]) Received() uint64 {
	return l.received.Load()
}

// Rejected returns the number of messages that could not be decoded.
func (l *Listener[ID]) Rejected() uint64 {
	return l.rejected.Load()
}

// Stop unsubscribes and waits for the forwarding goroutine.
func (l *Listener[ID]) Stop() error {
	if !l.running.Swap(false) {
		return ErrNotStarted
	}
	err := l.sub.Unsubscribe()
	<-l.doneCh
	return err
}
