package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raulk/clock"

	"github.com/vinayprograms/taskkit/bus"
)

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// ID is the string form of the identity being reported.
	ID string

	// Interval between pings.
	// Default: 5 seconds
	Interval time.Duration

	// Clock is the time source. Default: wall clock.
	Clock clock.Clock
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil {
		return ErrInvalidConfig
	}
	if c.ID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: 5 * time.Second,
	}
}

// BusSender runs on the worker side. It pings periodically for one
// identity and publishes progress on demand.
type BusSender struct {
	bus      bus.MessageBus
	id       string
	session  string
	interval time.Duration
	clock    clock.Clock

	sent atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusSender creates a new heartbeat sender.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSenderConfig().Interval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &BusSender{
		bus:      cfg.Bus,
		id:       cfg.ID,
		session:  uuid.NewString(),
		interval: cfg.Interval,
		clock:    cfg.Clock,
	}, nil
}

// Start sends a first ping immediately and then one per interval.
func (s *BusSender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	_ = s.Ping()
	ticker := s.clock.Ticker(s.interval)
	go s.run(ctx, ticker)
	return nil
}

func (s *BusSender) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Ping()
		}
	}
}

// Ping publishes a ping now.
func (s *BusSender) Ping() error {
	return s.publish(KindPing)
}

// Progress publishes a progress report now. Progress also counts as a ping
// on the receiving side.
func (s *BusSender) Progress() error {
	return s.publish(KindProgress)
}

func (s *BusSender) publish(kind Kind) error {
	msg := &Message{
		ID:        s.id,
		Kind:      kind,
		Session:   s.session,
		Timestamp: s.clock.Now(),
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := s.bus.Publish(msg.Subject(), data); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// Sent returns the number of messages published.
func (s *BusSender) Sent() uint64 {
	return s.sent.Load()
}

// Session returns the unique id of this sender instance.
func (s *BusSender) Session() string {
	return s.session
}

// ID returns the reported identity.
func (s *BusSender) ID() string {
	return s.id
}

// Stop stops sending heartbeats.
func (s *BusSender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}
