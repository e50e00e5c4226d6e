package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskkit/bus"
)

// Envelope is the wire form of an exported message.
type Envelope struct {
	ID          string          `json:"id"`
	Destination Destination     `json:"destination"`
	Type        string          `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Subject returns the subject an envelope is published on.
func Subject(prefix string, dest Destination) string {
	return prefix + "." + string(dest)
}

// ForwarderConfig configures a BusForwarder.
type ForwarderConfig struct {
	// Bus receives the exported messages.
	Bus bus.MessageBus

	// Prefix is the subject prefix.
	// Default: "taskkit"
	Prefix string

	// Destinations limits export to these destinations. Empty exports all.
	Destinations []Destination

	// Now stamps envelopes. Default: time.Now
	Now func() time.Time
}

// BusForwarder is a tap that publishes every message it sees as a JSON
// envelope on <prefix>.<destination>.
type BusForwarder struct {
	bus    bus.MessageBus
	prefix string
	allow  map[Destination]bool
	now    func() time.Time
}

var _ Handler = (*BusForwarder)(nil)

// NewBusForwarder creates a forwarder.
func NewBusForwarder(cfg ForwarderConfig) (*BusForwarder, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus forwarder: bus is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "taskkit"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &BusForwarder{
		bus:    cfg.Bus,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}
	if len(cfg.Destinations) > 0 {
		f.allow = make(map[Destination]bool, len(cfg.Destinations))
		for _, d := range cfg.Destinations {
			f.allow[d] = true
		}
	}
	return f, nil
}

// Handle publishes msg.
func (f *BusForwarder) Handle(msg Message) error {
	dest := msg.Destination()
	if f.allow != nil && !f.allow[dest] {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	env := Envelope{
		ID:          uuid.NewString(),
		Destination: dest,
		Type:        fmt.Sprintf("%T", msg),
		Timestamp:   f.now().UTC(),
		Payload:     payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := f.bus.Publish(Subject(f.prefix, dest), data); err != nil {
		return fmt.Errorf("publish %s: %w", dest, err)
	}
	return nil
}
