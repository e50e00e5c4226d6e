package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	tkerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/logging"
)

// Common errors.
var (
	ErrClosed            = errors.New("router closed")
	ErrNoHandler         = errors.New("no handler for destination")
	ErrAlreadyRegistered = errors.New("destination already registered")
	ErrAlreadyStarted    = errors.New("router already started")
)

// Destination names a message consumer.
type Destination string

// Message is anything the router can deliver.
type Message interface {
	Destination() Destination
}

// Handler consumes messages for one destination.
type Handler interface {
	Handle(msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg Message) error

// Handle calls f(msg).
func (f HandlerFunc) Handle(msg Message) error {
	return f(msg)
}

// Poster is the sending half of a Router. Components that only emit
// messages depend on this.
type Poster interface {
	Post(msg Message) error
}

// Config configures a Router.
type Config struct {
	// Logger for handler failures. Default: logging.New()
	Logger *logging.Logger
}

// Stats is a snapshot of router counters.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Failed    uint64
	Panicked  uint64
}

// Router is an asynchronous, per-destination ordered message dispatcher.
type Router struct {
	log *logging.Logger

	mu      sync.RWMutex
	inboxes map[Destination]*inbox
	taps    []Handler

	started atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	wg      sync.WaitGroup

	inflight  atomic.Int64
	posted    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

var _ Poster = (*Router)(nil)

// New creates a router. Messages posted before Start are queued.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &Router{
		log:     cfg.Logger.WithComponent("router"),
		inboxes: make(map[Destination]*inbox),
		ctx:     context.Background(),
	}
}

// Register installs the handler for dest.
func (r *Router) Register(dest Destination, h Handler) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inboxes[dest]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, dest)
	}
	in := newInbox(dest, h)
	r.inboxes[dest] = in
	if r.started.Load() {
		r.launch(in)
	}
	return nil
}

// Tap adds an observer that sees every message after its handler ran.
func (r *Router) Tap(h Handler) {
	r.mu.Lock()
	r.taps = append(r.taps, h)
	r.mu.Unlock()
}

// Post queues msg for its destination. It never blocks.
func (r *Router) Post(msg Message) error {
	if r.closed.Load() {
		return ErrClosed
	}
	dest := msg.Destination()
	r.mu.RLock()
	in, ok := r.inboxes[dest]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, dest)
	}

	r.inflight.Add(1)
	if !in.push(msg) {
		r.inflight.Add(-1)
		return ErrClosed
	}
	r.posted.Add(1)
	return nil
}

// Start launches one delivery goroutine per registered destination.
// Destinations registered later start immediately.
func (r *Router) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.Swap(true) {
		return ErrAlreadyStarted
	}
	r.ctx = ctx
	for _, in := range r.inboxes {
		r.launch(in)
	}
	return nil
}

func (r *Router) launch(in *inbox) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		in.run(r.ctx, r.deliver)
	}()
}

func (r *Router) deliver(in *inbox, msg Message) {
	defer r.inflight.Add(-1)

	r.mu.RLock()
	taps := r.taps
	r.mu.RUnlock()

	err := r.invoke(in.handler, msg)
	for _, tap := range taps {
		err = multierr.Append(err, r.invoke(tap, msg))
	}
	r.delivered.Add(1)
	if err != nil {
		r.failed.Add(1)
		r.log.Warn("delivery failed", map[string]interface{}{
			"destination": string(in.dest),
			"message":     fmt.Sprintf("%T", msg),
			"error":       err.Error(),
		})
	}
}

func (r *Router) invoke(h Handler, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.panicked.Add(1)
			err = tkerrors.New(tkerrors.ErrCodePanic, fmt.Sprintf("handler panic: %v", p),
				tkerrors.WithMetadata("destination", string(msg.Destination())))
		}
	}()
	return h.Handle(msg)
}

// WaitIdle blocks until every posted message has been delivered, including
// messages posted by handlers along the way, or ctx is done.
func (r *Router) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for r.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns delivery counters.
func (r *Router) Stats() Stats {
	return Stats{
		Posted:    r.posted.Load(),
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
		Panicked:  r.panicked.Load(),
	}
}

// Stop rejects new posts, drains what is already queued and waits for the
// delivery goroutines, or for ctx.
func (r *Router) Stop(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	r.mu.RLock()
	for _, in := range r.inboxes {
		in.close()
	}
	started := r.started.Load()
	r.mu.RUnlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
