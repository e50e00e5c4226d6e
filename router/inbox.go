package router

import (
	"context"
	"sync"
)

// inbox is an unbounded FIFO drained by a single goroutine.
type inbox struct {
	dest    Destination
	handler Handler

	mu     sync.Mutex
	queue  []Message
	closed bool
	notify chan struct{}
}

func newInbox(dest Destination, h Handler) *inbox {
	return &inbox{
		dest:    dest,
		handler: h,
		notify:  make(chan struct{}, 1),
	}
}

func (in *inbox) push(msg Message) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.queue = append(in.queue, msg)
	in.mu.Unlock()
	in.signal()
	return true
}

func (in *inbox) close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) signal() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) take() ([]Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	batch := in.queue
	in.queue = nil
	return batch, in.closed
}

// run delivers until the inbox is closed and empty, or ctx is done.
func (in *inbox) run(ctx context.Context, deliver func(*inbox, Message)) {
	for {
		batch, closed := in.take()
		for _, msg := range batch {
			deliver(in, msg)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-in.notify:
		case <-ctx.Done():
			return
		}
	}
}
