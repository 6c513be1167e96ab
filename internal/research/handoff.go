package research

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrHandoffClosed is returned by Poll once the producer has closed the
	// handoff and every buffered event has been consumed.
	ErrHandoffClosed = errors.New("handoff closed")
	// ErrPollTimeout is returned by Poll when no event arrived in time.
	ErrPollTimeout = errors.New("handoff poll timed out")
)

// EventSink receives the events of one research run. Close marks end of
// stream and must be called exactly once, after the terminal event.
type EventSink interface {
	Emit(ev StreamEvent)
	Close()
}

// Handoff is an unbounded single-producer single-consumer event queue. Emit
// never blocks, so a slow client cannot stall the worker.
type Handoff struct {
	mu     sync.Mutex
	items  []StreamEvent
	closed bool
	ready  chan struct{}
}

// NewHandoff creates an empty handoff.
func NewHandoff() *Handoff {
	return &Handoff{ready: make(chan struct{}, 1)}
}

// Emit appends an event. Events emitted after Close are dropped.
func (h *Handoff) Emit(ev StreamEvent) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.items = append(h.items, ev)
	h.mu.Unlock()
	h.signal()
}

// Close marks end of stream. It is idempotent.
func (h *Handoff) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.signal()
}

func (h *Handoff) signal() {
	select {
	case h.ready <- struct{}{}:
	default:
	}
}

// TryNext pops a buffered event without waiting.
func (h *Handoff) TryNext() (StreamEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return StreamEvent{}, false
	}
	ev := h.items[0]
	h.items[0] = StreamEvent{}
	h.items = h.items[1:]
	if len(h.items) == 0 {
		h.items = nil
	}
	return ev, true
}

// Poll waits up to timeout for the next event.
func (h *Handoff) Poll(ctx context.Context, timeout time.Duration) (StreamEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if ev, ok := h.TryNext(); ok {
			return ev, nil
		}
		h.mu.Lock()
		closed := h.closed && len(h.items) == 0
		h.mu.Unlock()
		if closed {
			return StreamEvent{}, ErrHandoffClosed
		}

		select {
		case <-h.ready:
		case <-timer.C:
			return StreamEvent{}, ErrPollTimeout
		case <-ctx.Done():
			return StreamEvent{}, ctx.Err()
		}
	}
}
