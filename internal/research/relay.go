package research

import (
	"context"
	"errors"
	"time"
)

// relayPollInterval is how long the relay waits on the handoff before it
// checks whether the worker has exited.
const relayPollInterval = 100 * time.Millisecond

// Stream is the consumer side of one research run.
type Stream struct {
	ID string

	handoff    *Handoff
	workerDone chan struct{}
	cancel     context.CancelFunc
}

func newStream(id string, cancel context.CancelFunc) *Stream {
	return &Stream{
		ID:         id,
		handoff:    NewHandoff(),
		workerDone: make(chan struct{}),
		cancel:     cancel,
	}
}

// failedStream returns a stream that holds a single error event and no worker.
func failedStream(id, message string) *Stream {
	s := newStream(id, func() {})
	s.handoff.Emit(ErrorEvent(message))
	s.handoff.Close()
	close(s.workerDone)
	return s
}

// Cancel asks the worker to stop. The worker still emits its terminal event.
func (s *Stream) Cancel() {
	s.cancel()
}

// Done is closed when the worker has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.workerDone
}

// Relay forwards events in order until the terminal event has been forwarded
// and the worker has signalled end of stream. It returns ctx's error if the
// client went away, or forward's error if delivery failed; in both cases the
// worker is cancelled. A worker that exits without a terminal event produces
// a synthetic error event.
func (s *Stream) Relay(ctx context.Context, forward func(StreamEvent) error) error {
	defer s.cancel()

	sawTerminal := false
	deliver := func(ev StreamEvent) error {
		if sawTerminal {
			return nil
		}
		if ev.IsTerminal() {
			sawTerminal = true
		}
		return forward(ev)
	}
	finish := func() error {
		for {
			ev, ok := s.handoff.TryNext()
			if !ok {
				break
			}
			if err := deliver(ev); err != nil {
				return err
			}
		}
		if !sawTerminal {
			return deliver(ErrorEvent("Research stream ended without a result"))
		}
		return nil
	}

	for {
		ev, err := s.handoff.Poll(ctx, relayPollInterval)
		switch {
		case err == nil:
			if err := deliver(ev); err != nil {
				return err
			}
		case errors.Is(err, ErrPollTimeout):
			select {
			case <-s.workerDone:
				return finish()
			default:
			}
		case errors.Is(err, ErrHandoffClosed):
			return finish()
		default:
			return err
		}
	}
}

// Collect relays every event into a slice. It is meant for callers that do
// not stream, such as the CLI and tests.
func (s *Stream) Collect(ctx context.Context) ([]StreamEvent, error) {
	var events []StreamEvent
	err := s.Relay(ctx, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}
