package core

import (
	"context"
	"sync"
)

// EventSink is the single ordered channel through which all output for one
// execution is published. It is bound to an outbound channel at the start of
// top-level execution and closed at the end; nested delegation sub-runs obtain
// the same sink rather than opening a second channel, so a specialist's deltas
// interleave correctly with the supervisor's own events in emission order.
//
// A sink is scoped to one execution and never shared across executions. The
// mutex only guards against a late Emit racing Close after cancellation; the
// EXECUTING/DELEGATING state machine guarantees a single producing owner at a
// time.
type EventSink struct {
	mu     sync.Mutex
	ch     chan<- Event
	exec   *Execution
	closed bool
}

// NewEventSink binds a sink for exec to the outbound channel ch.
func NewEventSink(exec *Execution, ch chan<- Event) *EventSink {
	return &EventSink{ch: ch, exec: exec}
}

// Execution returns the execution this sink publishes for.
func (s *EventSink) Execution() *Execution { return s.exec }

// Emit records ev in the execution history and publishes it on the outbound
// channel, honoring context cancellation. Emitting on a closed sink returns
// ErrStreamClosed.
func (s *EventSink) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	ch := s.ch
	s.mu.Unlock()

	s.exec.Record(ev)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- ev:
		return nil
	}
}

// TryEmit records ev and publishes it without blocking. It reports whether the
// event was delivered. Used for terminal framing after the run context is
// already cancelled, where a blocking send could hang on a gone consumer.
func (s *EventSink) TryEmit(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	ch := s.ch
	s.mu.Unlock()

	s.exec.Record(ev)

	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Close clears the channel binding and closes the outbound channel. Idempotent.
func (s *EventSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
