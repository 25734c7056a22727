package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine into the Stream interface. The
// producer writes events to the channel and returns when the stream is
// finished; its error, if any, is surfaced by the final Recv.
type eventStream struct {
	ch     chan Event
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	done bool
}

// newEventStream runs produce in a goroutine and returns a Stream fed by
// the events it emits. Closing the stream cancels the producer's context.
func newEventStream(ctx context.Context, produce func(ctx context.Context, ch chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		ch:     make(chan Event, 64),
		cancel: cancel,
	}
	go func() {
		err := produce(ctx, s.ch)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.ch
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return Event{}, err
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.mu.Lock()
	already := s.done
	s.done = true
	s.mu.Unlock()
	if already {
		return nil
	}
	s.cancel()
	// Drain so the producer is not blocked on send.
	for range s.ch {
	}
	return nil
}

// emit sends an event unless the context has been cancelled.
func emit(ctx context.Context, ch chan<- Event, ev Event) error {
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
