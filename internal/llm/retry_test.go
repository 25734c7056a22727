package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyProvider fails the first n Stream calls with err, then delegates
// to a scripted success.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	script   []Event
}

func (p *flakyProvider) Name() string               { return "flaky" }
func (p *flakyProvider) Capabilities() Capabilities { return Capabilities{} }

func (p *flakyProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *flakyProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.failures
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		if fail {
			return p.err
		}
		for _, ev := range p.script {
			if err := emit(ctx, ch, ev); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	inner := &flakyProvider{
		failures: 2,
		err:      errors.New("503 service unavailable"),
		script: []Event{
			{Type: EventTextDelta, Text: "ok"},
			doneEvent(FinishStop, nil),
		},
	}
	p := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drainStream(t, stream)

	if inner.callCount() != 3 {
		t.Errorf("inner calls = %d, want 3", inner.callCount())
	}
	var text string
	var retries, dones int
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventRetry:
			retries++
		case EventDone:
			dones++
		}
	}
	if text != "ok" || retries != 2 || dones != 1 {
		t.Errorf("text=%q retries=%d dones=%d", text, retries, dones)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyProvider{
		failures: 100,
		err:      errors.New("429 too many requests"),
	}
	p := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})

	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var finalErr error
	for {
		_, err := stream.Recv()
		if err != nil {
			finalErr = err
			break
		}
	}
	if finalErr == nil || finalErr.Error() != "429 too many requests" {
		t.Errorf("final error = %v", finalErr)
	}
	if inner.callCount() != 3 {
		t.Errorf("inner calls = %d, want 3", inner.callCount())
	}
}

func TestRetryDoesNotRetryAfterPartialOutput(t *testing.T) {
	inner := &partialProvider{}
	p := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})

	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sawText bool
	var finalErr error
	for {
		ev, err := stream.Recv()
		if err != nil {
			finalErr = err
			break
		}
		if ev.Type == EventTextDelta {
			sawText = true
		}
	}
	if !sawText {
		t.Error("partial output was not forwarded")
	}
	if finalErr == nil {
		t.Fatal("expected mid-stream failure to surface")
	}
	if inner.callCount() != 1 {
		t.Errorf("inner calls = %d, want 1 (no retry after output)", inner.callCount())
	}
}

func TestRetryDoesNotRetryConfigErrors(t *testing.T) {
	inner := &flakyProvider{
		failures: 100,
		err:      &ConfigError{Provider: "test", Reason: "api_key is required"},
	}
	p := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})

	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var finalErr error
	for {
		_, err := stream.Recv()
		if err != nil {
			finalErr = err
			break
		}
	}
	var ce *ConfigError
	if !errors.As(finalErr, &ce) {
		t.Errorf("final error = %v, want ConfigError", finalErr)
	}
	if inner.callCount() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.callCount())
	}
}

// partialProvider emits text then fails mid-stream with a retryable
// error.
type partialProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *partialProvider) Name() string               { return "partial" }
func (p *partialProvider) Capabilities() Capabilities { return Capabilities{} }

func (p *partialProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *partialProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return newEventStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		if err := emit(ctx, ch, Event{Type: EventTextDelta, Text: "partial"}); err != nil {
			return err
		}
		return errors.New("connection reset by peer")
	}), nil
}
