package llm

import (
	"context"
	"testing"
	"time"
)

// fakeClock drives a RateLimiter deterministically and records sleeps.
type fakeClock struct {
	at     time.Time
	sleeps []time.Duration
}

func newFakeLimiter(floor, ceiling time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{at: time.Unix(1000, 0)}
	r := NewRateLimiter(floor, ceiling)
	r.now = func() time.Time { return clock.at }
	r.sleep = func(_ context.Context, d time.Duration) error {
		clock.sleeps = append(clock.sleeps, d)
		clock.at = clock.at.Add(d)
		return nil
	}
	return r, clock
}

func TestRateLimiterBackoffDoublingAndReset(t *testing.T) {
	floor := 100 * time.Millisecond
	r, clock := newFakeLimiter(floor, time.Minute)

	// First request goes out immediately.
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("first request should not sleep, slept %v", clock.sleeps)
	}
	r.RecordRequest()
	r.OnRateLimited()

	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.RecordRequest()
	r.OnRateLimited()

	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.RecordRequest()
	r.OnSuccess()

	want := []time.Duration{floor, 2 * floor}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("got sleeps %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep %d: got %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
	if r.Delay() != floor {
		t.Errorf("backoff should reset to floor on success, got %v", r.Delay())
	}
}

func TestRateLimiterCeiling(t *testing.T) {
	floor := 10 * time.Second
	r, _ := newFakeLimiter(floor, 60*time.Second)
	for i := 0; i < 10; i++ {
		r.OnRateLimited()
	}
	if r.Delay() != 60*time.Second {
		t.Errorf("backoff should cap at the ceiling, got %v", r.Delay())
	}
}

func TestRateLimiterMonotonicUnderRepeated429(t *testing.T) {
	r, clock := newFakeLimiter(50*time.Millisecond, time.Minute)
	prev := time.Duration(0)
	for i := 0; i < 5; i++ {
		if err := r.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		r.RecordRequest()
		r.OnRateLimited()
	}
	for i, d := range clock.sleeps {
		if d < prev {
			t.Errorf("sleep %d decreased: %v after %v", i, d, prev)
		}
		if d > time.Minute {
			t.Errorf("sleep %d exceeds ceiling: %v", i, d)
		}
		prev = d
	}
}

func TestRateLimiterElapsedTimeCountsTowardDelay(t *testing.T) {
	floor := 100 * time.Millisecond
	r, clock := newFakeLimiter(floor, time.Minute)
	r.RecordRequest()
	clock.at = clock.at.Add(70 * time.Millisecond)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 30*time.Millisecond {
		t.Errorf("should only sleep the remaining interval, got %v", clock.sleeps)
	}
}

func TestRateLimiterWaitCancellation(t *testing.T) {
	r := NewRateLimiter(10*time.Second, time.Minute)
	r.RecordRequest()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx); err == nil {
		t.Error("cancelled context should abort the wait")
	}
}
