package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces outbound HTTP requests for a single provider
// instance. Each 429 doubles the delay applied to the request after next,
// up to a ceiling; the next 2xx drops everything back to the floor.
type RateLimiter struct {
	mu      sync.Mutex
	floor   time.Duration
	ceiling time.Duration
	backoff time.Duration // Delay armed for the next throttle
	wait    time.Duration // Spacing currently applied before requests
	last    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(floor, ceiling time.Duration) *RateLimiter {
	if floor <= 0 {
		floor = 500 * time.Millisecond
	}
	if ceiling < floor {
		ceiling = 60 * time.Second
	}
	return &RateLimiter{
		floor:   floor,
		ceiling: ceiling,
		backoff: floor,
		wait:    floor,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the next request is allowed to go out. The pending
// delay is computed under the lock; the sleep itself happens outside it.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	var d time.Duration
	if !r.last.IsZero() {
		next := r.last.Add(r.wait)
		if remaining := next.Sub(r.now()); remaining > 0 {
			d = remaining
		}
	}
	r.mu.Unlock()
	if d > 0 {
		return r.sleep(ctx, d)
	}
	return nil
}

// RecordRequest marks the moment a request completed, success or not.
func (r *RateLimiter) RecordRequest() {
	r.mu.Lock()
	r.last = r.now()
	r.mu.Unlock()
}

// OnRateLimited arms the current backoff as the pre-request spacing and
// doubles it for any further throttle, capped at the ceiling.
func (r *RateLimiter) OnRateLimited() {
	r.mu.Lock()
	r.wait = r.backoff
	r.backoff *= 2
	if r.backoff > r.ceiling {
		r.backoff = r.ceiling
	}
	r.mu.Unlock()
}

// OnSuccess resets spacing and backoff to the floor. Non-429 failures
// leave both untouched.
func (r *RateLimiter) OnSuccess() {
	r.mu.Lock()
	r.backoff = r.floor
	r.wait = r.floor
	r.mu.Unlock()
}

// Delay reports the spacing currently applied before requests.
func (r *RateLimiter) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wait
}
