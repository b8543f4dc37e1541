package broker

import (
	"context"
	"sync"
	"time"
)

const slidingWindow = time.Minute

// call records one rate-limit-bucket consumption at a point in time.
type call struct {
	at        time.Time
	emergency bool
}

// RateLimiter is a sliding-window token bucket sized to a fraction of
// the broker's documented per-minute limit, with a small emergency
// reserve available only to cancellation and liquidation calls. A
// caller requesting a non-emergency token when the bucket is full
// sleeps until the oldest call in the window rolls out.
type RateLimiter struct {
	usable   int
	reserve  int
	mu       sync.Mutex
	calls    []call
	sleepFor func(d time.Duration)
}

// NewRateLimiter builds a limiter usable non-emergency tokens per
// minute plus reserve emergency-only tokens.
func NewRateLimiter(usable, reserve int) *RateLimiter {
	return &RateLimiter{
		usable:  usable,
		reserve: reserve,
		sleepFor: func(d time.Duration) {
			time.Sleep(d)
		},
	}
}

// prune drops calls older than the sliding window. Caller must hold mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(r.calls) && r.calls[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.calls = r.calls[i:]
	}
}

// Acquire blocks until a token is available, honoring ctx cancellation.
// emergency requests may dip into the reserve; non-emergency requests
// are capped strictly at the usable count.
func (r *RateLimiter) Acquire(ctx context.Context, emergency bool) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.prune(now)

		nonEmergency := 0
		total := len(r.calls)
		for _, c := range r.calls {
			if !c.emergency {
				nonEmergency++
			}
		}

		if !emergency && nonEmergency < r.usable {
			r.calls = append(r.calls, call{at: now, emergency: false})
			r.mu.Unlock()
			return nil
		}
		if emergency && total < r.usable+r.reserve {
			r.calls = append(r.calls, call{at: now, emergency: true})
			r.mu.Unlock()
			return nil
		}

		// Bucket is full for this caller's class; sleep until the
		// oldest relevant entry rolls out of the window.
		var oldest time.Time
		if len(r.calls) > 0 {
			oldest = r.calls[0].at
		} else {
			oldest = now
		}
		wait := oldest.Add(slidingWindow).Sub(now)
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// WindowCount returns the number of calls recorded in the trailing
// sliding window.
func (r *RateLimiter) WindowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(time.Now())
	return len(r.calls)
}
