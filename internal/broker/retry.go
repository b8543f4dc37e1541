package broker

import (
	"context"
	"math/rand"
	"time"
)

// retryPolicy implements the exponential backoff with ±25% jitter
// using base-2 backoff, up to maxAttempts total attempts.
type retryPolicy struct {
	maxAttempts int
	base        time.Duration
}

func defaultRetryPolicy(maxAttempts int) retryPolicy {
	return retryPolicy{maxAttempts: maxAttempts, base: 1 * time.Second}
}

// backoff returns the delay before retry attempt n (1-indexed), base *
// 2^(n-1) jittered by ±25%.
func (p retryPolicy) backoff(n int) time.Duration {
	d := p.base * time.Duration(1<<uint(n-1))
	jitter := 0.75 + rand.Float64()*0.5 // [0.75, 1.25)
	return time.Duration(float64(d) * jitter)
}

// do runs fn, retrying while it reports retryable=true, up to
// maxAttempts total attempts. fn returns the classification's
// retryable bit alongside its result so do can decide whether to loop.
func (p retryPolicy) do(ctx context.Context, fn func(attempt int) (retryable bool, err error)) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		retryable, err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == p.maxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return lastErr
}
