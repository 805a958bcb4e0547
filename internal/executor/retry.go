package executor

import (
	"context"
	"time"
)

// RetryPolicy retries a transport call with a pluggable backoff. Injected
// into the order path so tests can run it against a fake exchange without
// sleeping.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy with doubling backoff: base, 2*base,
// 4*base, ... per attempt.
func NewRetryPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int) time.Duration {
			return base << attempt
		},
	}
}

// Do runs fn until it succeeds, attempts run out, or the context is done.
// The backoff for attempt n is slept after the n-th failure.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
