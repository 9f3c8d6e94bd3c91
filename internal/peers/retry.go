package peers

import (
	"context"
	"time"
)

// Retry calls fn until it returns nil, the retry budget is spent or ctx is
// done. Every error is retryable.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	return RetryNotify(ctx, policy, fn, nil)
}

// RetryNotify is Retry with a hook run before each wait. It gets the number
// of the attempt that failed, its error and the delay that follows.
func RetryNotify(
	ctx context.Context,
	policy RetryPolicy,
	fn func() error,
	notify func(attempt int, err error, delay time.Duration),
) error {
	backoff := policy.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt > policy.MaxRetries {
			return err
		}

		delay := policy.delay(backoff)
		if notify != nil {
			notify(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			backoff *= 2
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// delay adds jitter to backoff and caps the sum at MaxBackoff.
func (p RetryPolicy) delay(backoff time.Duration) time.Duration {
	d := backoff
	if p.JitterFn != nil {
		d += p.JitterFn(backoff)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
