package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries a function on transient failures with a linearly
// growing backoff between attempts. MaxRetries is the number of retries
// after the first attempt; zero means run once.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Do runs fn until it succeeds, the retry budget is exhausted, or ctx is
// cancelled. The last error is returned.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries || ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.Backoff * time.Duration(i+1)):
		}
	}
	return err
}
