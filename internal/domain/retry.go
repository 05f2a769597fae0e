package domain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts bounds stage retries unless configured.
	DefaultMaxAttempts = 3

	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
)

// RetryPolicy is a bounded exponential-backoff policy shared by all
// stages. Transient errors are retried up to MaxAttempts; terminal
// errors abort on the first attempt.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Do runs op until it succeeds, returns a terminal error, exhausts the
// attempt budget, or ctx is cancelled. Cancellation is observed between
// attempts: an in-flight attempt always finishes its unit of work.
// The attempt count is returned alongside the final error.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	} else {
		bo.InitialInterval = defaultInitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	} else {
		bo.MaxInterval = defaultMaxInterval
	}

	attempts := 0
	wrapped := func() error {
		attempts++
		err := op(ctx)
		if err != nil && !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.maxAttempts()-1)), ctx)
	err := backoff.Retry(wrapped, b)
	return attempts, err
}
