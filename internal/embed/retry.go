package embed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures retry behavior for provider requests.
type RetryConfig struct {
	InitialInterval time.Duration // Delay before first retry
	MaxInterval     time.Duration // Maximum delay between retries
	MaxElapsedTime  time.Duration // Total time budget across attempts
	MaxRetries      uint64        // Attempts after the first; 0 means unbounded within MaxElapsedTime
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		MaxRetries:      5,
	}
}

// newBackOff builds the exponential policy for cfg, bound to ctx.
func (cfg RetryConfig) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	var policy backoff.BackOff = b
	if cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, cfg.MaxRetries)
	}
	return backoff.WithContext(policy, ctx)
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or
// the policy gives up. retryable decides which errors are worth another try.
func withRetry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, cfg.newBackOff(ctx))
}
