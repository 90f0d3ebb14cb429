package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// RetryConfig configures retries of a single completion call.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  20 * time.Second,
		MaxRetries:      3,
	}
}

// statusFunc extracts the HTTP status of a provider error, or 0 when the
// request never got a response.
type statusFunc func(error) int

// retryCall runs fn with exponential backoff while the failure is transient
// (429, 5xx or transport) and maps the final failure onto a recall code.
func retryCall(ctx context.Context, cfg RetryConfig, provider string, status statusFunc, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	var policy backoff.BackOff = b
	if cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, cfg.MaxRetries)
	}

	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !transient(err, status) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}
	return classify(provider, status, err)
}

func transient(err error, status statusFunc) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errEmptyCompletion) {
		return false
	}
	code := status(err)
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}

// classify maps a final provider failure onto a recall error. Client-side
// rejections (4xx other than 429) are returned uncoded so the caller files
// them under its own capability code.
func classify(provider string, status statusFunc, err error) error {
	code := status(err)
	switch {
	case code == http.StatusTooManyRequests:
		return rerrors.New(rerrors.ErrCodeRateLimited, provider+" rate limit exceeded", err)
	case code >= 500:
		return rerrors.New(rerrors.ErrCodeCapabilityUnavailable, fmt.Sprintf("%s unavailable (HTTP %d)", provider, code), err)
	case code == 0 && !errors.Is(err, errEmptyCompletion):
		return rerrors.New(rerrors.ErrCodeCapabilityUnavailable, provider+" unreachable", err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}

var errEmptyCompletion = errors.New("completion contained no text")
