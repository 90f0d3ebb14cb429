package llm

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// GuardConfig configures Guarded.
type GuardConfig struct {
	// RequestsPerSecond is the sustained call rate. <= 0 disables limiting.
	RequestsPerSecond float64
	// Burst is the token bucket size. Defaults to 1.
	Burst int
	// Timeout bounds each call, retries included. <= 0 disables it.
	Timeout time.Duration
	// Breaker is shared by every capability using the same provider.
	// Nil creates a dedicated breaker.
	Breaker *rerrors.CircuitBreaker
}

// Guarded wraps a Client with a token-bucket rate limit, a per-call timeout
// and a circuit breaker.
type Guarded struct {
	inner   Client
	limiter *rate.Limiter
	timeout time.Duration
	breaker *rerrors.CircuitBreaker
}

// NewGuarded wraps inner.
func NewGuarded(inner Client, cfg GuardConfig) *Guarded {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = rerrors.NewCircuitBreaker(inner.Provider())
	}
	return &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout,
		breaker: breaker,
	}
}

// Complete waits for a rate token, then calls through the breaker.
func (g *Guarded) Complete(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", rerrors.New(rerrors.ErrCodeRateLimited, g.inner.Provider()+" call rate exceeded before deadline", err)
	}

	text, err := rerrors.CircuitExecute(g.breaker, func() (string, error) {
		return g.inner.Complete(ctx, req)
	})
	if errors.Is(err, rerrors.ErrCircuitOpen) {
		return "", rerrors.New(rerrors.ErrCodeCapabilityUnavailable, g.inner.Provider()+" disabled after repeated failures", err).
			WithSuggestion("The circuit closes again after its reset timeout")
	}
	return text, err
}

// Provider returns the wrapped provider name.
func (g *Guarded) Provider() string { return g.inner.Provider() }

// Model returns the wrapped model.
func (g *Guarded) Model() string { return g.inner.Model() }

// BreakerState reports the circuit state, for status output.
func (g *Guarded) BreakerState() rerrors.State { return g.breaker.State() }
