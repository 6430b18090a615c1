package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAttempt records one failed leg of a Fallback.Generate call,
// for diagnostics and logging.
type FallbackAttempt struct {
	Provider string
	Error    string
}

// Fallback tries a primary Provider and, on any error, falls through
// an ordered list of secondary providers. It is itself a
// Provider, so callers (Route, Quality Gate, tools, translation,
// summarization, retrieval generation) depend only on the Provider
// interface regardless of how many legs are configured.
type Fallback struct {
	primary   Provider
	secondary []Provider
	breakers  map[string]*Breaker
	limiter   *Limiter
}

// NewFallback builds a Fallback chain. Each provider (primary and
// secondary) is wrapped in its own circuit breaker so a provider that
// is currently down doesn't eat a full per-call timeout on every
// request during an outage.
func NewFallback(primary Provider, secondary ...Provider) *Fallback {
	breakers := make(map[string]*Breaker, 1+len(secondary))
	breakers[primary.Name()] = NewBreaker(primary.Name())
	for _, p := range secondary {
		breakers[p.Name()] = NewBreaker(p.Name())
	}
	return &Fallback{primary: primary, secondary: secondary, breakers: breakers}
}

func (f *Fallback) Name() string { return f.primary.Name() + "+fallback" }

// WithLimit caps concurrent Generate calls across all legs.
func (f *Fallback) WithLimit(max int) *Fallback {
	f.limiter = NewLimiter(max)
	return f
}

// Generate tries the primary provider, then each secondary provider
// in order, returning the first success. If every leg fails it
// returns ErrUnavailable wrapping the last attempt's error.
func (f *Fallback) Generate(ctx context.Context, req Request) (string, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer f.limiter.Release()

	candidates := append([]Provider{f.primary}, f.secondary...)
	var attempts []FallbackAttempt
	var lastErr error

	for _, p := range candidates {
		breaker := f.breakers[p.Name()]
		if breaker != nil && breaker.Open() {
			attempts = append(attempts, FallbackAttempt{Provider: p.Name(), Error: "circuit open"})
			continue
		}

		text, err := p.Generate(ctx, req)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return text, nil
		}

		if breaker != nil {
			breaker.RecordFailure()
		}
		attempts = append(attempts, FallbackAttempt{Provider: p.Name(), Error: err.Error()})
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return "", fmt.Errorf("%w: all providers failed %v: %w", ErrUnavailable, attempts, lastErr)
}
