package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllProvidersFailed is returned when every tier in a [FallbackGroup]
// failed or had an open circuit breaker.
var ErrAllProvidersFailed = errors.New("all providers failed")

// RetryConfig bounds the retries a [FallbackGroup] spends on one tier before
// moving to the next.
type RetryConfig struct {
	// MaxAttempts is the total calls made against a tier per execution,
	// including the first. Default: 2.
	MaxAttempts int

	// InitialBackoff is the pause before the first retry; each further retry
	// doubles it. Default: 200ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling. Default: 2s.
	MaxBackoff time.Duration
}

// FallbackConfig configures the breaker and retry policy applied to every
// tier in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
	Retry          RetryConfig
}

// tier pairs a provider value with its dedicated circuit breaker.
type tier[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary and zero or more fallback instances of one
// provider type. An execution walks the tiers in registration order: each
// tier gets a bounded number of attempts with exponential backoff, then the
// next tier takes over. Tiers with an open breaker are skipped outright.
//
// FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	tiers []tier[T]
	cfg   FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first tier.
// Zero-value retry fields are replaced with defaults; additional tiers are
// registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 2 * time.Second
	}
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = primaryName
	return &FallbackGroup[T]{
		tiers: []tier[T]{
			{
				name:    primaryName,
				value:   primary,
				breaker: NewCircuitBreaker(cbCfg),
			},
		},
		cfg: cfg,
	}
}

// AddFallback appends a fallback tier. Tiers are walked in the order they
// were added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.tiers = append(fg.tiers, tier[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// States reports every tier's breaker state keyed by provider name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.tiers))
	for i := range fg.tiers {
		out[fg.tiers[i].name] = fg.tiers[i].breaker.State()
	}
	return out
}

// Ready returns nil when at least one tier's breaker would admit a call, and
// an error naming the group's condition otherwise.
func (fg *FallbackGroup[T]) Ready() error {
	for i := range fg.tiers {
		if fg.tiers[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return errors.New("every provider tier has an open circuit breaker")
}

// Execute tries fn against each tier in order until one call succeeds.
// Returns [ErrAllProvidersFailed] wrapped with the last error when every tier
// fails, or ctx's error when cancelled mid-backoff.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each tier until one call succeeds,
// returning that call's result. Failed calls are retried on the same tier
// with exponential backoff, up to the configured attempt budget; an open
// breaker ends the tier's turn early. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.tiers {
		t := &fg.tiers[i]
		backoff := fg.cfg.Retry.InitialBackoff

		for attempt := 1; ; attempt++ {
			var result R
			err := t.breaker.Execute(func() error {
				var innerErr error
				result, innerErr = fn(t.value)
				return innerErr
			})
			if err == nil {
				return result, nil
			}
			lastErr = err

			if errors.Is(err, ErrCircuitOpen) {
				slog.Debug("resilience: skipping provider tier (breaker open)",
					"provider", t.name)
				break
			}
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			if attempt >= fg.cfg.Retry.MaxAttempts {
				slog.Warn("resilience: provider tier exhausted, trying next",
					"provider", t.name, "attempts", attempt, "error", err)
				break
			}

			slog.Debug("resilience: retrying provider tier",
				"provider", t.name, "attempt", attempt, "backoff", backoff, "error", err)
			if err := sleep(ctx, backoff); err != nil {
				return zero, err
			}
			backoff *= 2
			if backoff > fg.cfg.Retry.MaxBackoff {
				backoff = fg.cfg.Retry.MaxBackoff
			}
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// sleep pauses for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
