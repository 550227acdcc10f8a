// Package resilience keeps the conversation engine answering when a provider
// backend misbehaves. A [CircuitBreaker] stops the pipeline from hammering a
// failing LLM or embeddings endpoint, and a [FallbackGroup] chains several
// backends of one provider kind so the next tier takes over when the
// preferred one is down, with bounded per-tier retries in between.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls to the provider.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen]. Entered after too many
	// consecutive failures; left when the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. The breaker
	// closes again when enough of them succeed and re-opens on the first
	// failure.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the protected provider in logs and state-change
	// notifications.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker
	// from the closed state. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing trial
	// calls. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax caps the trial calls admitted in the half-open state.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is notified of every state transition. It is
	// invoked with the breaker's mutex held and must not call back into the
	// breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker (closed, open, half-open) guarding
// one provider backend. Safe for concurrent use.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// setState transitions the breaker and notifies the state-change hook.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Execute runs fn under the breaker's admission rules: always in the closed
// state, never in the open state (it returns [ErrCircuitOpen] instead), and
// up to HalfOpenMax times in the half-open state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.halfOpenFails = 0
		slog.Info("resilience: breaker admitting trial calls",
			"provider", cb.name)

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			// Trial budget spent; wait for the outcome of the calls in flight.
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure(inHalfOpen)
	} else {
		cb.recordSuccess(inHalfOpen)
	}
	return err
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	cb.lastFailure = time.Now()

	if inHalfOpen {
		cb.halfOpenFails++
		// One failed trial call is enough to re-open.
		cb.setState(StateOpen)
		cb.consecutiveFail = cb.maxFailures
		slog.Warn("resilience: breaker re-opened after failed trial call",
			"provider", cb.name)
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.setState(StateOpen)
		slog.Warn("resilience: breaker opened",
			"provider", cb.name,
			"consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		successes := cb.halfOpenCalls - cb.halfOpenFails
		if successes >= cb.halfOpenMax {
			cb.setState(StateClosed)
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("resilience: breaker closed after successful trial calls",
				"provider", cb.name)
		}
		return
	}

	cb.consecutiveFail = 0
}

// State returns the breaker's current [State]. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored transition happens
// on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	slog.Info("resilience: breaker manually reset", "provider", cb.name)
}
