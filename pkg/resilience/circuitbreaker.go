// Package resilience provides fault-tolerance helpers shared by reactions:
// a circuit breaker that a reaction may opt into to fail fast against a
// persistently broken downstream sink, adapted from the teacher's
// infrastructure/resilience.CircuitBreaker. Spec.md's retry policy
// (exponential backoff keyed by error kind) lives directly in
// pkg/reaction.RetryConfig, since it needs to reason about the engine's
// own ReactionErrorKind taxonomy; this package supplies the optional,
// orthogonal breaker layer in front of it.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker's current state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned when the breaker rejects a call outright.
var (
	ErrOpen           = errors.New("resilience: circuit breaker is open")
	ErrTooManyHalfOpen = errors.New("resilience: too many requests while half-open")
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
	HalfOpenMax int
	// ShouldTrip classifies an Execute failure as one that should count
	// against the breaker. nil counts every non-nil error, the classic
	// behavior. A caller that only wants to trip on, say, transport
	// failures (and not on validation errors a downstream sink will
	// never accept no matter how many times it's retried) can narrow
	// this so those errors pass straight through without nudging the
	// breaker toward Open.
	ShouldTrip    func(err error) bool
	OnStateChange func(from, to State)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 3}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = d.HalfOpenMax
	}
	return c
}

// CircuitBreaker implements the classic closed/open/half-open pattern.
type CircuitBreaker struct {
	mu           sync.Mutex
	config       BreakerConfig
	state        State
	failures     int
	successes    int
	halfOpenReqs int
	lastFailure  time.Time
}

// NewCircuitBreaker constructs a breaker with cfg (zero fields fall back
// to DefaultBreakerConfig).
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: cfg.withDefaults(), state: Closed}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn under the breaker's protection: if the breaker is open
// (and its timeout hasn't elapsed) fn is never called. An error fn
// returns that config.ShouldTrip rejects is passed back to the caller
// unchanged but is otherwise invisible to the breaker: it neither counts
// toward Open nor toward closing a HalfOpen breaker back up.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	switch {
	case err == nil:
		cb.after(true)
	case cb.config.ShouldTrip != nil && !cb.config.ShouldTrip(err):
		cb.ignore()
	default:
		cb.after(false)
	}
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.setState(HalfOpen)
			cb.halfOpenReqs = 1
			return nil
		}
		return ErrOpen
	case HalfOpen:
		if cb.halfOpenReqs >= cb.config.HalfOpenMax {
			return ErrTooManyHalfOpen
		}
		cb.halfOpenReqs++
	}
	return nil
}

// ignore reverses a HalfOpen probe slot for an error ShouldTrip rejected,
// so an ignored error doesn't eat into config.HalfOpenMax's limited
// trial budget.
func (cb *CircuitBreaker) ignore() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == HalfOpen && cb.halfOpenReqs > 0 {
		cb.halfOpenReqs--
	}
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.setState(Closed)
		}
	case Closed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case HalfOpen:
		cb.setState(Open)
	case Closed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(Open)
		}
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenReqs = 0

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, newState)
	}
}
