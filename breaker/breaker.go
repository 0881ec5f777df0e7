// Package breaker implements a three-state circuit breaker that stops calls to
// an upstream once it is clearly failing and tries a single call for recovery on its own.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deeplooplabs/repofetch"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected without reaching the upstream
	StateHalfOpen              // one trial call is allowed to test recovery
)

// String returns a human-readable state name
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

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open after the last failure (default: 60s)
	ResetTimeout time.Duration

	// OnStateChange is called after every transition, outside the breaker's lock
	OnStateChange func(from, to State)

	// Now overrides time.Now
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Snapshot is a point-in-time copy of the breaker state
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
}

// Breaker is a circuit breaker shared by every caller of one upstream
type Breaker struct {
	config Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool
}

// New creates a closed breaker. A nil config uses DefaultConfig.
func New(config *Config) *Breaker {
	d := DefaultConfig()
	cfg := *d
	if config != nil {
		cfg = *config
		if cfg.FailureThreshold <= 0 {
			cfg.FailureThreshold = d.FailureThreshold
		}
		if cfg.ResetTimeout <= 0 {
			cfg.ResetTimeout = d.ResetTimeout
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{config: cfg}
}

// Execute runs op through the breaker. While the circuit is open op is not
// called and a circuit-open error is returned instead.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	trial, err := b.acquire()
	if err != nil {
		return zero, err
	}

	result, err := op(ctx)
	b.release(trial, err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// acquire decides whether a call may proceed. The lock is never held across
// the call itself.
func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateOpen:
		elapsed := b.config.Now().Sub(b.lastFailure)
		if elapsed < b.config.ResetTimeout {
			b.mu.Unlock()
			return false, repofetch.NewCircuitOpenError(b.config.ResetTimeout - elapsed)
		}
		b.state = StateHalfOpen
		b.trial = true
		trial = true
	case StateHalfOpen:
		if b.trial {
			b.mu.Unlock()
			return false, repofetch.NewCircuitOpenError(0)
		}
		b.trial = true
		trial = true
	}

	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return trial, nil
}

// release records the outcome of a call admitted by acquire
func (b *Breaker) release(trial bool, err error) {
	b.mu.Lock()
	from := b.state
	if trial {
		b.trial = false
	}

	switch {
	case err == nil:
		b.failures = 0
		// only the trial call may close a tripped circuit; a late success
		// admitted before it opened leaves the state alone
		if trial {
			b.state = StateClosed
		}
	case errors.Is(err, context.Canceled):
		// the caller gave up; the upstream said nothing about its health
	default:
		b.failures++
		b.lastFailure = b.config.Now()
		if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
			b.state = StateOpen
		}
	}

	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state and counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
	}
}

// Reset forces the breaker back to the closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.trial = false
	b.mu.Unlock()

	b.notify(from, StateClosed)
}
