// Package ratelimit holds the process-wide signal that the upstream quota is
// exhausted. The signal is cooperative: it never blocks a call by itself, it
// only tells callers to hold off until the quota window resets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/deeplooplabs/repofetch"
)

// State is a snapshot of the rate limit signal
type State struct {
	Limited bool `json:"is_limited"`

	// ResetAt is zero when the upstream did not say when the quota resets
	ResetAt time.Time `json:"reset_at,omitzero"`

	Message string `json:"message,omitempty"`
}

// Remaining returns the time left until ResetAt, or 0
func (s State) Remaining(now time.Time) time.Duration {
	if !s.Limited || s.ResetAt.IsZero() {
		return 0
	}
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Observer is called with the new state after every change
type Observer func(State)

// Config holds rate limit signal configuration
type Config struct {
	// DefaultCooldown is used when a rate limit error carries no reset time.
	// Zero keeps the signal raised until Clear is called. (default: 60s)
	DefaultCooldown time.Duration

	// Now overrides time.Now
	Now func() time.Time
}

// DefaultConfig returns a default rate limit signal configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultCooldown: 60 * time.Second,
	}
}

// Signal is the shared rate limit state with automatic expiry
type Signal struct {
	config Config

	mu        sync.Mutex
	state     State
	gen       uint64
	timer     *time.Timer
	observers map[uint64]Observer
	nextID    uint64
}

// NewSignal creates a signal in the not-limited state. A nil config uses DefaultConfig.
func NewSignal(config *Config) *Signal {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Signal{
		config:    cfg,
		observers: make(map[uint64]Observer),
	}
}

// Report raises the signal if err is an upstream rate limit error and
// reports whether it did. Any other error leaves the state untouched.
func (s *Signal) Report(err error) bool {
	upErr, ok := repofetch.AsUpstreamError(err)
	if !ok || upErr.Kind != repofetch.KindRateLimited {
		return false
	}

	now := s.config.Now()
	resetAt := upErr.ResetAt
	if resetAt.IsZero() && upErr.RetryAfter > 0 {
		resetAt = now.Add(upErr.RetryAfter)
	}
	if resetAt.IsZero() && s.config.DefaultCooldown > 0 {
		resetAt = now.Add(s.config.DefaultCooldown)
	}

	s.set(State{Limited: true, ResetAt: resetAt, Message: upErr.Message})
	return true
}

// Clear resets the signal to the not-limited state
func (s *Signal) Clear() {
	s.set(State{})
}

// State returns the current state, clearing it first if ResetAt has passed
func (s *Signal) State() State {
	s.mu.Lock()
	if s.state.Limited && !s.state.ResetAt.IsZero() && !s.config.Now().Before(s.state.ResetAt) {
		observers, _ := s.apply(State{})
		s.mu.Unlock()
		notify(observers, State{})
		return State{}
	}
	state := s.state
	s.mu.Unlock()
	return state
}

// Subscribe registers fn for state changes and returns a function that
// removes it
func (s *Signal) Subscribe(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Close stops the expiry timer and drops every observer
func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.observers = make(map[uint64]Observer)
}

func (s *Signal) set(next State) {
	s.mu.Lock()
	observers, changed := s.apply(next)
	state := s.state
	s.mu.Unlock()

	if changed {
		notify(observers, state)
	}
}

// expire clears the state set by generation gen, unless it was replaced since
func (s *Signal) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	observers, changed := s.apply(State{})
	s.mu.Unlock()

	if changed {
		notify(observers, State{})
	}
}

// apply installs next and arms the expiry timer. Callers hold s.mu.
func (s *Signal) apply(next State) ([]Observer, bool) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++

	if next.Limited && !next.ResetAt.IsZero() {
		wait := next.ResetAt.Sub(s.config.Now())
		if wait <= 0 {
			next = State{}
		} else {
			gen := s.gen
			s.timer = time.AfterFunc(wait, func() { s.expire(gen) })
		}
	}

	changed := next != s.state
	s.state = next
	return s.snapshot(), changed
}

func notify(observers []Observer, state State) {
	for _, fn := range observers {
		fn(state)
	}
}

func (s *Signal) snapshot() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		out = append(out, fn)
	}
	return out
}
