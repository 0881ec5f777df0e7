// Package retry runs an operation with exponential backoff and jitter
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/deeplooplabs/repofetch"
)

// Config holds retry configuration
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// InitialDelay is the delay before the first retry (default: 1s)
	InitialDelay time.Duration

	// MaxDelay caps the computed delay before jitter (default: 30s)
	MaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64

	// Jitter is the relative spread applied to every delay (default: 0.2, i.e. ±20%)
	Jitter float64

	// Classifier reports whether an error is worth retrying (default: repofetch.Retryable)
	Classifier func(error) bool

	// OnRetry is called before sleeping ahead of each retry
	OnRetry func(Attempt)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
		Classifier:        repofetch.Retryable,
	}
}

// Attempt describes a failed attempt that is about to be retried
type Attempt struct {
	// Index is the zero-based attempt that failed
	Index int

	// Elapsed is the time spent since the first attempt started
	Elapsed time.Duration

	// Err is the error the attempt failed with
	Err error

	// Delay is how long Do sleeps before the next attempt
	Delay time.Duration
}

// Result is the outcome of Do. It is always returned, never an error alone.
type Result[T any] struct {
	Success   bool
	Data      T
	Err       error
	Attempts  int
	TotalTime time.Duration
}

// Backoff returns min(MaxDelay, InitialDelay * BackoffMultiplier^attempt)
func (c *Config) Backoff(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Jittered spreads d uniformly over [d*(1-Jitter), d*(1+Jitter)]
func (c *Config) Jittered(d time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return d
	}
	factor := 1 + c.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = d.InitialDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = d.MaxDelay
	}
	if out.BackoffMultiplier < 1 {
		out.BackoffMultiplier = d.BackoffMultiplier
	}
	if out.Jitter < 0 || out.Jitter >= 1 {
		out.Jitter = d.Jitter
	}
	if out.Classifier == nil {
		out.Classifier = d.Classifier
	}
	return &out
}

// Do runs op until it succeeds, fails with an error the classifier rejects,
// or MaxRetries retries are spent. When retries run out the last error is
// returned unchanged with Attempts = MaxRetries+1.
func Do[T any](ctx context.Context, config *Config, op func(context.Context) (T, error)) Result[T] {
	cfg := config.withDefaults()
	start := time.Now()

	var result Result[T]
	for attempt := 0; ; attempt++ {
		data, err := op(ctx)
		result.Attempts = attempt + 1
		result.TotalTime = time.Since(start)
		if err == nil {
			result.Success = true
			result.Data = data
			result.Err = nil
			return result
		}
		result.Err = err

		if attempt >= cfg.MaxRetries || !cfg.Classifier(err) {
			return result
		}

		delay := cfg.Jittered(cfg.Backoff(attempt))
		if cfg.OnRetry != nil {
			cfg.OnRetry(Attempt{Index: attempt, Elapsed: result.TotalTime, Err: err, Delay: delay})
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Err = ctx.Err()
			result.TotalTime = time.Since(start)
			return result
		case <-timer.C:
		}
	}
}
