package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deeplooplabs/repofetch"
)

func TestSignal_ReportRateLimit(t *testing.T) {
	signal := NewSignal(nil)
	defer signal.Close()

	reset := time.Now().Add(time.Hour)
	err := repofetch.NewRateLimitedError("API rate limit exceeded", reset, nil)

	if !signal.Report(err) {
		t.Fatal("Expected rate limit error to be reported")
	}

	state := signal.State()
	if !state.Limited {
		t.Fatal("Expected signal to be limited")
	}
	if !state.ResetAt.Equal(reset) {
		t.Errorf("Expected reset %v, got %v", reset, state.ResetAt)
	}
	if state.Message != "API rate limit exceeded" {
		t.Errorf("Unexpected message %q", state.Message)
	}
}

func TestSignal_IgnoresOtherErrors(t *testing.T) {
	signal := NewSignal(nil)
	defer signal.Close()

	for _, err := range []error{
		errors.New("boom"),
		repofetch.NewStatusError(403, "Resource not accessible", nil),
		repofetch.NewStatusError(500, "", nil),
		nil,
	} {
		if signal.Report(err) {
			t.Errorf("Expected %v not to be reported", err)
		}
	}
	if signal.State().Limited {
		t.Fatal("Expected signal to stay clear")
	}
}

func TestSignal_AutoClear(t *testing.T) {
	signal := NewSignal(nil)
	defer signal.Close()

	signal.Report(repofetch.NewRateLimitedError("limited", time.Now().Add(100*time.Millisecond), nil))
	if !signal.State().Limited {
		t.Fatal("Expected signal to be limited")
	}

	time.Sleep(150 * time.Millisecond)

	if signal.State().Limited {
		t.Fatal("Expected signal to clear itself after reset time")
	}
}

func TestSignal_LazyExpiry(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	signal := NewSignal(&Config{DefaultCooldown: time.Hour, Now: clock})
	defer signal.Close()

	signal.Report(repofetch.NewRateLimitedError("limited", time.Time{}, nil))
	state := signal.State()
	if !state.Limited || !state.ResetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("Expected default cooldown, got %+v", state)
	}

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	if signal.State().Limited {
		t.Fatal("Expected signal to clear once reset time is reached")
	}
}

func TestSignal_RetryAfter(t *testing.T) {
	signal := NewSignal(nil)
	defer signal.Close()

	err := repofetch.NewRateLimitedError("secondary rate limit", time.Time{}, nil)
	err.RetryAfter = 30 * time.Second
	signal.Report(err)

	remaining := signal.State().Remaining(time.Now())
	if remaining <= 25*time.Second || remaining > 30*time.Second {
		t.Errorf("Expected about 30s remaining, got %v", remaining)
	}
}

func TestSignal_NoCooldownHoldsUntilClear(t *testing.T) {
	signal := NewSignal(&Config{})
	defer signal.Close()

	signal.Report(repofetch.NewRateLimitedError("limited", time.Time{}, nil))
	state := signal.State()
	if !state.Limited || !state.ResetAt.IsZero() {
		t.Fatalf("Expected limited state without reset time, got %+v", state)
	}

	signal.Clear()
	if signal.State().Limited {
		t.Fatal("Expected Clear to reset the signal")
	}
}

func TestSignal_Observers(t *testing.T) {
	signal := NewSignal(nil)
	defer signal.Close()

	states := make(chan State, 4)
	unsubscribe := signal.Subscribe(func(s State) { states <- s })

	signal.Report(repofetch.NewRateLimitedError("limited", time.Now().Add(50*time.Millisecond), nil))

	select {
	case s := <-states:
		if !s.Limited {
			t.Fatal("Expected first notification to be limited")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected notification on report")
	}

	select {
	case s := <-states:
		if s.Limited {
			t.Fatal("Expected second notification to be clear")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected notification on auto-clear")
	}

	unsubscribe()
	signal.Report(repofetch.NewRateLimitedError("limited", time.Now().Add(time.Hour), nil))
	select {
	case <-states:
		t.Fatal("Expected no notification after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSignal_ClearWithoutChangeDoesNotNotify(t *testing.T) {
	signal := NewSignal(nil)
	defer signal.Close()

	calls := 0
	signal.Subscribe(func(State) { calls++ })
	signal.Clear()
	signal.Clear()

	if calls != 0 {
		t.Errorf("Expected no notifications, got %d", calls)
	}
}
