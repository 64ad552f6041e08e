package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatvault/internal/arc"
	"chatvault/internal/ratelimit"
	"chatvault/internal/testutil"
)

func newLimiter(clock ratelimit.Clock) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		MaxConcurrency:   8,
		MinConcurrency:   1,
		BaseDelay:        time.Second,
		MaxDelay:         10 * time.Second,
		RecoveryWindow:   30 * time.Second,
		RampStep:         0.1,
		CircuitThreshold: 3,
		PollInterval:     5 * time.Second,
	}, clock)
}

func TestLimiter_RecordRateLimit(t *testing.T) {
	t.Run("halves concurrency down to the minimum", func(t *testing.T) {
		t.Parallel()
		l := newLimiter(testutil.FixedClock())

		want := []int{4, 2, 1, 1}
		for i, w := range want {
			l.RecordRateLimit(errors.New("429"))
			if got := l.Concurrency(); got != w {
				t.Errorf("after signal %d: Concurrency() = %d, want %d", i+1, got, w)
			}
		}
	})

	t.Run("exponential delay is capped", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		l := newLimiter(clock)

		want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
		for i, w := range want {
			if got := l.RecordRateLimit(errors.New("too many requests")); got != w {
				t.Errorf("signal %d: delay = %v, want %v", i+1, got, w)
			}
		}
	})

	t.Run("remote retry-after wins", func(t *testing.T) {
		t.Parallel()
		l := newLimiter(testutil.FixedClock())

		err := &arc.RateLimitError{After: 42 * time.Second}
		if got := l.RecordRateLimit(err); got != 42*time.Second {
			t.Errorf("delay = %v, want 42s", got)
		}
	})
}

func TestLimiter_Circuit(t *testing.T) {
	t.Run("opens on third signal and closes after deadline", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		l := newLimiter(clock)

		l.RecordRateLimit(nil)
		l.RecordRateLimit(nil)
		if l.IsCircuitOpen() {
			t.Fatal("circuit open after two signals")
		}
		delay := l.RecordRateLimit(nil)
		if delay != 4*time.Second {
			t.Fatalf("third delay = %v, want 4s", delay)
		}
		if !l.IsCircuitOpen() {
			t.Fatal("expected circuit open after three signals")
		}
		if got := l.State(); got != ratelimit.StateCircuitOpen {
			t.Errorf("State() = %v, want %v", got, ratelimit.StateCircuitOpen)
		}
		if got := l.CircuitRemaining(); got != 4*time.Second {
			t.Errorf("CircuitRemaining() = %v, want 4s", got)
		}

		clock.Advance(3 * time.Second)
		if !l.IsCircuitOpen() {
			t.Fatal("circuit closed before deadline")
		}

		clock.Advance(time.Second)
		if l.IsCircuitOpen() {
			t.Fatal("circuit still open at deadline")
		}
		if got := l.RateLimitCount(); got != 0 {
			t.Errorf("RateLimitCount() = %d, want 0 after reset", got)
		}
		if got := l.State(); got != ratelimit.StateThrottled {
			t.Errorf("State() = %v, want %v", got, ratelimit.StateThrottled)
		}
	})

	t.Run("a signal after reset starts from base delay", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		l := newLimiter(clock)
		for i := 0; i < 3; i++ {
			l.RecordRateLimit(nil)
		}
		clock.Advance(time.Minute)
		if l.IsCircuitOpen() {
			t.Fatal("expected circuit closed")
		}
		if got := l.RecordRateLimit(nil); got != time.Second {
			t.Errorf("delay = %v, want 1s", got)
		}
	})
}

func TestLimiter_RecordSuccess(t *testing.T) {
	t.Run("no ramp inside recovery window", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		l := newLimiter(clock)
		l.RecordRateLimit(nil) // 8 -> 4

		clock.Advance(10 * time.Second)
		for i := 0; i < 20; i++ {
			l.RecordSuccess()
		}
		if got := l.Concurrency(); got != 4 {
			t.Errorf("Concurrency() = %d, want 4", got)
		}
	})

	t.Run("fractional ramp after recovery window", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		l := newLimiter(clock)
		l.RecordRateLimit(nil) // 8 -> 4
		clock.Advance(31 * time.Second)

		for i := 0; i < 9; i++ {
			l.RecordSuccess()
		}
		if got := l.Concurrency(); got != 4 {
			t.Errorf("after 9 successes Concurrency() = %d, want 4", got)
		}
		l.RecordSuccess()
		l.RecordSuccess()
		if got := l.Concurrency(); got != 5 {
			t.Errorf("after 11 successes Concurrency() = %d, want 5", got)
		}
		if got := l.RateLimitCount(); got != 0 {
			t.Errorf("RateLimitCount() = %d, want 0", got)
		}
	})

	t.Run("never exceeds max", func(t *testing.T) {
		t.Parallel()
		l := newLimiter(testutil.FixedClock())
		for i := 0; i < 100; i++ {
			l.RecordSuccess()
		}
		if got := l.Concurrency(); got != 8 {
			t.Errorf("Concurrency() = %d, want 8", got)
		}
		if got := l.State(); got != ratelimit.StateNormal {
			t.Errorf("State() = %v, want %v", got, ratelimit.StateNormal)
		}
	})
}

func TestLimiter_WaitForBackoff(t *testing.T) {
	t.Run("returns after delay", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(ratelimit.Config{PollInterval: time.Millisecond}, nil)
		start := time.Now()
		if err := l.WaitForBackoff(context.Background(), 5*time.Millisecond); err != nil {
			t.Fatalf("WaitForBackoff() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
			t.Errorf("returned after %v, want >= 5ms", elapsed)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(ratelimit.Config{PollInterval: 10 * time.Millisecond}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := l.WaitForBackoff(ctx, time.Hour)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WaitForBackoff() error = %v, want context.Canceled", err)
		}
	})
}

func TestLimiter_WaitForCircuit(t *testing.T) {
	t.Parallel()
	l := ratelimit.New(ratelimit.Config{
		BaseDelay:    5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, nil)
	for i := 0; i < 3; i++ {
		l.RecordRateLimit(nil)
	}
	if !l.IsCircuitOpen() {
		t.Fatal("expected circuit open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.WaitForCircuit(ctx); err != nil {
		t.Fatalf("WaitForCircuit() error = %v", err)
	}
	if l.IsCircuitOpen() {
		t.Error("circuit still open after WaitForCircuit")
	}
}
