// Package ratelimit adapts archive concurrency to upstream rate-limit
// signals and pauses all work when they repeat.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// State is the limiter's externally visible mode.
type State int

const (
	// StateNormal: concurrency is at, or recovering toward, the maximum.
	StateNormal State = iota
	// StateThrottled: concurrency was reduced after a rate-limit signal.
	StateThrottled
	// StateCircuitOpen: new work must wait until the reset deadline.
	StateCircuitOpen
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateThrottled:
		return "throttled"
	case StateCircuitOpen:
		return "circuit-open"
	default:
		return "unknown"
	}
}

// Config tunes a Limiter. Zero fields take the DefaultConfig value.
type Config struct {
	MaxConcurrency   int
	MinConcurrency   int
	BaseDelay        time.Duration // first exponential backoff step
	MaxDelay         time.Duration // cap for computed backoff
	RecoveryWindow   time.Duration // quiet period before ramping back up
	RampStep         float64       // concurrency added per success after the window
	CircuitThreshold int           // rate-limit signals that open the circuit
	PollInterval     time.Duration // granularity of cooperative waits
}

// DefaultConfig returns the limiter defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   10,
		MinConcurrency:   1,
		BaseDelay:        time.Second,
		MaxDelay:         60 * time.Second,
		RecoveryWindow:   30 * time.Second,
		RampStep:         0.1,
		CircuitThreshold: 3,
		PollInterval:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = d.MinConcurrency
	}
	if c.MinConcurrency > c.MaxConcurrency {
		c.MinConcurrency = c.MaxConcurrency
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = d.RecoveryWindow
	}
	if c.RampStep <= 0 {
		c.RampStep = d.RampStep
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Clock abstracts time so the limiter is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RetryAfterer is implemented by errors carrying a remote retry-after hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Limiter tracks rate-limit signals for one archive run and owns the shared
// concurrency budget. It is safe for concurrent use.
type Limiter struct {
	cfg   Config
	clock Clock

	mu             sync.Mutex
	concurrency    float64 // fractional; floored on read
	rateLimits     int
	lastRateLimit  time.Time
	circuitResetAt time.Time
}

// New creates a Limiter starting at cfg.MaxConcurrency. A nil clock uses
// wall time.
func New(cfg Config, clock Clock) *Limiter {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = realClock{}
	}
	return &Limiter{
		cfg:         cfg,
		clock:       clock,
		concurrency: float64(cfg.MaxConcurrency),
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Concurrency returns the current budget, floored to an integer.
func (l *Limiter) Concurrency() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(math.Floor(l.concurrency))
}

// RecordSuccess ramps concurrency up by RampStep once RecoveryWindow has
// passed since the last rate-limit signal. The same quiet period clears the
// rate-limit counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !l.lastRateLimit.IsZero() && now.Sub(l.lastRateLimit) <= l.cfg.RecoveryWindow {
		return
	}
	if l.circuitResetAt.IsZero() {
		l.rateLimits = 0
	}
	if l.concurrency < float64(l.cfg.MaxConcurrency) {
		l.concurrency = math.Min(l.concurrency+l.cfg.RampStep, float64(l.cfg.MaxConcurrency))
	}
}

// RecordRateLimit registers a rate-limit signal: it halves concurrency
// (never below MinConcurrency), computes the backoff delay and opens the
// circuit once CircuitThreshold signals have accumulated. The delay is the
// remote retry-after hint when err carries one, otherwise exponential.
func (l *Limiter) RecordRateLimit(err error) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rateLimits++
	l.lastRateLimit = now

	l.concurrency = math.Max(math.Floor(l.concurrency/2), float64(l.cfg.MinConcurrency))

	delay := l.backoffLocked(err)
	if l.rateLimits >= l.cfg.CircuitThreshold {
		l.circuitResetAt = now.Add(delay)
	}
	return delay
}

func (l *Limiter) backoffLocked(err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return d
		}
	}
	delay := l.cfg.BaseDelay
	for i := 1; i < l.rateLimits; i++ {
		delay *= 2
		if delay >= l.cfg.MaxDelay {
			return l.cfg.MaxDelay
		}
	}
	if delay > l.cfg.MaxDelay {
		delay = l.cfg.MaxDelay
	}
	return delay
}

// IsCircuitOpen reports whether new work must wait. Once the reset deadline
// has passed the circuit closes and the rate-limit counter is cleared.
func (l *Limiter) IsCircuitOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.circuitOpenLocked()
}

func (l *Limiter) circuitOpenLocked() bool {
	if l.circuitResetAt.IsZero() {
		return false
	}
	if !l.clock.Now().Before(l.circuitResetAt) {
		l.circuitResetAt = time.Time{}
		l.rateLimits = 0
		return false
	}
	return true
}

// CircuitRemaining returns how long the circuit stays open, zero if closed.
func (l *Limiter) CircuitRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.circuitOpenLocked() {
		return 0
	}
	return l.circuitResetAt.Sub(l.clock.Now())
}

// State reports the current mode.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.circuitOpenLocked() {
		return StateCircuitOpen
	}
	if l.concurrency < float64(l.cfg.MaxConcurrency) {
		return StateThrottled
	}
	return StateNormal
}

// RateLimitCount returns the number of signals since the last reset.
func (l *Limiter) RateLimitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rateLimits
}

// WaitForBackoff suspends the caller for delay, waking every PollInterval so
// long pauses stay cancellable through ctx.
func (l *Limiter) WaitForBackoff(ctx context.Context, delay time.Duration) error {
	for delay > 0 {
		step := delay
		if step > l.cfg.PollInterval {
			step = l.cfg.PollInterval
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay -= step
	}
	return ctx.Err()
}

// WaitForCircuit blocks until the circuit is closed, re-polling at most
// every PollInterval.
func (l *Limiter) WaitForCircuit(ctx context.Context) error {
	for {
		remaining := l.CircuitRemaining()
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining > l.cfg.PollInterval {
			remaining = l.cfg.PollInterval
		}
		if err := l.WaitForBackoff(ctx, remaining); err != nil {
			return err
		}
	}
}
