// Package breaker isolates repeatedly failing indicator calculations and
// tracks engine calculation health. A pathological algorithm that throws
// or hangs must not take the rest of the engine down with it.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // Normal operation — calculations pass through
	StateOpen     State = 1 // Circuit tripped — calculations rejected immediately
	StateHalfOpen State = 2 // Testing — trial calculations allowed through
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

// ErrCircuitOpen is returned when the breaker short-circuits a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTimeout is returned when a calculation exceeds its time budget.
// It counts as a breaker failure like any other error.
var ErrTimeout = errors.New("calculation timed out")

// Config holds the breaker thresholds.
type Config struct {
	MaxFailures       int           // consecutive failures before opening
	ResetTimeout      time.Duration // open → half-open delay
	HalfOpenSuccesses int           // consecutive half-open successes to close
	CallTimeout       time.Duration // per-calculation time budget
}

// DefaultConfig matches the engine defaults: 5 failures, 60s recovery,
// 3 successes to close, 5s per calculation.
func DefaultConfig() Config {
	return Config{
		MaxFailures:       5,
		ResetTimeout:      60 * time.Second,
		HalfOpenSuccesses: 3,
		CallTimeout:       5 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern for calculations.
// After MaxFailures consecutive failures it opens and rejects calls for
// ResetTimeout, then half-opens and allows trial calls; HalfOpenSuccesses
// consecutive successes close it, any half-open failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	failures    int
	successes   int // consecutive successes while half-open
	lastFailure time.Time

	clock func() time.Time

	// OnStateChange is called on transitions (optional, used for metrics).
	OnStateChange func(from, to State)
}

// New creates a breaker. Zero-valued config fields pick the defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Breaker{cfg: cfg, state: StateClosed, clock: time.Now}
}

// Execute runs fn through the breaker with the configured time budget.
// Returns ErrCircuitOpen without invoking fn while the breaker is open,
// and ErrTimeout if fn outlives its budget. The timed-out goroutine is
// abandoned; fn must honor ctx cancellation to avoid leaking work.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.clock().Sub(b.lastFailure) > b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		// Trial call allowed through.
	}
	b.mu.Unlock()

	err := b.runBounded(ctx, fn)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = b.clock()

		if b.state == StateHalfOpen {
			// Trial failed — straight back to open.
			b.transition(StateOpen)
		} else if b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}
		return err
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
	return nil
}

// runBounded enforces the per-call timeout.
func (b *Breaker) runBounded(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return callCtx.Err()
	}
}

// CurrentState returns the breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}

// SetClock overrides the breaker clock (testing hook).
func (b *Breaker) SetClock(fn func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = fn
}
