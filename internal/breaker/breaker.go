// Package breaker guards external dependencies with circuit breakers.
//
// A Breaker is an explicit state machine. Closed passes calls through and
// counts failures inside a sliding window; reaching the threshold opens the
// circuit. Open rejects every call with a CircuitOpenError until the cooldown
// elapses, after which exactly one trial call is admitted (HalfOpen). The
// trial's outcome closes the circuit or reopens it for another cooldown.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/logfields"
)

// State is the circuit state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings are the tunables of one breaker.
type Settings struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

func (s Settings) normalized() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return s
}

// StateHook observes state transitions.
type StateHook func(name string, from, to State)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithStateHook registers a transition observer. Hooks run outside the lock.
func WithStateHook(h StateHook) Option {
	return func(b *Breaker) {
		if h != nil {
			b.hooks = append(b.hooks, h)
		}
	}
}

// WithFailurePredicate overrides which errors count as dependency failures.
func WithFailurePredicate(fn func(ctx context.Context, err error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// Breaker is safe for concurrent use and is meant to be shared by every job
// that talks to the same dependency.
type Breaker struct {
	name      string
	settings  Settings
	clock     clockwork.Clock
	hooks     []StateHook
	isFailure func(ctx context.Context, err error) bool

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	trial    bool
}

// New creates a closed breaker.
func New(name string, s Settings, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		settings:  s.normalized(),
		clock:     clockwork.NewRealClock(),
		isFailure: DefaultFailurePredicate,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// DefaultFailurePredicate counts every error except the caller's own
// cancellation or deadline and request-level errors that say nothing about
// the dependency's health.
func DefaultFailurePredicate(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return false
	}
	switch foundationerrors.GetCategory(err) {
	case foundationerrors.CategoryNotFound, foundationerrors.CategoryValidation, foundationerrors.CategoryCanceled:
		return false
	}
	return true
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Settings returns the effective settings.
func (b *Breaker) Settings() Settings { return b.settings }

// State returns the current state. An open breaker whose cooldown has
// elapsed reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.advanceLocked()
	state := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return state
}

// Allow reports whether a call would currently be admitted without
// consuming the half-open trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from, to := b.advanceLocked()
	var err error
	switch b.state {
	case Open:
		err = b.openError()
	case HalfOpen:
		if b.trial {
			err = b.openError()
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
	return err
}

// errPanicked is recorded for a call that panicked instead of returning.
var errPanicked = errors.New("call panicked")

// Execute runs fn if the circuit admits it and records the outcome. A
// panicking fn counts as a failure and the panic is re-raised.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	callErr := errPanicked
	defer func() { b.record(ctx, trial, callErr) }()
	callErr = fn(ctx)
	return callErr
}

// Call is Execute for functions returning a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Reset forces the breaker closed and clears its failure window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = nil
	b.trial = false
	b.mu.Unlock()
	b.notify(from, Closed)
}

func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	from, to := b.advanceLocked()
	var (
		trial bool
		err   error
	)
	switch b.state {
	case Open:
		err = b.openError()
	case HalfOpen:
		if b.trial {
			err = b.openError()
		} else {
			b.trial = true
			trial = true
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
	return trial, err
}

func (b *Breaker) record(ctx context.Context, trial bool, err error) {
	failed := b.isFailure(ctx, err)
	ignored := err != nil && !failed

	b.mu.Lock()
	from := b.state
	now := b.clock.Now()
	switch {
	case trial && ignored:
		// the trial told us nothing; admit another one
		b.trial = false
	case trial && failed:
		b.trial = false
		b.tripLocked(now)
	case trial:
		b.trial = false
		b.state = Closed
		b.failures = nil
	case failed && b.state == Closed:
		b.failures = append(b.pruneLocked(now), now)
		if len(b.failures) >= b.settings.FailureThreshold {
			b.tripLocked(now)
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) tripLocked(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.failures = nil
}

// pruneLocked drops failures that fell out of the sliding window.
func (b *Breaker) pruneLocked(now time.Time) []time.Time {
	cutoff := now.Add(-b.settings.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (b *Breaker) advanceLocked() (State, State) {
	from := b.state
	if b.state == Open && b.clock.Since(b.openedAt) >= b.settings.Cooldown {
		b.state = HalfOpen
		b.trial = false
	}
	return from, b.state
}

func (b *Breaker) openError() error {
	retryIn := b.settings.Cooldown - b.clock.Since(b.openedAt)
	if retryIn < 0 {
		retryIn = 0
	}
	return foundationerrors.CircuitOpenError(fmt.Sprintf("circuit %s is open", b.name)).
		WithContext("dependency", b.name).
		WithContext("retry_in", retryIn.String()).
		Build()
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("Circuit breaker state changed",
		logfields.Dependency(b.name),
		slog.String("from", from.String()),
		logfields.BreakerState(to.String()))
	for _, h := range b.hooks {
		h(b.name, from, to)
	}
}
