// Package retry applies the configured backoff to transient dependency
// failures. Schedules are driven through cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"git.home.luguber.info/inful/storebuilder/internal/config"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
)

// Policy is an immutable retry budget and delay curve.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first failure
}

// DefaultPolicy is linear from 1s, capped at 30s, with two retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// NewPolicy overlays the given values on DefaultPolicy. Zero durations,
// negative retry counts and unknown modes keep the default.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDelay time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDelay > 0 {
		p.Max = maxDelay
	}
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

// FromConfig builds a policy from the retry section.
func FromConfig(c config.RetryConfig) Policy {
	return NewPolicy(c.Mode,
		config.ParseDuration(c.InitialDelay, 0),
		config.ParseDuration(c.MaxDelay, 0),
		c.MaxRetries)
}

// Delay is the wait before retry n (first retry is 1).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffExponential:
		d = p.Initial << (n - 1)
	default:
		d = p.Initial * time.Duration(n)
	}
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// BackOff returns a fresh schedule that yields Delay(1..MaxRetries) and then
// backoff.Stop.
func (p Policy) BackOff() backoff.BackOff { return &schedule{policy: p} }

type schedule struct {
	policy Policy
	n      int
}

func (s *schedule) NextBackOff() time.Duration {
	s.n++
	if s.n > s.policy.MaxRetries {
		return backoff.Stop
	}
	return s.policy.Delay(s.n)
}

func (s *schedule) Reset() { s.n = 0 }

// Validate reports a policy that cannot be applied.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return errors.New("retry: initial delay must be positive")
	case p.Max <= 0:
		return errors.New("retry: max delay must be positive")
	case p.MaxRetries < 0:
		return errors.New("retry: max retries cannot be negative")
	}
	return nil
}

// Do calls fn until it succeeds or the budget is spent. Permanent errors and
// open circuits stop at once. When ctx ends mid-wait the last error from fn
// is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.DoNotify(ctx, fn, nil)
}

// DoNotify is Do with a hook called before each wait.
func (p Policy) DoNotify(ctx context.Context, fn func(ctx context.Context) error, notify func(err error, wait time.Duration)) error {
	var last error
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(op, backoff.WithContext(p.BackOff(), ctx), notify)
	if err != nil && last != nil && errors.Is(err, ctx.Err()) {
		return last
	}
	return err
}

func retryable(err error) bool {
	if foundationerrors.HasCategory(err, foundationerrors.CategoryCircuitOpen) {
		return false
	}
	return foundationerrors.CanRetry(err)
}
