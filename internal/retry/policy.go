// Package retry retries operations that fail transiently, such as deleting
// a directory a dying process still holds open.
package retry

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/prebake/internal/config"
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

// maxShift caps exponential growth before Max is applied.
const maxShift = 30

// Policy is a backoff schedule. The zero value never retries.
type Policy struct {
	Backoff config.RetryBackoffMode
	Initial time.Duration // first delay
	Max     time.Duration // cap on any delay
	Retries int           // attempts after the first failure
}

// DefaultPolicy retries twice, linearly from one second up to thirty.
func DefaultPolicy() Policy {
	return Policy{Backoff: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, Retries: 2}
}

// FromConfig builds the policy for deferred cleanup. Unset fields keep
// their defaults and Initial is clamped to Max.
func FromConfig(c config.CleanupConfig) Policy {
	p := DefaultPolicy()
	switch c.Backoff {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Backoff = c.Backoff
	}
	if c.Retries > 0 {
		p.Retries = c.Retries
	}
	if c.InitialDelay > 0 {
		p.Initial = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		p.Max = c.MaxDelay
	}
	p.Initial = min(p.Initial, p.Max)
	return p
}

// Delay returns the wait before retry n (the first retry is 1).
func (p Policy) Delay(n int) time.Duration {
	var d time.Duration
	switch {
	case n <= 0:
		return 0
	case p.Backoff == config.RetryBackoffFixed:
		d = p.Initial
	case p.Backoff == config.RetryBackoffExponential:
		d = p.Initial << min(n-1, maxShift)
	default:
		d = time.Duration(n) * p.Initial
	}
	if d < 0 {
		return p.Max
	}
	return min(d, p.Max)
}

// Validate rejects schedules that cannot be applied.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return foundation.ValidationError("retry initial delay must be positive").Build()
	case p.Max <= 0:
		return foundation.ValidationError("retry max delay must be positive").Build()
	case p.Retries < 0:
		return foundation.ValidationError("retry count cannot be negative").Build()
	}
	return nil
}

// Do calls fn until it succeeds, the retries are used up, or ctx is done.
// It returns the last error.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	err := fn()
	for n := 1; err != nil && n <= p.Retries; n++ {
		timer := time.NewTimer(p.Delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), err)
		case <-timer.C:
		}
		err = fn()
	}
	return err
}
