package session

import (
	"context"
	"errors"
	"time"
)

// errAttemptTimeout marks a single attempt that exceeded its budget.
var errAttemptTimeout = errors.New("attempt timed out")

// Policy is the one bounded-retry primitive used by the validator and by
// all teardown waits, so timeout budgets stay consistent and testable.
type Policy struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	Interval          time.Duration
}

// Do runs op up to MaxAttempts times. Each attempt races against
// PerAttemptTimeout so a hung operation cannot block the caller
// indefinitely; the operation itself is not cancellable beyond its context.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Interval > 0 {
			select {
			case <-time.After(p.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = p.attempt(ctx, op)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (p Policy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.PerAttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.PerAttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(attemptCtx) }()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errAttemptTimeout
	}
}

// Poll evaluates cond up to MaxAttempts times, Interval apart, and reports
// whether it ever returned true. Used for bounded disconnection waits.
func (p Policy) Poll(ctx context.Context, cond func(ctx context.Context) bool) bool {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if cond(ctx) {
			return true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(p.Interval):
		case <-ctx.Done():
			return false
		}
	}
	return false
}
