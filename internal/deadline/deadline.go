// Package deadline provides the one timeout combinator used by every fetch site.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("operation timed out")

// TimeoutError names the operation that ran out of time.
type TimeoutError struct {
	Label string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Label, e.After)
}

// Unwrap lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Run races op against a timer of duration d.
//
// The timer is stopped on every outcome, and the context handed to op is
// cancelled as soon as Run returns, so a late op cannot act for a caller that
// has moved on. A non-positive d runs op without a timer.
func Run[T any](ctx context.Context, label string, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(d)
	defer timer.Stop()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1) // buffered: a late op never blocks
	go func() {
		v, err := op(opCtx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, &TimeoutError{Label: label, After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
