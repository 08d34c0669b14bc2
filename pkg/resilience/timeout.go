package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when fn does not finish before its deadline.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn with a context bounded by timeout. It returns as soon as
// the deadline passes even if fn ignores its context; fn keeps running in the
// background and its result is discarded. Cancellation of the parent context
// is returned as the parent's error, not ErrTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
}
