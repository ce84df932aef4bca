package resilience

import (
	"context"
	"fmt"
	"time"
)

// ErrTimeout is the cause attached to the context WithTimeout hands to fn,
// so callees can tell the limit apart from caller cancellation with
// context.Cause.
var ErrTimeout = fmt.Errorf("operation timed out: %w", context.DeadlineExceeded)

// WithTimeout bounds one outbound call, such as a synchronous OCR request.
// fn runs on its own goroutine and must honour ctx. On expiry the returned
// error wraps context.DeadlineExceeded; when ctx is cancelled first it wraps
// the parent's error instead. A result fn produced at the same instant wins
// over either. A non-positive timeout runs fn inline.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
}
