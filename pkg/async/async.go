// Package async provides a small Future abstraction for detaching work from
// the calling goroutine. The billing webhook endpoint uses it to process
// provider events after the HTTP response has been written.
package async

import (
	"context"
	"time"
)

// Future represents the result of an asynchronous computation.
type Future[U any] struct {
	result U
	err    error
	done   chan struct{}
}

// Await blocks until the asynchronous function completes and returns its result.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout waits for completion up to the given timeout.
// Returns ErrTimeout if the deadline passes first.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		var zero U
		return zero, ErrTimeout
	}
}

// IsComplete reports completion without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Async executes fn in a new goroutine and returns a Future for its result.
// If ctx is already canceled the function is not invoked.
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		select {
		case <-ctx.Done():
			f.err = ctx.Err()
			return
		default:
		}

		f.result, f.err = fn(ctx, param)
	}()

	return f
}
