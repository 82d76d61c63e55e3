// Package task provides scoped background work: a Task is an owned handle to
// a goroutine whose lifetime is bound to that handle. Stopping the handle
// cancels the work and joins it, so no background activity outlives the scope
// that created it, including on early-return error paths.
package task

import (
	"context"

	"github.com/pkg/errors"
)

// Task is a handle to one unit of background work producing a T.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	result T
	err    error
}

// Go starts fn on its own goroutine under a context derived from ctx. The
// returned handle owns the work: callers should defer Stop so the goroutine
// is cancelled and joined on every exit path.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = errors.Errorf("background task panicked: %v", r)
			}
		}()
		t.result, t.err = fn(ctx)
	}()
	return t
}

// Wait blocks until the work finishes and returns its result, or returns
// early if ctx is done. The work keeps running if Wait returns early.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(ctx.Err(), "wait for background task")
	case <-t.done:
		return t.result, t.err
	}
}

// Join blocks until the work finishes on its own. Use it to drain a task
// whose completion is already guaranteed by other means.
func (t *Task[T]) Join() (T, error) {
	<-t.done
	return t.result, t.err
}

// Stop cancels the work and joins it. It is idempotent and safe to defer.
func (t *Task[T]) Stop() (T, error) {
	t.cancel()
	<-t.done
	return t.result, t.err
}
