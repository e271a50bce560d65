package bake

import (
	"context"
	"sync"
)

// Future is the pending result of a bake. It resolves once the product and
// every prerequisite it needed have been built or have failed.
type Future struct {
	done   chan struct{}
	cancel context.CancelFunc

	once sync.Once
	ok   bool
	err  error
}

func newFuture(cancel context.CancelFunc) *Future {
	if cancel == nil {
		cancel = func() {}
	}
	return &Future{done: make(chan struct{}), cancel: cancel}
}

// resolved returns a future that is already complete.
func resolved(ok bool, err error) *Future {
	f := newFuture(nil)
	f.resolve(ok, err)
	return f
}

func (f *Future) resolve(ok bool, err error) {
	f.once.Do(func() {
		f.ok, f.err = ok, err
		f.cancel()
		close(f.done)
	})
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future has resolved.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx ends. It reports whether the
// product is up to date; the error explains a failure. A build that lost a
// race with a file change reports false with a nil error.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.ok, f.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Cancel stops the build behind the future. The future resolves once the
// build notices.
func (f *Future) Cancel() { f.cancel() }
