// internal/page/async/future.go
package async

import (
	"context"
	"fmt"
	"sync"
)

// Future is a single-fire completion signal carrying an optional error. It is
// safe for concurrent use. Settling a Future twice is a programming error and
// panics.
type Future struct {
	once sync.Once
	done chan struct{}

	mu      sync.Mutex
	err     error
	settled bool
}

// NewFuture creates an unsettled Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future that already succeeded.
func Resolved() *Future {
	f := NewFuture()
	f.Resolve()
	return f
}

// Rejected returns a Future that already failed with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles the Future successfully.
func (f *Future) Resolve() {
	f.settle(nil)
}

// Reject settles the Future with err. A nil err is treated as success.
func (f *Future) Reject(err error) {
	f.settle(err)
}

func (f *Future) settle(err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		panic(fmt.Sprintf("async: future settled twice (previous error: %v, new error: %v)", f.err, err))
	}
	f.settled = true
	f.err = err
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

// TrySettle settles the Future unless it already is, and reports whether this
// call won.
func (f *Future) TrySettle(err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.err = err
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return true
}

// Done is closed once the Future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsSettled reports whether the Future has completed.
func (f *Future) IsSettled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the settlement error. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the Future settles or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All waits for every future and returns the first error encountered.
func All(ctx context.Context, futures ...*Future) error {
	var first error
	for _, f := range futures {
		if f == nil {
			continue
		}
		if err := f.Wait(ctx); err != nil && first == nil {
			first = err
			if ctx.Err() != nil {
				return first
			}
		}
	}
	return first
}
