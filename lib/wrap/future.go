package wrap

import (
	"context"
	"sync"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Futures
// --------------------------------------------------------------------------

// Future is the single-settlement result of an asynchronous operation. It
// settles exactly once, with a value or with an error, and every accessor
// observes the same outcome.
//
// Thread-safety: all methods are safe for concurrent use.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that has already settled with the given value.
func Resolved[T any](val T) *Future[T] {
	f := newFuture[T]()
	f.resolve(val)
	return f
}

// Rejected returns a future that has already settled with the given error.
func Rejected[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.reject(err)
	return f
}

func (f *Future[T]) resolve(val T) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

func (f *Future[T]) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future settles or the context is done. Cancelling
// the context abandons the wait; it does not stop the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value and error. Before the future has settled
// it returns zero values.
func (f *Future[T]) Result() (T, error) {
	if !f.Settled() {
		var zero T
		return zero, nil
	}
	return f.val, f.err
}

// --------------------------------------------------------------------------
// Request Promisification
// --------------------------------------------------------------------------

// promisify turns the next terminal signal of a request into a typed future.
// Listeners are attached after the request is live; the catch-up contract of
// Request delivers the signal even when it fired before attachment. Both
// listener registrations are dropped once the future settles, so later
// firings of a multi-fire request are not observed by this future.
//
// The future is recorded in the registry's reverse mapping, pointing at the
// originating request.
func promisify[T any](reg *Registry, req evd.Request) *Future[T] {
	fut := newFuture[T]()

	var mu sync.Mutex
	var removes []func()
	settled := false

	settle := func(apply func()) {
		mu.Lock()
		if settled {
			mu.Unlock()
			return
		}
		settled = true
		drop := removes
		removes = nil
		mu.Unlock()
		apply()
		for _, remove := range drop {
			remove()
		}
	}

	removeSuccess := req.OnSuccess(func(r evd.Request) {
		settle(func() {
			val, err := convert[T](reg, r.Result())
			if err != nil {
				fut.reject(err)
				return
			}
			fut.resolve(val)
		})
	})
	removeError := req.OnError(func(r evd.Request) {
		settle(func() { fut.reject(r.Err()) })
	})

	// A listener may have fired during attachment; drop the registrations
	// here if so, otherwise leave them for the settling signal.
	mu.Lock()
	if settled {
		mu.Unlock()
		removeSuccess()
		removeError()
	} else {
		removes = []func(){removeSuccess, removeError}
		mu.Unlock()
	}

	reg.remember(fut, req)
	return fut
}

// convert wraps a raw request result and asserts it to the future's type. A
// nil result converts to the zero value.
func convert[T any](reg *Registry, result interface{}) (T, error) {
	var zero T
	if result == nil {
		return zero, nil
	}
	wrapped := reg.wrapValue(result)
	val, ok := wrapped.(T)
	if !ok {
		return zero, evd.Errorf(evd.ErrCInternal, "unexpected result type %T", wrapped)
	}
	return val, nil
}
