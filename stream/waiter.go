package stream

import (
	"context"
	"sync"
)

// Waiter is a one-shot result shared by every caller awaiting the next
// resolution of a routing key.
type Waiter struct {
	done  chan struct{}
	once  sync.Once
	value interface{}
	err   error
}

func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

func (w *Waiter) resolve(v interface{}) bool {
	resolved := false
	w.once.Do(func() {
		w.value = v
		close(w.done)
		resolved = true
	})
	return resolved
}

func (w *Waiter) reject(err error) bool {
	rejected := false
	w.once.Do(func() {
		w.err = err
		close(w.done)
		rejected = true
	})
	return rejected
}

func (w *Waiter) Done() <-chan struct{} { return w.done }

func (w *Waiter) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-w.done:
		return w.value, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
