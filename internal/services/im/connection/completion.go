package connection

import (
	"context"
	"sync"
)

// Completion reports the outcome of an asynchronous send.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewCompletion returns a pending completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Completed returns a completion that already finished with err.
func Completed(err error) *Completion {
	c := NewCompletion()
	c.Complete(err)
	return c
}

// Async runs fn on its own goroutine and completes with its result.
func Async(fn func() error) *Completion {
	c := NewCompletion()
	go func() {
		c.Complete(fn())
	}()
	return c
}

// Complete records err and releases waiters. Later calls are ignored.
func (c *Completion) Complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the send has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the send error; valid after Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the send finishes or ctx ends.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
