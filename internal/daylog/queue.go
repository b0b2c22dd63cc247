package daylog

import (
	"context"
	"sync"
)

// Pending is the completion handle of a background mutation. Callers may
// ignore it; the work still runs to completion.
type Pending struct {
	// Key is the entry key the mutation applies to.
	Key string

	done chan struct{}
	err  error
}

func newPending(key string) *Pending {
	return &Pending{Key: key, done: make(chan struct{})}
}

func (p *Pending) finish(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the mutation and its side effects have finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the mutation finishes or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the outcome, or nil while still running.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// taskQueue runs tasks in the background with at most cap(sem) at once.
type taskQueue struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newTaskQueue(workers int) *taskQueue {
	return &taskQueue{sem: make(chan struct{}, workers)}
}

// submit schedules fn and reports false if the queue is closed.
func (q *taskQueue) submit(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.sem <- struct{}{}
		defer func() { <-q.sem }()
		fn()
	}()
	return true
}

// close stops accepting tasks and waits for the submitted ones to finish.
func (q *taskQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
