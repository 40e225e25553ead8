// Package worker bounds how many CPU-bound image operations run at once.
//
// Orchestration code calls Call (or Do) and blocks until the operation has
// finished on a worker slot. Group fans independent tasks out and joins them.
// A running operation is never interrupted; the context only governs waiting
// for a free slot and for a join.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Pool is a counting semaphore of worker slots.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with size slots. Non-positive sizes use NumCPU.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}
	return &Pool{slots: slots}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Call runs fn on a worker slot and returns its result.
func Call[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case <-p.slots:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { p.slots <- struct{}{} }()

	return fn()
}

// Do is Call for operations without a result value.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Group runs tasks concurrently and waits for all of them. Unlike errgroup
// it never cancels siblings: every task runs to completion so each one can
// release what it owns.
type Group struct {
	wg   sync.WaitGroup
	once sync.Once
	err  error
}

// Go starts fn in its own goroutine.
func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.once.Do(func() { g.err = err })
		}
	}()
}

// Wait blocks until every task has returned and reports the first error.
func (g *Group) Wait() error {
	g.wg.Wait()
	return g.err
}
