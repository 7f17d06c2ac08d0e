// Package sandbox hosts the shared execution pool.
// Both the synchronous HTTP paths and the queue consumer draw slots from
// the same pool, so container concurrency is bounded service-wide.
package sandbox

import (
	"context"
	"time"

	appErr "codemate/pkg/errors"
)

// Pool bounds how many sandbox executions may run concurrently.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool with the given number of slots (minimum 1).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Acquire blocks for a slot until wait elapses or ctx is done.
// A zero wait blocks on ctx alone.
func (p *Pool) Acquire(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		select {
		case p.sem <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

// TryAcquire grabs a slot without waiting.
func (p *Pool) TryAcquire() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot to the pool. Releasing an empty pool is a no-op.
func (p *Pool) Release() {
	select {
	case <-p.sem:
	default:
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.sem)
}
