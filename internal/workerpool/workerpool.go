// Package workerpool implements the bounded concurrency gate of spec.md
// §4.D, narrowed (per SPEC_FULL.md §1) to the one call path that is
// genuinely synchronous and externally blocking in a goroutine-based
// implementation: the Auth Adapter. Socket I/O itself needs no pool because
// each connection already runs on its own pair of goroutines.
package workerpool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// DefaultSize mirrors spec.md §4.D's "default 2x hardware parallelism,
// min 1" sizing rule, applied here to concurrent Auth Adapter calls rather
// than to socket callbacks.
func DefaultSize(hardwareParallelism int) int64 {
	n := int64(hardwareParallelism) * 2
	if n < 1 {
		n = 1
	}
	return n
}

// Pool bounds concurrent execution of externally-blocking work (Auth
// Adapter calls) using a weighted semaphore, the same primitive nabbar-golib
// wraps in its semaphore/sem package.
type Pool struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool
}

// New returns a Pool admitting at most size concurrent tasks.
func New(size int64) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Submit blocks until a slot is free or ctx is cancelled, then runs fn
// synchronously on the calling goroutine (each session's read pump already
// supplies the concurrency; the pool only bounds how many may run the
// blocking call at once). It returns ctx.Err() if the wait is cancelled, or
// an error if the pool has been shut down.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("workerpool: submit after shutdown")
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	fn(ctx)
	return nil
}

// Shutdown marks the pool closed to new work and waits for in-flight tasks
// to finish, matching spec.md §4.D's "signals stop, wakes all workers,
// joins them" for the scope this pool covers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inflight.Wait()
}
