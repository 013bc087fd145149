package sched

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pools separates CPU-bound work from blocking work.
//
// Compiler invocations run on the bounded compute pool; the node
// coordinators that walk the graph and await children hold no compute slot.
// Directory copies, deletions, event replay, and waiting on deduplicated
// results run on unbounded goroutines. Deduplicated subscribers must never occupy
// a compute slot while they wait, or the compute pool could deadlock on
// itself.
type Pools struct {
	compute *semaphore.Weighted
}

// NewPools creates pools with the given compute width. Width <= 0 uses
// GOMAXPROCS.
func NewPools(computeWidth int) *Pools {
	if computeWidth <= 0 {
		computeWidth = runtime.GOMAXPROCS(0)
	}
	return &Pools{compute: semaphore.NewWeighted(int64(computeWidth))}
}

// GoCompute runs fn on a new goroutine holding one compute slot. The slot
// is acquired with ctx; if acquisition fails (context done) fn still runs,
// unthrottled, so callers never lose completions.
func (p *Pools) GoCompute(ctx context.Context, fn func()) {
	go func() {
		p.RunCompute(ctx, fn)
	}()
}

// RunCompute runs fn on the calling goroutine holding one compute slot.
// Node coordinators only take a slot for the compilation itself, never
// while waiting on children, so slot holders cannot depend on each other
// and the pool cannot deadlock on itself.
func (p *Pools) RunCompute(ctx context.Context, fn func()) {
	acquired := p.compute.Acquire(ctx, 1) == nil
	if acquired {
		defer p.compute.Release(1)
	}
	fn()
}

// GoIO runs fn on a plain goroutine. I/O work is unbounded.
func (p *Pools) GoIO(fn func()) {
	go fn()
}
