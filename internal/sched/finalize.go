package sched

import (
	"context"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// processResultAtomically walks a completed compilation's result DAG and
// settles the registry for every node in it.
//
// Upstream nodes in the DAG have registry entries of their own; each entry
// is settled at most once (the first walk to reach it wins), so the side
// effects of registration - counter updates, the displaced directory's
// deletion - happen exactly once no matter how many times the memoized
// result task is re-evaluated or how many overlapping walks arrive.
func (s *Scheduler) processResultAtomically(ctx context.Context, entry *RunningCompilation, node *ResultNode) {
	seen := make(map[*ResultNode]bool)

	var walk func(n *ResultNode)
	walk = func(n *ResultNode) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children {
			walk(c)
		}

		switch r := n.Result.(type) {
		case *PartialSuccess:
			f := r.Bundle.Fingerprint
			nodeEntry := entry
			if f != entry.Bundle.Fingerprint {
				// An upstream still running settles through its own entry
				// when it completes; never block this walk on it.
				if !r.Result.Resolved() {
					return
				}
				cur, ok := s.state.running.Get(f)
				if !ok {
					return
				}
				nodeEntry = cur
			}
			s.settleSuccess(ctx, f, nodeEntry, r)
		case *PartialFailure, *PartialFailures:
			// Failures other than this entry's own node were settled by
			// their own entries (blocked nodes never registered).
			if n == node {
				s.unregisterOnError(entry)
			}
		}
	}
	walk(node)
}

// settleSuccess resolves one PartialSuccess: a result bundle without a
// registrable record unregisters like a failure; one with a record swaps
// it in atomically and composes the displaced predecessor's teardown.
func (s *Scheduler) settleSuccess(ctx context.Context, f compile.Fingerprint, entry *RunningCompilation, ps *PartialSuccess) {
	rb, err := ps.Result.Await(ctx)
	if err != nil || rb == nil || rb.Successful == nil || rb.Successful.IsEmpty() {
		s.unregisterOnError(entry)
		return
	}
	s.registerSuccess(ctx, f, entry, rb.Successful)
}

// unregisterOnError removes the entry from the registry and releases its
// hold on the previous output directory so repeated requests retry
// cleanly.
func (s *Scheduler) unregisterOnError(entry *RunningCompilation) {
	if !entry.markFinalized() {
		return
	}

	f := entry.Bundle.Fingerprint
	s.state.running.Compute(f, func(cur *RunningCompilation, exists bool) (*RunningCompilation, bool) {
		if exists && cur != entry {
			return cur, true
		}
		return nil, false
	})

	if entry.HeldDir != "" {
		n := s.state.decrementDir(entry.HeldDir)
		s.logger.Debug("released previous classes directory",
			"dir", entry.HeldDir,
			"count", n,
		)
	}
}

// registerSuccess removes the entry from the registry and installs the new
// last-successful record, all under the fingerprint's exclusion.
//
// The displaced record's counter is decremented; at zero, and when the new
// record lives elsewhere, the predecessor is torn down: its populating
// step runs to completion, then the new record's, then the directory is
// deleted on the I/O pool. The whole sequence becomes the new record's
// populating step, memoized, so it runs at most once and any late reader
// observes a consistent state.
func (s *Scheduler) registerSuccess(ctx context.Context, f compile.Fingerprint, entry *RunningCompilation, newSucc *compile.LastSuccessful) {
	if !entry.markFinalized() {
		return
	}

	s.state.running.Compute(f, func(cur *RunningCompilation, exists bool) (*RunningCompilation, bool) {
		if exists && cur != entry {
			return cur, true
		}

		pid := newSucc.Project.ID()
		s.state.lastSuccessful.Compute(pid, func(prev *compile.LastSuccessful, ok bool) (*compile.LastSuccessful, bool) {
			if !ok || prev == newSucc {
				return newSucc, true
			}

			if !prev.IsEmpty() {
				n := s.state.decrementDir(prev.ClassesDir)
				if n == 0 && prev.ClassesDir != newSucc.ClassesDir {
					s.scheduleDeletion(ctx, prev, newSucc)
				}
			}

			s.logger.Info("registered successful compile",
				"project", pid,
				"dir", newSucc.ClassesDir,
			)
			return newSucc, true
		})

		return nil, false
	})
}

// scheduleDeletion composes the displaced record's teardown into the new
// record's populating step and starts it on the I/O pool.
func (s *Scheduler) scheduleDeletion(ctx context.Context, prev, newSucc *compile.LastSuccessful) {
	origPopulate := newSucc.PopulatingTask()

	composite := task.New(func(ctx context.Context) (task.Unit, error) {
		if err := prev.Populate(ctx); err != nil {
			s.logger.Warn("populating displaced products failed",
				"project", prev.Project.ID(),
				"dir", prev.ClassesDir,
				"error", err,
			)
		}
		if origPopulate != nil {
			if _, err := origPopulate.Run(ctx); err != nil {
				return task.Unit{}, err
			}
		}

		s.logger.Debug("deleting superseded classes directory",
			"project", prev.Project.ID(),
			"dir", prev.ClassesDir,
		)
		if err := s.io.DeleteDir(ctx, prev.ClassesDir); err != nil {
			s.logger.Warn("deleting superseded classes directory failed",
				"dir", prev.ClassesDir,
				"error", err,
			)
			return task.Unit{}, err
		}
		return task.Unit{}, nil
	})

	newSucc.ReplacePopulating(composite)

	detached := context.WithoutCancel(ctx)
	s.pools.GoIO(func() {
		_, _ = composite.Run(detached)
	})
}
