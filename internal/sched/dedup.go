package sched

import (
	"context"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// setupAndDeduplicate derives the bundle for p, then either starts the
// unique compilation for its fingerprint or joins the one already running.
//
// The registry insert is a compute-if-absent: the factory runs exactly
// once under the fingerprint's exclusion. Only that unique execution bumps
// the previous output directory's refcount - deletion gating relies on at
// most one live holder per fingerprint, so subscribers never bump.
func (s *Scheduler) setupAndDeduplicate(ctx context.Context, tc *traversal, p compile.Project, children []*ResultNode) (*ResultNode, error) {
	in := tc.inputs(p)
	bundle, err := tc.setup(ctx, in)
	if err != nil {
		return faultNode(p, err, children), nil
	}

	f := bundle.Fingerprint
	var created *RunningCompilation

	rc, _ := s.state.running.Compute(f, func(cur *RunningCompilation, exists bool) (*RunningCompilation, bool) {
		if exists {
			return cur, true
		}

		// Look up or install the most recent successful record, holding a
		// reference to its directory for the lifetime of this entry.
		prev, _ := s.state.lastSuccessful.Compute(p.ID(), func(cur *compile.LastSuccessful, ok bool) (*compile.LastSuccessful, bool) {
			if ok {
				return cur, true
			}
			return compile.EmptySuccessful(p), true
		})

		heldDir := ""
		if !prev.IsEmpty() {
			n := s.state.incrementDir(prev.ClassesDir)
			heldDir = prev.ClassesDir
			s.logger.Debug("holding previous classes directory",
				"build_token", tc.token,
				"project", p.ID(),
				"dir", heldDir,
				"count", n,
			)
		}

		// A record whose directory vanished from disk, or a previous
		// result known to be empty, is replaced by a fresh empty record.
		// The counter stays untouched: the hold above is released on
		// finalization either way.
		chosen := prev
		if prev.IsEmpty() || in.PreviousWasEmpty || !s.io.Exists(prev.ClassesDir) {
			chosen = compile.EmptySuccessful(p)
		}

		entry := &RunningCompilation{
			Bundle:                 bundle.WithLastSuccessful(chosen),
			PreviousLastSuccessful: prev,
			HeldDir:                heldDir,
			Token:                  tc.token,
		}
		entry.Node = s.newCompileTask(tc, p, entry, children)
		created = entry
		return entry, true
	})

	if created == rc && created != nil {
		s.logger.Debug("starting unique compilation",
			"build_token", tc.token,
			"project", p.ID(),
			"fingerprint", f.Short(),
		)
		return rc.Node.Await(ctx)
	}

	return s.joinRunning(ctx, tc, p, in, rc, children)
}

// newCompileTask builds the memoized task executing the unique compilation
// for one registry entry. On finish the event mirror is closed and the
// result is registered atomically; both are arranged here so that every
// path through the compile observes them.
func (s *Scheduler) newCompileTask(tc *traversal, p compile.Project, entry *RunningCompilation, children []*ResultNode) *task.Task[*ResultNode] {
	return task.New(func(ctx context.Context) (*ResultNode, error) {
		// The compilation must outlive any single awaiting client.
		runCtx := context.WithoutCancel(ctx)

		var node *ResultNode
		if tc.pipeline {
			node = s.pipelinedNode(runCtx, tc, p, entry.Bundle, children)
		} else {
			node = s.sequentialNode(runCtx, tc, p, entry.Bundle, children)
		}

		s.afterCompile(runCtx, entry, node)
		return node, nil
	})
}

// afterCompile arranges mirror close and atomic result registration once
// the compilation's result (including any background I/O) is known. For a
// pipelined success that happens asynchronously: the node already exists
// while code generation is still running.
func (s *Scheduler) afterCompile(ctx context.Context, entry *RunningCompilation, node *ResultNode) {
	ps, ok := node.Result.(*PartialSuccess)
	if !ok {
		entry.Bundle.Mirror.Close()
		s.processResultAtomically(ctx, entry, node)
		return
	}

	s.pools.GoIO(func() {
		rb, _ := ps.Result.Await(ctx)
		if rb != nil && rb.BackgroundIO != nil {
			_, _ = rb.BackgroundIO.Await(ctx)
		}
		entry.Bundle.Mirror.Close()
		s.processResultAtomically(ctx, entry, node)
	})
}

// joinRunning subscribes this client to an already-running compilation:
// replays its events, awaits the shared result, and copies successful
// outputs into the client's own classes directories.
//
// Everything here waits on I/O goroutines; a subscriber never occupies a
// compute slot.
func (s *Scheduler) joinRunning(ctx context.Context, tc *traversal, p compile.Project, in compile.BundleInputs, rc *RunningCompilation, children []*ResultNode) (*ResultNode, error) {
	s.logger.Info("deduplicating compilation",
		"build_token", tc.token,
		"project", p.ID(),
		"origin_token", rc.Token,
	)

	reporter := in.Reporter
	if reporter == nil {
		reporter = compile.NoopReporter{}
	}
	logger := in.Logger
	if logger == nil {
		logger = compile.NoopLogger{}
	}

	sub := rc.Bundle.Mirror.Subscribe()
	replayDone := make(chan struct{})
	s.pools.GoIO(func() {
		defer close(replayDone)

		// Surface the previous successful compile's diagnostics first so
		// this client sees the same output a fresh compile would produce.
		for _, problem := range rc.PreviousLastSuccessful.PreviousProblems() {
			reporter.ReportProblem(problem)
		}

		for {
			ev, ok := sub.Next(ctx)
			if !ok {
				return
			}
			ev.Apply(reporter, logger)
		}
	})

	node, err := rc.Node.Await(ctx)
	if err != nil {
		sub.Cancel()
		return nil, err
	}

	cancelled := false
	var copyErr error
	for _, ps := range Successes(node) {
		rb, rbErr := ps.Result.Await(ctx)
		if rbErr != nil {
			sub.Cancel()
			return nil, rbErr
		}
		if rb.Result.Kind == compile.ResultCancelled {
			cancelled = true
			continue
		}
		if rb.Successful == nil || rb.Successful.IsEmpty() {
			continue
		}

		src := rb.Successful.ClassesDir
		dst := tc.client.UniqueClassesDirFor(ps.Bundle.Project)
		if err := rb.Successful.Populate(ctx); err != nil {
			copyErr = err
		} else if err := s.copyOnIO(ctx, src, dst); err != nil {
			copyErr = err
		}
		if copyErr != nil {
			// Affects this subscriber only; the originating compilation
			// is untouched.
			dedupErr := NewDedupIOError(ps.Bundle.Project.Name, copyErr)
			logger.Error(dedupErr.Error())
			s.logger.Warn("post-deduplication copy failed",
				"build_token", tc.token,
				"project", ps.Bundle.Project.ID(),
				"error", copyErr,
			)
			copyErr = nil
		}
	}

	if cancelled {
		sub.Cancel()
	}

	select {
	case <-replayDone:
	case <-ctx.Done():
		sub.Cancel()
	}

	return node, nil
}

// copyOnIO runs one directory copy on the I/O pool and waits for it.
func (s *Scheduler) copyOnIO(ctx context.Context, src, dst string) error {
	done := make(chan error, 1)
	s.pools.GoIO(func() {
		done <- s.io.CopyDir(ctx, src, dst)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
