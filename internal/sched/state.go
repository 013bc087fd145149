package sched

import (
	"sync/atomic"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// RunningCompilation is the registry entry for one in-flight compilation.
//
// It enters the registry on the first request for a fingerprint and leaves
// exactly when its memoized traversal task has been finalized.
type RunningCompilation struct {
	// Bundle is the producing bundle, whose mirror late subscribers
	// replay.
	Bundle *compile.Bundle

	// PreviousLastSuccessful is the record installed when the entry was
	// created; subscribers reconstruct previous-problem diagnostics from
	// its analysis.
	PreviousLastSuccessful *compile.LastSuccessful

	// HeldDir is the classes directory whose counter was incremented when
	// this entry was created. Empty when the previous record had no
	// directory; exactly this directory is released on finalization.
	HeldDir string

	// Token correlates the entry with the originating client request.
	Token string

	// Node yields the memoized per-node result.
	Node *task.Task[*ResultNode]

	finalized atomic.Bool
}

// markFinalized flags the entry as processed so that result registration
// runs its side effects at most once per entry. Returns true on the first
// call.
func (rc *RunningCompilation) markFinalized() bool {
	return rc.finalized.CompareAndSwap(false, true)
}

// State is the process-wide mutable state of one scheduler instance:
// the three maps of §shared-resources, each with per-key atomicity.
// Tests construct fresh instances; nothing here is package-global.
type State struct {
	running        *keyedMap[compile.Fingerprint, *RunningCompilation]
	lastSuccessful *keyedMap[string, *compile.LastSuccessful]
	usingDirs      *keyedMap[string, int]
}

// NewState creates empty scheduler state.
func NewState() *State {
	return &State{
		running:        newKeyedMap[compile.Fingerprint, *RunningCompilation](),
		lastSuccessful: newKeyedMap[string, *compile.LastSuccessful](),
		usingDirs:      newKeyedMap[string, int](),
	}
}

// LastSuccessfulFor returns the current record for a project, if any.
func (s *State) LastSuccessfulFor(p compile.Project) (*compile.LastSuccessful, bool) {
	return s.lastSuccessful.Get(p.ID())
}

// RegisterLastSuccessful installs a record directly. Used by callers that
// warm state from a previous server run, and by tests.
func (s *State) RegisterLastSuccessful(ls *compile.LastSuccessful) {
	s.lastSuccessful.Compute(ls.Project.ID(), func(_ *compile.LastSuccessful, _ bool) (*compile.LastSuccessful, bool) {
		return ls, true
	})
}

// DirCount returns the live-holder count for a classes directory.
func (s *State) DirCount(dir string) int {
	n, _ := s.usingDirs.Get(dir)
	return n
}

// RunningCount returns the number of in-flight registry entries.
func (s *State) RunningCount() int {
	return s.running.Len()
}

// incrementDir bumps the holder count for dir, creating it at 1.
func (s *State) incrementDir(dir string) int {
	n, _ := s.usingDirs.Compute(dir, func(cur int, exists bool) (int, bool) {
		if !exists {
			return 1, true
		}
		return cur + 1, true
	})
	return n
}

// decrementDir releases one hold on dir, flooring at zero and removing
// the counter when it reaches zero.
func (s *State) decrementDir(dir string) int {
	n, _ := s.usingDirs.Compute(dir, func(cur int, exists bool) (int, bool) {
		if !exists || cur <= 1 {
			return 0, false
		}
		return cur - 1, true
	})
	return n
}
