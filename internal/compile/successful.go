package compile

import (
	"context"
	"sync"

	"github.com/roach88/anvil/internal/task"
)

// Analysis is the opaque record of a successful compile that the scheduler
// keeps around for dependents and deduplicated clients. Only the problem
// set is interpreted here: replay surfaces it to late subscribers.
type Analysis struct {
	Problems []Problem
}

// LastSuccessful is the most recent successful output of a project.
//
// The classes directory is shared read-only between concurrent clients;
// the scheduler's refcount is the sole gatekeeper of its deletion.
//
// The populating step is the idempotent, memoized action that makes the
// class files under ClassesDir visible to later readers. It may run zero,
// one, or more times per record; it must have completed before ClassesDir
// can be safely deleted. Result registration replaces it with a composite
// that also tears down the displaced predecessor, which is why access goes
// through Populate/ReplacePopulating rather than a bare field.
type LastSuccessful struct {
	Project          Project
	ClassesDir       string
	PreviousAnalysis *Analysis

	mu         sync.Mutex
	populating *task.Task[task.Unit]
}

// NewLastSuccessful builds a record. A nil populating task means there is
// nothing to populate.
func NewLastSuccessful(project Project, classesDir string, analysis *Analysis, populating *task.Task[task.Unit]) *LastSuccessful {
	return &LastSuccessful{
		Project:          project,
		ClassesDir:       classesDir,
		PreviousAnalysis: analysis,
		populating:       populating,
	}
}

// EmptySuccessful is the placeholder record used before a project has ever
// compiled successfully, or when the recorded output vanished from disk.
// Its populating step is a completed no-op.
func EmptySuccessful(project Project) *LastSuccessful {
	return NewLastSuccessful(project, "", nil, task.Completed(task.Unit{}))
}

// IsEmpty reports whether this record carries no on-disk output.
func (ls *LastSuccessful) IsEmpty() bool {
	return ls.ClassesDir == ""
}

// Populate runs the current populating step to completion on the calling
// goroutine. Memoization makes repeated calls cheap.
func (ls *LastSuccessful) Populate(ctx context.Context) error {
	t := ls.PopulatingTask()
	if t == nil {
		return nil
	}
	_, err := t.Run(ctx)
	return err
}

// PopulatingTask returns the current populating step.
func (ls *LastSuccessful) PopulatingTask() *task.Task[task.Unit] {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.populating
}

// ReplacePopulating swaps in a new populating step. Used by result
// registration to compose predecessor teardown into this record.
func (ls *LastSuccessful) ReplacePopulating(t *task.Task[task.Unit]) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.populating = t
}

// PreviousProblems returns the analysis' problems, or nil when no analysis
// was recorded.
func (ls *LastSuccessful) PreviousProblems() []Problem {
	if ls.PreviousAnalysis == nil {
		return nil
	}
	return ls.PreviousAnalysis.Problems
}
