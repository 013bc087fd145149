package sched

import (
	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// Partial tags the per-node outcome of a traversal.
type Partial interface {
	partial()
}

// PartialEmpty is the placeholder result of an aggregate wrapper node.
type PartialEmpty struct{}

// PartialSuccess is a compilation that is proceeding or done.
//
// In sequential mode Result is already resolved when the node is built; in
// pipelined mode the node exists as soon as upstream signatures are
// available while Result is still running.
type PartialSuccess struct {
	// Bundle is the compilation context, shared by ownership with the
	// running compilation; the bundle never references this node back.
	Bundle *compile.Bundle

	// Store holds this project's dependent-facing signatures for
	// pipelined downstream assembly.
	Store compile.SignatureStore

	// JavaCompleted resolves when this project's Java codegen finished.
	JavaCompleted *task.Promise[task.Unit]

	// JavaTrigger is what a downstream consults to decide whether to
	// proceed with its own Java phase.
	JavaTrigger *task.Task[compile.JavaSignal]

	// Result yields the compiler's result bundle.
	Result *task.Task[*compile.ResultBundle]
}

// PartialFailure is a failed or blocked node.
type PartialFailure struct {
	Project compile.Project
	Cause   error
	Result  compile.Result
}

// PartialFailures aggregates several failures under one node.
type PartialFailures struct {
	Failures []*PartialFailure
}

func (*PartialEmpty) partial()    {}
func (*PartialSuccess) partial()  {}
func (*PartialFailure) partial()  {}
func (*PartialFailures) partial() {}

// ResultNode is one node of the result DAG. The result DAG is isomorphic
// to the input DAG: leaves have no children, parents keep their children,
// and aggregates become a parent with a PartialEmpty result.
type ResultNode struct {
	Result   Partial
	Children []*ResultNode
}

// BlockedBy returns the project blocking evaluation iff the root of the
// result DAG is a failure or contains failures, nil otherwise.
//
// Aggregate (PartialEmpty) roots are walked left to right; the first
// blocked child wins.
func BlockedBy(n *ResultNode) *compile.Project {
	if n == nil {
		return nil
	}
	switch r := n.Result.(type) {
	case *PartialEmpty:
		return blockedFromResults(n.Children)
	case *PartialSuccess:
		return nil
	case *PartialFailure:
		p := r.Project
		return &p
	case *PartialFailures:
		if len(r.Failures) == 0 {
			return nil
		}
		p := r.Failures[0].Project
		return &p
	default:
		return nil
	}
}

// blockedFromResults scans children left to right and recurses on the
// remainder of the list until a blocked child is found.
func blockedFromResults(results []*ResultNode) *compile.Project {
	if len(results) == 0 {
		return nil
	}
	if p := BlockedBy(results[0]); p != nil {
		return p
	}
	return blockedFromResults(results[1:])
}

// Successes collects every PartialSuccess in the DAG, dependencies first,
// visiting each shared node once.
func Successes(n *ResultNode) []*PartialSuccess {
	seen := make(map[*ResultNode]bool)
	var out []*PartialSuccess

	var walk func(*ResultNode)
	walk = func(node *ResultNode) {
		if node == nil || seen[node] {
			return
		}
		seen[node] = true
		for _, c := range node.Children {
			walk(c)
		}
		if s, ok := node.Result.(*PartialSuccess); ok {
			out = append(out, s)
		}
	}
	walk(n)
	return out
}

// directFailureNames returns the names of direct children whose roots are
// failures, in child order.
func directFailureNames(children []*ResultNode) []string {
	var names []string
	for _, c := range children {
		if p := BlockedBy(c); p != nil {
			names = append(names, p.Name)
		}
	}
	return names
}
