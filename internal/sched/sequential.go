package sched

import (
	"context"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// sequentialNode runs one project's compilation after all of its
// dependencies have fully completed.
//
// The java gating machinery is inert in this mode: the trigger is a
// constant continue and the completion promise is pre-resolved.
func (s *Scheduler) sequentialNode(ctx context.Context, tc *traversal, p compile.Project, b *compile.Bundle, children []*ResultNode) *ResultNode {
	depResults, depProducts, err := s.collectDependentOutputs(ctx, children)
	if err != nil {
		return faultNode(p, err, children)
	}

	in := compile.Inputs{
		Bundle:               b,
		Store:                compile.EmptyStore(),
		JavaCompletedPromise: task.CompletedPromise(task.Unit{}),
		TransitiveJavaSignal: task.Completed(compile.ContinueSignal()),
		SeparateJavaAndScala: b.Inputs.SeparateJavaAndScala,
		DependentResults:     depResults,
		DependentProducts:    depProducts,
	}

	// The compilation itself is CPU-bound and takes a compute slot; the
	// surrounding coordination (child gathers, registry work) does not.
	var rb *compile.ResultBundle
	var compileErr error
	s.pools.RunCompute(ctx, func() {
		rb, compileErr = s.invokeCompiler(ctx, in)
	})
	if compileErr != nil {
		return faultNode(p, NewCompilerError(p.Name, compileErr), children)
	}

	ps := &PartialSuccess{
		Bundle:        b,
		Store:         compile.NewSignatureStore(rb.Result.Products.Signatures),
		JavaCompleted: task.CompletedPromise(task.Unit{}),
		JavaTrigger:   task.Completed(compile.ContinueSignal()),
		Result:        task.Completed(rb),
	}
	return resultNodeFor(p, rb, children, ps)
}

// collectDependentOutputs awaits the completed result bundles of the
// upstream successes and assembles the maps handed to the compiler:
//
//   - dependentProducts: the new classes directory of each direct child's
//     compile, keyed by that directory;
//   - dependentResults: every transitive success' registrable record,
//     keyed by both its new and read-only classes directories.
func (s *Scheduler) collectDependentOutputs(ctx context.Context, children []*ResultNode) (map[string]*compile.LastSuccessful, map[string]compile.Products, error) {
	if len(children) == 0 {
		return nil, nil, nil
	}

	depResults := make(map[string]*compile.LastSuccessful)
	depProducts := make(map[string]compile.Products)

	direct := make(map[*PartialSuccess]bool)
	for _, c := range children {
		if ps, ok := c.Result.(*PartialSuccess); ok {
			direct[ps] = true
		}
	}

	for _, c := range children {
		for _, ps := range Successes(c) {
			rb, err := ps.Result.Await(ctx)
			if err != nil {
				return nil, nil, err
			}

			if direct[ps] && rb.Result.Kind == compile.ResultOk {
				depProducts[rb.Result.Products.NewClassesDir] = rb.Result.Products
			}

			if rb.Successful != nil && !rb.Successful.IsEmpty() {
				depResults[rb.Successful.ClassesDir] = rb.Successful
				if ro := rb.Result.Products.ReadOnlyClassesDir; ro != "" {
					depResults[ro] = rb.Successful
				}
			}
		}
	}

	return depResults, depProducts, nil
}
