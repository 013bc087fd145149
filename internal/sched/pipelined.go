package sched

import (
	"context"
	"sort"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// pipelinedNode starts one project's compilation as soon as the direct
// upstream signatures are available.
//
// The compiler receives a fresh signature promise and java-completion
// promise. It completes the signature promise when typechecking finishes
// and the completion promise when Java codegen ends; the compile itself is
// forked onto the compute pool and this node returns at signature time,
// while code generation continues in the background.
func (s *Scheduler) pipelinedNode(ctx context.Context, tc *traversal, p compile.Project, b *compile.Bundle, children []*ResultNode) *ResultNode {
	store, err := s.assembleDependencyStore(b, children)
	if err != nil {
		return faultNode(p, err, children)
	}

	sigPromise := task.NewPromise[compile.SignatureStore]()
	javaDone := task.NewPromise[task.Unit]()
	trigger := aggregateTriggers(children)

	in := compile.Inputs{
		Bundle:               b,
		Store:                store,
		SignaturePromise:     sigPromise,
		JavaCompletedPromise: javaDone,
		TransitiveJavaSignal: trigger,
		SeparateJavaAndScala: b.Inputs.SeparateJavaAndScala,
	}

	resultTask := task.New(func(ctx context.Context) (*compile.ResultBundle, error) {
		rb, err := s.invokeCompiler(ctx, in)
		settlePromises(p, rb, err, sigPromise, javaDone)
		return rb, err
	})
	s.pools.GoCompute(ctx, func() {
		_, _ = resultTask.Run(ctx)
	})

	sigs, err := sigPromise.Await(ctx)
	if err != nil {
		// The upstream blew up before emitting signatures; propagation is
		// identical to a sequential failure.
		rb, rbErr := resultTask.Await(ctx)
		if rbErr == nil && rb != nil {
			ps := failedPartialSuccess(b, rb)
			return resultNodeFor(p, rb, children, ps)
		}
		return faultNode(p, NewSignatureError(p.Name, err), children)
	}

	javaTrigger := task.New(func(ctx context.Context) (compile.JavaSignal, error) {
		if _, err := javaDone.Await(ctx); err != nil {
			return compile.FailFastSignal(p.Name), nil
		}
		return compile.ContinueSignal(), nil
	})

	ps := &PartialSuccess{
		Bundle:        b,
		Store:         sigs,
		JavaCompleted: javaDone,
		JavaTrigger:   javaTrigger,
		Result:        resultTask,
	}
	return &ResultNode{Result: ps, Children: children}
}

// settlePromises guarantees both pipelining promises resolve even when the
// compiler neglected them or failed outright.
func settlePromises(p compile.Project, rb *compile.ResultBundle, err error, sigPromise *task.Promise[compile.SignatureStore], javaDone *task.Promise[task.Unit]) {
	switch {
	case err != nil:
		fault := NewCompilerError(p.Name, err)
		sigPromise.Fail(fault)
		javaDone.Fail(fault)
	case rb.Result.Kind == compile.ResultOk, rb.Result.Kind == compile.ResultEmpty:
		sigPromise.Complete(compile.NewSignatureStore(rb.Result.Products.Signatures))
		javaDone.Complete(task.Unit{})
	default:
		fault := NewCompilerError(p.Name, NewBlockedError(p.Name, rb.Result.BlockedOn))
		if rb.Result.Kind == compile.ResultCancelled {
			fault = NewCancelledError(p.Name)
		}
		sigPromise.Fail(fault)
		javaDone.Fail(fault)
	}
}

// failedPartialSuccess wraps a completed non-success bundle so that
// resultNodeFor can translate it uniformly.
func failedPartialSuccess(b *compile.Bundle, rb *compile.ResultBundle) *PartialSuccess {
	return &PartialSuccess{
		Bundle:        b,
		Store:         compile.EmptyStore(),
		JavaCompleted: task.CompletedPromise(task.Unit{}),
		JavaTrigger:   task.Completed(compile.ContinueSignal()),
		Result:        task.Completed(rb),
	}
}

// assembleDependencyStore concatenates the dependent-facing signatures of
// the direct upstream successes in classpath order: each upstream's output
// directory is located on this project's raw classpath and stores merge by
// ascending classpath index. Ties are impossible because classpath entries
// are distinct.
func (s *Scheduler) assembleDependencyStore(b *compile.Bundle, children []*ResultNode) (compile.SignatureStore, error) {
	type indexed struct {
		idx   int
		store compile.SignatureStore
	}

	classpathIndex := make(map[string]int, len(b.Inputs.Classpath))
	for i, entry := range b.Inputs.Classpath {
		classpathIndex[entry] = i
	}

	var entries []indexed
	for _, c := range children {
		ps, ok := c.Result.(*PartialSuccess)
		if !ok {
			continue
		}
		outDir := ps.Bundle.Inputs.OutputDir
		idx, onPath := classpathIndex[outDir]
		if !onPath {
			// An upstream not on the classpath contributes nothing to this
			// project's compilation.
			continue
		}
		entries = append(entries, indexed{idx: idx, store: ps.Store})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	store := compile.EmptyStore()
	for _, e := range entries {
		store = store.Concat(e.store)
	}
	return store, nil
}

// aggregateTriggers merges the java triggers of the direct upstream
// successes. With no upstream the result is a constant continue.
func aggregateTriggers(children []*ResultNode) *task.Task[compile.JavaSignal] {
	var triggers []*task.Task[compile.JavaSignal]
	for _, c := range children {
		if ps, ok := c.Result.(*PartialSuccess); ok && ps.JavaTrigger != nil {
			triggers = append(triggers, ps.JavaTrigger)
		}
	}
	if len(triggers) == 0 {
		return task.Completed(compile.ContinueSignal())
	}

	return task.New(func(ctx context.Context) (compile.JavaSignal, error) {
		signal := compile.ContinueSignal()
		for _, t := range triggers {
			upstream, err := t.Await(ctx)
			if err != nil {
				return compile.ContinueSignal(), err
			}
			signal = signal.Merge(upstream)
		}
		return signal, nil
	})
}
