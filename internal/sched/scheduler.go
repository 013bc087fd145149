// Package sched implements the compilation graph scheduler of the build
// server: dependency-ordered and pipelined traversal of the project DAG,
// deduplication of identical concurrent compilations with event replay,
// and reference-counted lifetime of last-successful output directories.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/graph"
	"github.com/roach88/anvil/internal/task"
)

// Client identifies one connected client and supplies its per-client
// destination for post-deduplication copies.
type Client interface {
	ID() string
	UniqueClassesDirFor(p compile.Project) string
}

// SetupFunc derives a CompileBundle from inputs. Equal inputs must produce
// bundles with equal fingerprints.
type SetupFunc func(ctx context.Context, in compile.BundleInputs) (*compile.Bundle, error)

// InputsFunc supplies the bundle inputs for a project node.
type InputsFunc func(p compile.Project) compile.BundleInputs

// DefaultSetup derives bundles with compile.NewBundle.
func DefaultSetup(_ context.Context, in compile.BundleInputs) (*compile.Bundle, error) {
	return compile.NewBundle(in), nil
}

// Scheduler schedules per-project compilations over a project DAG.
//
// One Scheduler instance owns one State; all cross-client coordination
// (deduplication, refcounts, last-successful records) happens through it.
type Scheduler struct {
	state    *State
	compiler compile.Compiler
	io       compile.DirIO
	pools    *Pools
	logger   *slog.Logger
	tokens   TokenGenerator
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPools overrides the default pools.
func WithPools(p *Pools) Option {
	return func(s *Scheduler) { s.pools = p }
}

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTokenGenerator overrides build token generation (tests).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Scheduler) { s.tokens = g }
}

// New creates a scheduler over the given state, compiler, and I/O layer.
func New(state *State, compiler compile.Compiler, io compile.DirIO, opts ...Option) *Scheduler {
	s := &Scheduler{
		state:    state,
		compiler: compiler,
		io:       io,
		pools:    NewPools(0),
		logger:   slog.Default(),
		tokens:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State exposes the scheduler's state for inspection.
func (s *Scheduler) State() *State {
	return s.state
}

// traversal carries the per-request parameters through one walk.
type traversal struct {
	client   Client
	inputs   InputsFunc
	setup    SetupFunc
	pipeline bool
	token    string
}

// Compile schedules the DAG for one client and waits for the result DAG.
func (s *Scheduler) Compile(ctx context.Context, client Client, dag graph.Dag, inputs InputsFunc, setup SetupFunc, pipeline bool) (*ResultNode, error) {
	return s.Traverse(ctx, client, dag, inputs, setup, pipeline).Await(ctx)
}

// Traverse produces the memoized task that yields the result DAG.
//
// The walk memoizes per input node identity: a shared sub-DAG is built
// once and both parents await the same task. The memo table is local to
// this traversal; cross-client sharing happens in the deduplication
// registry, not here.
func (s *Scheduler) Traverse(ctx context.Context, client Client, dag graph.Dag, inputs InputsFunc, setup SetupFunc, pipeline bool) *task.Task[*ResultNode] {
	if setup == nil {
		setup = DefaultSetup
	}
	tc := &traversal{
		client:   client,
		inputs:   inputs,
		setup:    setup,
		pipeline: pipeline,
		token:    s.tokens.Generate(),
	}

	s.logger.Info("scheduling build",
		"build_token", tc.token,
		"client", client.ID(),
		"pipeline", pipeline,
	)

	memo := make(map[graph.Dag]*task.Task[*ResultNode])

	var walk func(d graph.Dag) *task.Task[*ResultNode]
	walk = func(d graph.Dag) *task.Task[*ResultNode] {
		if t, ok := memo[d]; ok {
			return t
		}

		var t *task.Task[*ResultNode]
		switch n := d.(type) {
		case *graph.Leaf:
			t = s.nodeTask(tc, n.Project, nil)
		case *graph.Parent:
			childTasks := make([]*task.Task[*ResultNode], len(n.Children))
			for i, c := range n.Children {
				childTasks[i] = walk(c)
			}
			t = s.nodeTask(tc, n.Project, childTasks)
		case *graph.Aggregate:
			childTasks := make([]*task.Task[*ResultNode], len(n.Dags))
			for i, c := range n.Dags {
				childTasks[i] = walk(c)
			}
			t = aggregateTask(childTasks)
		default:
			t = task.Failed[*ResultNode](fmt.Errorf("unknown dag node %T", d))
		}

		memo[d] = t
		return t
	}

	return walk(dag)
}

// nodeTask builds the coordinator task for one project node: gather
// children, propagate blocking, then hand off to the deduplication
// registry.
func (s *Scheduler) nodeTask(tc *traversal, p compile.Project, childTasks []*task.Task[*ResultNode]) *task.Task[*ResultNode] {
	return task.New(func(ctx context.Context) (*ResultNode, error) {
		children, err := gatherChildren(ctx, childTasks)
		if err != nil {
			return nil, err
		}

		if names := directFailureNames(children); len(names) > 0 {
			s.logger.Debug("project blocked by failed upstream",
				"build_token", tc.token,
				"project", p.ID(),
				"blocked_on", names,
			)
			return &ResultNode{
				Result: &PartialFailure{
					Project: p,
					Cause:   NewBlockedError(p.Name, names),
					Result:  compile.BlockedResult(names),
				},
				Children: children,
			}, nil
		}

		return s.setupAndDeduplicate(ctx, tc, p, children)
	})
}

// aggregateTask gathers the aggregate's children and wraps them under a
// PartialEmpty parent so the result DAG stays isomorphic to the input.
func aggregateTask(childTasks []*task.Task[*ResultNode]) *task.Task[*ResultNode] {
	return task.New(func(ctx context.Context) (*ResultNode, error) {
		children, err := gatherChildren(ctx, childTasks)
		if err != nil {
			return nil, err
		}
		return &ResultNode{Result: &PartialEmpty{}, Children: children}, nil
	})
}

// gatherChildren awaits every child task concurrently, preserving child
// order in the result slice. Failures are values inside the nodes; an
// error here means the gather itself was cancelled.
func gatherChildren(ctx context.Context, childTasks []*task.Task[*ResultNode]) ([]*ResultNode, error) {
	if len(childTasks) == 0 {
		return nil, nil
	}

	results := make([]*ResultNode, len(childTasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range childTasks {
		i, t := i, t
		g.Go(func() error {
			n, err := t.Await(gctx)
			if err != nil {
				return err
			}
			results[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// invokeCompiler calls the external compiler, converting panics and nil
// results into errors so graph semantics are preserved.
func (s *Scheduler) invokeCompiler(ctx context.Context, in compile.Inputs) (rb *compile.ResultBundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			rb = nil
			err = fmt.Errorf("compiler panicked: %v", r)
		}
	}()

	rb, err = s.compiler.Compile(ctx, in)
	if err == nil && rb == nil {
		err = errors.New("compiler returned no result")
	}
	return rb, err
}

// resultNodeFor translates a compiler result bundle into the node partial
// for project p.
func resultNodeFor(p compile.Project, rb *compile.ResultBundle, children []*ResultNode, ps *PartialSuccess) *ResultNode {
	switch rb.Result.Kind {
	case compile.ResultOk, compile.ResultEmpty:
		return &ResultNode{Result: ps, Children: children}
	case compile.ResultFailed:
		return &ResultNode{
			Result: &PartialFailure{
				Project: p,
				Cause:   NewCompilerError(p.Name, fmt.Errorf("%d problem(s)", len(rb.Result.Problems))),
				Result:  rb.Result,
			},
			Children: children,
		}
	case compile.ResultCancelled:
		return &ResultNode{
			Result: &PartialFailure{
				Project: p,
				Cause:   NewCancelledError(p.Name),
				Result:  rb.Result,
			},
			Children: children,
		}
	case compile.ResultBlocked:
		return &ResultNode{
			Result: &PartialFailure{
				Project: p,
				Cause:   NewBlockedError(p.Name, rb.Result.BlockedOn),
				Result:  rb.Result,
			},
			Children: children,
		}
	default:
		return &ResultNode{
			Result: &PartialFailure{
				Project: p,
				Cause:   fmt.Errorf("unknown result kind %v", rb.Result.Kind),
				Result:  rb.Result,
			},
			Children: children,
		}
	}
}

// faultNode wraps an out-of-band error (setup failure, compiler panic)
// into a failure node so the traversal never propagates exceptions.
func faultNode(p compile.Project, cause error, children []*ResultNode) *ResultNode {
	return &ResultNode{
		Result: &PartialFailure{
			Project: p,
			Cause:   cause,
			Result:  compile.FailedResult(nil),
		},
		Children: children,
	}
}
