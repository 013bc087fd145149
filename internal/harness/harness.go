// Package harness runs scripted scheduler scenarios for conformance
// testing: a fake compiler with per-project outcomes drives the real
// scheduler, and the resulting event traces and outcomes are captured for
// assertion or golden comparison.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/graph"
	"github.com/roach88/anvil/internal/sched"
	"github.com/roach88/anvil/internal/task"
	"github.com/roach88/anvil/internal/testutil"
)

// ProjectSpec declares one project of a scenario.
type ProjectSpec struct {
	Name      string
	DependsOn []string
}

// Outcome scripts the fake compiler's behavior for one project.
type Outcome struct {
	// Kind is "ok" or "failed". Unscripted projects default to "ok".
	Kind string

	// Problems are the diagnostics reported for a failed compile.
	Problems []string
}

// Scenario is one scripted scheduler run.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string

	// Projects declares the build graph.
	Projects []ProjectSpec

	// Outcomes scripts the compiler per project name.
	Outcomes map[string]Outcome

	// Pipeline selects pipelined scheduling.
	Pipeline bool
}

// TraceEvent is one captured mirror event.
type TraceEvent struct {
	Project string `json:"project"`
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
}

// NodeOutcome is one project's final state in the result DAG.
type NodeOutcome struct {
	Project   string   `json:"project"`
	Outcome   string   `json:"outcome"`
	BlockedOn []string `json:"blocked_on,omitempty"`
}

// Result is a completed scenario run.
type Result struct {
	Node     *sched.ResultNode
	Outcomes []NodeOutcome
	Trace    []TraceEvent
}

// scenarioClient is the harness' fixed client.
type scenarioClient struct {
	base string
}

func (c *scenarioClient) ID() string { return "harness" }

func (c *scenarioClient) UniqueClassesDirFor(p compile.Project) string {
	return filepath.Join(c.base, "clients", "harness", p.Name)
}

// Run executes a scenario against a fresh scheduler instance and captures
// the per-project event traces.
func Run(s *Scenario, workDir string) (*Result, error) {
	nodes := make([]graph.Node, 0, len(s.Projects))
	for _, p := range s.Projects {
		nodes = append(nodes, graph.Node{
			Project:   compile.Project{Name: p.Name},
			DependsOn: p.DependsOn,
		})
	}
	dag, err := graph.Assemble(nodes)
	if err != nil {
		return nil, fmt.Errorf("assemble scenario graph: %w", err)
	}

	client := &scenarioClient{base: workDir}
	deps := make(map[string][]string)
	for _, p := range s.Projects {
		deps[p.Name] = p.DependsOn
	}

	inputs := func(p compile.Project) compile.BundleInputs {
		var classpath []string
		for _, dep := range deps[p.Name] {
			classpath = append(classpath, client.UniqueClassesDirFor(compile.Project{Name: dep}))
		}
		return compile.BundleInputs{
			Project:   p,
			Sources:   []string{p.Name + "/src"},
			Classpath: classpath,
			OutputDir: client.UniqueClassesDirFor(p),
		}
	}

	collector := &traceCollector{}
	var recorders sync.WaitGroup
	setup := func(ctx context.Context, in compile.BundleInputs) (*compile.Bundle, error) {
		b := compile.NewBundle(in)
		sub := b.Mirror.Subscribe()
		recorders.Add(1)
		go func() {
			defer recorders.Done()
			for {
				ev, ok := sub.Next(ctx)
				if !ok {
					return
				}
				collector.add(b.Project, ev)
			}
		}()
		return b, nil
	}

	scheduler := sched.New(
		sched.NewState(),
		&scriptedCompiler{outcomes: s.Outcomes},
		discardIO{},
		sched.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sched.WithTokenGenerator(testutil.NewFixedTokens(s.Name)),
	)

	node, err := scheduler.Compile(context.Background(), client, dag, inputs, setup, s.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("run scenario %s: %w", s.Name, err)
	}

	if err := awaitResults(node); err != nil {
		return nil, err
	}
	recorders.Wait()

	return &Result{
		Node:     node,
		Outcomes: summarize(node),
		Trace:    collector.sorted(),
	}, nil
}

// awaitResults blocks until every success node's compile result has
// settled. Mirrors close asynchronously after that; Run's recorders.Wait
// observes the close.
func awaitResults(node *sched.ResultNode) error {
	for _, ps := range sched.Successes(node) {
		if _, err := ps.Result.Await(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

// summarize flattens the result DAG into per-project outcomes sorted by
// project name.
func summarize(node *sched.ResultNode) []NodeOutcome {
	seen := make(map[*sched.ResultNode]bool)
	var out []NodeOutcome

	var walk func(n *sched.ResultNode)
	walk = func(n *sched.ResultNode) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children {
			walk(c)
		}

		switch r := n.Result.(type) {
		case *sched.PartialSuccess:
			out = append(out, NodeOutcome{Project: r.Bundle.Project.Name, Outcome: outcomeOf(r)})
		case *sched.PartialFailure:
			o := NodeOutcome{Project: r.Project.Name, Outcome: "failed"}
			if r.Result.Kind == compile.ResultBlocked {
				o.Outcome = "blocked"
				o.BlockedOn = r.Result.BlockedOn
			}
			out = append(out, o)
		}
	}
	walk(node)

	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

func outcomeOf(ps *sched.PartialSuccess) string {
	rb, err := ps.Result.Await(context.Background())
	if err != nil || rb == nil {
		return "failed"
	}
	return rb.Result.Kind.String()
}

// traceCollector accumulates mirrored events across projects.
type traceCollector struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (c *traceCollector) add(p compile.Project, ev compile.Event) {
	te := TraceEvent{Project: p.Name, Seq: ev.Seq}
	switch {
	case ev.Reporter != nil:
		te.Kind = ev.Reporter.Kind.String()
		if ev.Reporter.Kind == compile.ActionProblem {
			te.Detail = ev.Reporter.Problem.Message
		}
	case ev.Logger != nil:
		te.Kind = "log-" + ev.Logger.Level.String()
		te.Detail = ev.Logger.Message
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, te)
}

// sorted returns events ordered by project, then emission seq. The order
// is deterministic for a scripted compiler regardless of scheduling
// interleavings, because seqs are stamped per project bundle.
func (c *traceCollector) sorted() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TraceEvent, len(c.events))
	copy(out, c.events)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// scriptedCompiler emits a fixed event sequence per project and returns
// the scripted outcome.
type scriptedCompiler struct {
	outcomes map[string]Outcome
}

func (c *scriptedCompiler) Compile(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
	b := in.Bundle
	p := b.Project
	outcome, scripted := c.outcomes[p.Name]
	if !scripted {
		outcome = Outcome{Kind: "ok"}
	}

	b.Reporter.ReportStartCompilation(b.LastSuccessful.PreviousProblems())

	if outcome.Kind == "failed" {
		problems := make([]compile.Problem, 0, len(outcome.Problems))
		for _, msg := range outcome.Problems {
			problem := compile.Problem{Severity: compile.SeverityError, Message: msg}
			problems = append(problems, problem)
			b.Reporter.ReportProblem(problem)
		}
		b.Reporter.ReportEndCompilation(compile.ExitError)

		if in.SignaturePromise != nil {
			in.SignaturePromise.Fail(fmt.Errorf("%s: compilation failed", p.Name))
		}
		if in.JavaCompletedPromise != nil && !in.JavaCompletedPromise.Resolved() {
			in.JavaCompletedPromise.Fail(fmt.Errorf("%s: compilation failed", p.Name))
		}
		return &compile.ResultBundle{Result: compile.FailedResult(problems)}, nil
	}

	b.Reporter.ReportStartIncrementalCycle(b.Inputs.Sources, []string{b.Inputs.OutputDir})
	b.Reporter.ReportEndIncrementalCycle(0, true)
	b.Reporter.ReportEndCompilation(compile.ExitOK)

	if in.SignaturePromise != nil {
		in.SignaturePromise.Complete(compile.NewSignatureStore(
			[]compile.Signature{{Name: p.Name + "#sig"}}))
	}
	if in.JavaCompletedPromise != nil && !in.JavaCompletedPromise.Resolved() {
		in.JavaCompletedPromise.Complete(task.Unit{})
	}

	dir := b.Inputs.OutputDir
	return &compile.ResultBundle{
		Result: compile.OkResult(compile.Products{
			NewClassesDir: dir,
			Signatures:    []compile.Signature{{Name: p.Name + "#sig"}},
		}),
		Successful: compile.NewLastSuccessful(p, dir, nil, task.Completed(task.Unit{})),
	}, nil
}

// discardIO satisfies the I/O collaborator without touching disk.
type discardIO struct{}

func (discardIO) CopyDir(context.Context, string, string) error { return nil }
func (discardIO) DeleteDir(context.Context, string) error       { return nil }
func (discardIO) Exists(string) bool                            { return true }
