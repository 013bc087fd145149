package sched

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// quietLogger keeps test output readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClient is a client with a fixed per-client classes area.
type testClient struct {
	id   string
	base string
}

func (c *testClient) ID() string { return c.id }

func (c *testClient) UniqueClassesDirFor(p compile.Project) string {
	return filepath.Join(c.base, c.id, p.Name)
}

// fakeIO records directory operations. Every path exists unless listed as
// missing.
type fakeIO struct {
	mu       sync.Mutex
	copies   [][2]string
	deletes  []string
	missing  map[string]bool
	copyErr  error
	onDelete func(path string)
}

func newFakeIO() *fakeIO {
	return &fakeIO{missing: make(map[string]bool)}
}

func (f *fakeIO) CopyDir(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies = append(f.copies, [2]string{src, dst})
	return nil
}

func (f *fakeIO) DeleteDir(_ context.Context, path string) error {
	f.mu.Lock()
	hook := f.onDelete
	f.deletes = append(f.deletes, path)
	f.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	return nil
}

func (f *fakeIO) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[path]
}

func (f *fakeIO) copiesTo(dst string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.copies {
		if c[1] == dst {
			n++
		}
	}
	return n
}

func (f *fakeIO) deleteCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.deletes {
		if d == path {
			n++
		}
	}
	return n
}

// fakeCompiler scripts per-project behavior and counts invocations.
type fakeCompiler struct {
	mu     sync.Mutex
	calls  map[string]int
	script map[string]func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error)
}

func newFakeCompiler() *fakeCompiler {
	return &fakeCompiler{
		calls:  make(map[string]int),
		script: make(map[string]func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error)),
	}
}

func (f *fakeCompiler) on(project string, fn func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error)) {
	f.script[project] = fn
}

func (f *fakeCompiler) callCount(project string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[project]
}

func (f *fakeCompiler) Compile(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
	name := in.Bundle.Project.Name

	f.mu.Lock()
	f.calls[name]++
	fn := f.script[name]
	f.mu.Unlock()

	if fn == nil {
		return okBundle(in, ""), nil
	}
	return fn(ctx, in)
}

// okBundle produces a successful result writing to the bundle's output
// directory (or dir when given), with a registrable record.
func okBundle(in compile.Inputs, dir string) *compile.ResultBundle {
	p := in.Bundle.Project
	if dir == "" {
		dir = in.Bundle.Inputs.OutputDir
	}
	return &compile.ResultBundle{
		Result: compile.OkResult(compile.Products{
			NewClassesDir: dir,
			Signatures:    []compile.Signature{{Name: p.Name + "#sig"}},
		}),
		Successful: compile.NewLastSuccessful(p, dir, nil, task.Completed(task.Unit{})),
	}
}

// okWithDelay scripts a plain successful compile that reports start/end
// and takes d to finish.
func okWithDelay(d time.Duration) func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
	return func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
		b := in.Bundle
		b.Reporter.ReportStartCompilation(b.LastSuccessful.PreviousProblems())
		b.Reporter.ReportStartIncrementalCycle(b.Inputs.Sources, []string{b.Inputs.OutputDir})
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				b.Reporter.ReportCancelled()
				return &compile.ResultBundle{Result: compile.CancelledResult()}, nil
			}
		}
		b.Reporter.ReportEndCompilation(compile.ExitOK)
		return okBundle(in, ""), nil
	}
}

// failWith scripts a failing compile with one diagnostic.
func failWith(msg string) func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
	return func(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
		b := in.Bundle
		problem := compile.Problem{Severity: compile.SeverityError, Message: msg}
		b.Reporter.ReportStartCompilation(nil)
		b.Reporter.ReportProblem(problem)
		b.Reporter.ReportEndCompilation(compile.ExitError)
		return &compile.ResultBundle{
			Result: compile.FailedResult([]compile.Problem{problem}),
		}, nil
	}
}

// orderedReporter records reporter calls in order, thread-safe.
type orderedReporter struct {
	mu    sync.Mutex
	calls []string
}

func (r *orderedReporter) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *orderedReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *orderedReporter) ReportStartCompilation([]compile.Problem) { r.add("start-compilation") }
func (r *orderedReporter) ReportStartIncrementalCycle(s, d []string) {
	r.add("start-incremental-cycle")
}
func (r *orderedReporter) ReportProblem(p compile.Problem)           { r.add("problem:" + p.Message) }
func (r *orderedReporter) PublishDiagnosticsSummary(e, w int64)      { r.add("diagnostics-summary") }
func (r *orderedReporter) ReportNextPhase(phase string)              { r.add("next-phase:" + phase) }
func (r *orderedReporter) ReportProgress(c, t int64)                 { r.add("progress") }
func (r *orderedReporter) ReportEndIncrementalCycle(ms int64, ok bool) {
	r.add("end-incremental-cycle")
}
func (r *orderedReporter) ReportCancelled()                     { r.add("cancelled") }
func (r *orderedReporter) ReportEndCompilation(compile.ExitCode) { r.add("end-compilation") }

// inputsFor builds a per-client InputsFunc over shared project settings so
// fingerprints match across clients while reporters and output dirs stay
// per-client.
func inputsFor(client *testClient, reporter compile.Reporter, deps map[string][]string) InputsFunc {
	return func(p compile.Project) compile.BundleInputs {
		var classpath []string
		for _, dep := range deps[p.Name] {
			classpath = append(classpath, client.UniqueClassesDirFor(compile.Project{Name: dep}))
		}
		return compile.BundleInputs{
			Project:   p,
			Sources:   []string{p.Name + "/src"},
			Classpath: classpath,
			OutputDir: client.UniqueClassesDirFor(p),
			Reporter:  reporter,
		}
	}
}

func newTestScheduler(c *fakeCompiler, io *fakeIO) *Scheduler {
	return New(NewState(), c, io, WithLogger(quietLogger()))
}
