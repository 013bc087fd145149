package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/task"
)

// commandCompiler invokes an external compiler executable per project.
//
// The command receives the project's options, classpath, output directory,
// and sources as arguments; its exit code selects the result kind and its
// stderr lines become diagnostics. Pipelining promises are settled at the
// end of the invocation: an external command cannot surface signatures
// early, so pipelined scheduling degrades gracefully to completion order.
type commandCompiler struct {
	command string
}

func newCommandCompiler(command string) *commandCompiler {
	return &commandCompiler{command: command}
}

func (c *commandCompiler) Compile(ctx context.Context, in compile.Inputs) (*compile.ResultBundle, error) {
	b := in.Bundle
	started := time.Now()

	b.Reporter.ReportStartCompilation(b.LastSuccessful.PreviousProblems())
	b.Reporter.ReportStartIncrementalCycle(b.Inputs.Sources, []string{b.Inputs.OutputDir})

	args := buildArgs(b.Inputs)
	cmd := exec.CommandContext(ctx, c.command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	durationMs := time.Since(started).Milliseconds()

	switch {
	case ctx.Err() != nil:
		b.Reporter.ReportCancelled()
		settle(in, compile.CancelledResult())
		return &compile.ResultBundle{Result: compile.CancelledResult()}, nil

	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, runErr
		}

		problems := problemsFromStderr(b.Inputs.Project, stderr.Bytes())
		for _, problem := range problems {
			b.Reporter.ReportProblem(problem)
		}
		b.Reporter.PublishDiagnosticsSummary(int64(len(problems)), 0)
		b.Reporter.ReportEndIncrementalCycle(durationMs, false)
		b.Reporter.ReportEndCompilation(compile.ExitError)

		result := compile.FailedResult(problems)
		settle(in, result)
		return &compile.ResultBundle{Result: result}, nil
	}

	b.Reporter.ReportEndIncrementalCycle(durationMs, true)
	b.Reporter.ReportEndCompilation(compile.ExitOK)

	dir := b.Inputs.OutputDir
	result := compile.OkResult(compile.Products{NewClassesDir: dir})
	settle(in, result)

	return &compile.ResultBundle{
		Result: result,
		Successful: compile.NewLastSuccessful(
			b.Inputs.Project, dir,
			&compile.Analysis{},
			task.Completed(task.Unit{}),
		),
	}, nil
}

// settle resolves the pipelining promises for compilers that cannot emit
// signatures mid-run.
func settle(in compile.Inputs, result compile.Result) {
	if in.SignaturePromise != nil {
		if result.Kind == compile.ResultOk {
			in.SignaturePromise.Complete(compile.EmptyStore())
		} else {
			in.SignaturePromise.Fail(errors.New("compilation did not produce signatures"))
		}
	}
	if in.JavaCompletedPromise != nil && !in.JavaCompletedPromise.Resolved() {
		if result.Kind == compile.ResultOk {
			in.JavaCompletedPromise.Complete(task.Unit{})
		} else {
			in.JavaCompletedPromise.Fail(errors.New("compilation failed before java completion"))
		}
	}
}

func buildArgs(in compile.BundleInputs) []string {
	var args []string
	args = append(args, in.Options...)
	if len(in.Classpath) > 0 {
		args = append(args, "-classpath", strings.Join(in.Classpath, string(filepath.ListSeparator)))
	}
	args = append(args, "-d", in.OutputDir)
	args = append(args, in.Sources...)
	return args
}

// problemsFromStderr turns each non-empty stderr line into a diagnostic.
// The compiler's own formatting is preserved in the message.
func problemsFromStderr(p compile.Project, out []byte) []compile.Problem {
	var problems []compile.Problem
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		problems = append(problems, compile.Problem{
			Severity: compile.SeverityError,
			Message:  line,
			File:     p.Name,
		})
	}
	if len(problems) == 0 {
		problems = append(problems, compile.Problem{
			Severity: compile.SeverityError,
			Message:  "compilation failed with no diagnostics",
			File:     p.Name,
		})
	}
	return problems
}
