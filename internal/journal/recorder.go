package journal

import (
	"context"
	"fmt"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/mirror"
)

// Record drains one project's event mirror subscription into the journal.
// Blocks until the stream closes or ctx is done; intended to run on an
// I/O goroutine alongside the compilation.
func (j *Journal) Record(ctx context.Context, runToken string, project compile.Project, sub *mirror.Subscription[compile.Event]) error {
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := j.WriteEvent(ctx, eventRow(runToken, project, ev)); err != nil {
			return err
		}
	}
}

// eventRow flattens a mirrored event into its persisted form.
func eventRow(runToken string, project compile.Project, ev compile.Event) Event {
	row := Event{
		RunToken: runToken,
		Project:  project.ID(),
		Seq:      ev.Seq,
	}

	switch {
	case ev.Reporter != nil:
		a := ev.Reporter
		row.Kind = a.Kind.String()
		switch a.Kind {
		case compile.ActionProblem:
			row.Detail = fmt.Sprintf("%s: %s", a.Problem.Severity, a.Problem.Message)
		case compile.ActionDiagnosticsSummary:
			row.Detail = fmt.Sprintf("errors=%d warnings=%d", a.Errors, a.Warnings)
		case compile.ActionNextPhase:
			row.Detail = a.Phase
		case compile.ActionProgress:
			row.Detail = fmt.Sprintf("%d/%d", a.Current, a.Total)
		case compile.ActionEndIncrementalCycle:
			row.Detail = fmt.Sprintf("duration_ms=%d succeeded=%t", a.DurationMs, a.Succeeded)
		case compile.ActionEndCompilation:
			row.Detail = fmt.Sprintf("exit=%d", a.Code)
		}
	case ev.Logger != nil:
		row.Kind = "log-" + ev.Logger.Level.String()
		row.Detail = ev.Logger.Message
	default:
		row.Kind = "unknown"
	}

	return row
}
