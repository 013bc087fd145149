package compile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReporter captures the replayed reporter calls in order.
type recordingReporter struct {
	calls []string
}

func (r *recordingReporter) ReportStartCompilation(prev []Problem) {
	r.calls = append(r.calls, "start-compilation")
}
func (r *recordingReporter) ReportStartIncrementalCycle(sources, dirs []string) {
	r.calls = append(r.calls, "start-incremental-cycle")
}
func (r *recordingReporter) ReportProblem(p Problem) {
	r.calls = append(r.calls, "problem:"+p.Message)
}
func (r *recordingReporter) PublishDiagnosticsSummary(errs, warns int64) {
	r.calls = append(r.calls, "diagnostics-summary")
}
func (r *recordingReporter) ReportNextPhase(phase string) {
	r.calls = append(r.calls, "next-phase:"+phase)
}
func (r *recordingReporter) ReportProgress(cur, total int64) {
	r.calls = append(r.calls, "progress")
}
func (r *recordingReporter) ReportEndIncrementalCycle(durationMs int64, ok bool) {
	r.calls = append(r.calls, "end-incremental-cycle")
}
func (r *recordingReporter) ReportCancelled() {
	r.calls = append(r.calls, "cancelled")
}
func (r *recordingReporter) ReportEndCompilation(code ExitCode) {
	r.calls = append(r.calls, "end-compilation")
}

// recordingLogger captures replayed log lines with their effective level.
type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Error(msg string) { l.lines = append(l.lines, "error:"+msg) }
func (l *recordingLogger) Warn(msg string)  { l.lines = append(l.lines, "warn:"+msg) }
func (l *recordingLogger) Info(msg string)  { l.lines = append(l.lines, "info:"+msg) }
func (l *recordingLogger) Debug(msg string) { l.lines = append(l.lines, "debug:"+msg) }
func (l *recordingLogger) Trace(msg string) { l.lines = append(l.lines, "trace:"+msg) }

func TestBundle_MirrorRecordsEmissionOrder(t *testing.T) {
	b := NewBundle(BundleInputs{Project: Project{Name: "core"}})

	b.Reporter.ReportStartCompilation(nil)
	b.Logger.Info("compiling core")
	b.Reporter.ReportStartIncrementalCycle([]string{"a.scala"}, []string{"/out"})
	b.Reporter.ReportProblem(Problem{Severity: SeverityError, Message: "oops"})
	b.Reporter.ReportEndCompilation(ExitError)
	b.Mirror.Close()

	sub := b.Mirror.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var seqs []int64
	rep := &recordingReporter{}
	log := &recordingLogger{}
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		seqs = append(seqs, ev.Seq)
		ev.Apply(rep, log)
	}

	require.Len(t, seqs, 5)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "seq must be strictly increasing")
	}

	assert.Equal(t, []string{
		"start-compilation",
		"start-incremental-cycle",
		"problem:oops",
		"end-compilation",
	}, rep.calls)
	assert.Equal(t, []string{"info:compiling core"}, log.lines)
}

func TestEvent_TraceDemotedToDebugOnReplay(t *testing.T) {
	log := &recordingLogger{}
	ev := Event{Logger: &LoggerAction{Level: LevelTrace, Message: "deep detail"}}
	ev.Apply(NoopReporter{}, log)

	assert.Equal(t, []string{"debug:deep detail"}, log.lines)
}

func TestMirroringReporter_ForwardsToInner(t *testing.T) {
	inner := &recordingReporter{}
	b := NewBundle(BundleInputs{Project: Project{Name: "core"}, Reporter: inner})

	b.Reporter.ReportNextPhase("typer")
	b.Reporter.ReportProgress(1, 10)

	assert.Equal(t, []string{"next-phase:typer", "progress"}, inner.calls)
	assert.Equal(t, 2, b.Mirror.Len())
}

func TestBundle_EqualInputsEqualFingerprints(t *testing.T) {
	in := BundleInputs{
		Project:   Project{Name: "core"},
		Sources:   []string{"a.scala"},
		Classpath: []string{"/lib/x.jar"},
	}

	b1 := NewBundle(in)
	b2 := NewBundle(in)
	assert.Equal(t, b1.Fingerprint, b2.Fingerprint)
}

func TestBundle_WithLastSuccessfulSharesMirror(t *testing.T) {
	b := NewBundle(BundleInputs{Project: Project{Name: "core"}})
	ls := EmptySuccessful(Project{Name: "core"})

	nb := b.WithLastSuccessful(ls)
	assert.Same(t, b.Mirror, nb.Mirror)
	assert.Same(t, ls, nb.LastSuccessful)
	assert.Nil(t, b.LastSuccessful)
}
