package compile

import "github.com/roach88/anvil/internal/mirror"

// MirroringReporter forwards every report to the wrapped Reporter and
// publishes a copy to the event mirror, stamped from the shared clock.
//
// The publish side never blocks: the mirror buffers per subscriber, so the
// compilation cannot be stalled by a slow late joiner.
type MirroringReporter struct {
	Inner  Reporter
	Stream *EventStream
	Clock  *mirror.Clock
}

func (r MirroringReporter) publish(a ReporterAction) {
	ev := Event{Seq: r.Clock.Next(), Reporter: &a}
	r.Stream.Publish(ev)
}

func (r MirroringReporter) ReportStartCompilation(previousProblems []Problem) {
	r.publish(ReporterAction{Kind: ActionStartCompilation, PreviousProblems: previousProblems})
	r.Inner.ReportStartCompilation(previousProblems)
}

func (r MirroringReporter) ReportStartIncrementalCycle(sources []string, outputDirs []string) {
	r.publish(ReporterAction{Kind: ActionStartIncrementalCycle, Sources: sources, OutputDirs: outputDirs})
	r.Inner.ReportStartIncrementalCycle(sources, outputDirs)
}

func (r MirroringReporter) ReportProblem(problem Problem) {
	r.publish(ReporterAction{Kind: ActionProblem, Problem: problem})
	r.Inner.ReportProblem(problem)
}

func (r MirroringReporter) PublishDiagnosticsSummary(errors int64, warnings int64) {
	r.publish(ReporterAction{Kind: ActionDiagnosticsSummary, Errors: errors, Warnings: warnings})
	r.Inner.PublishDiagnosticsSummary(errors, warnings)
}

func (r MirroringReporter) ReportNextPhase(phase string) {
	r.publish(ReporterAction{Kind: ActionNextPhase, Phase: phase})
	r.Inner.ReportNextPhase(phase)
}

func (r MirroringReporter) ReportProgress(current int64, total int64) {
	r.publish(ReporterAction{Kind: ActionProgress, Current: current, Total: total})
	r.Inner.ReportProgress(current, total)
}

func (r MirroringReporter) ReportEndIncrementalCycle(durationMs int64, succeeded bool) {
	r.publish(ReporterAction{Kind: ActionEndIncrementalCycle, DurationMs: durationMs, Succeeded: succeeded})
	r.Inner.ReportEndIncrementalCycle(durationMs, succeeded)
}

func (r MirroringReporter) ReportCancelled() {
	r.publish(ReporterAction{Kind: ActionCancelled})
	r.Inner.ReportCancelled()
}

func (r MirroringReporter) ReportEndCompilation(code ExitCode) {
	r.publish(ReporterAction{Kind: ActionEndCompilation, Code: code})
	r.Inner.ReportEndCompilation(code)
}

// MirroringLogger forwards every line to the wrapped Logger and publishes a
// copy to the event mirror.
type MirroringLogger struct {
	Inner  Logger
	Stream *EventStream
	Clock  *mirror.Clock
}

func (l MirroringLogger) publish(level LogLevel, msg string) {
	ev := Event{Seq: l.Clock.Next(), Logger: &LoggerAction{Level: level, Message: msg}}
	l.Stream.Publish(ev)
}

func (l MirroringLogger) Error(msg string) {
	l.publish(LevelError, msg)
	l.Inner.Error(msg)
}

func (l MirroringLogger) Warn(msg string) {
	l.publish(LevelWarn, msg)
	l.Inner.Warn(msg)
}

func (l MirroringLogger) Info(msg string) {
	l.publish(LevelInfo, msg)
	l.Inner.Info(msg)
}

func (l MirroringLogger) Debug(msg string) {
	l.publish(LevelDebug, msg)
	l.Inner.Debug(msg)
}

func (l MirroringLogger) Trace(msg string) {
	l.publish(LevelTrace, msg)
	l.Inner.Trace(msg)
}
