package compile

import "github.com/roach88/anvil/internal/mirror"

// ReporterActionKind enumerates the reporter events a compilation emits.
type ReporterActionKind int

const (
	ActionStartCompilation ReporterActionKind = iota + 1
	ActionStartIncrementalCycle
	ActionProblem
	ActionDiagnosticsSummary
	ActionNextPhase
	ActionProgress
	ActionEndIncrementalCycle
	ActionCancelled
	ActionEndCompilation
)

func (k ReporterActionKind) String() string {
	switch k {
	case ActionStartCompilation:
		return "start-compilation"
	case ActionStartIncrementalCycle:
		return "start-incremental-cycle"
	case ActionProblem:
		return "problem"
	case ActionDiagnosticsSummary:
		return "diagnostics-summary"
	case ActionNextPhase:
		return "next-phase"
	case ActionProgress:
		return "progress"
	case ActionEndIncrementalCycle:
		return "end-incremental-cycle"
	case ActionCancelled:
		return "cancelled"
	case ActionEndCompilation:
		return "end-compilation"
	default:
		return "unknown"
	}
}

// ReporterAction is one recorded reporter call. Kind selects which payload
// fields are meaningful.
type ReporterAction struct {
	Kind ReporterActionKind

	PreviousProblems []Problem
	Sources          []string
	OutputDirs       []string
	Problem          Problem
	Errors           int64
	Warnings         int64
	Phase            string
	Current          int64
	Total            int64
	DurationMs       int64
	Succeeded        bool
	Code             ExitCode
}

// LogLevel enumerates client log levels.
type LogLevel int

const (
	LevelError LogLevel = iota + 1
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// LoggerAction is one recorded logger call.
type LoggerAction struct {
	Level   LogLevel
	Message string
}

// Event is one entry of a compilation's event mirror: either a reporter
// action or a logger action, stamped with the producer's emission seq.
type Event struct {
	Seq      int64
	Reporter *ReporterAction
	Logger   *LoggerAction
}

// EventStream is the hot multicast mirror a CompileBundle carries.
type EventStream = mirror.Stream[Event]

// NewEventStream creates an open event mirror.
func NewEventStream() *EventStream {
	return mirror.NewStream[Event]()
}

// Apply replays one event into a subscriber's reporter and logger.
// Trace log lines are demoted to debug on replay.
func (e Event) Apply(reporter Reporter, logger Logger) {
	switch {
	case e.Reporter != nil:
		a := e.Reporter
		switch a.Kind {
		case ActionStartCompilation:
			reporter.ReportStartCompilation(a.PreviousProblems)
		case ActionStartIncrementalCycle:
			reporter.ReportStartIncrementalCycle(a.Sources, a.OutputDirs)
		case ActionProblem:
			reporter.ReportProblem(a.Problem)
		case ActionDiagnosticsSummary:
			reporter.PublishDiagnosticsSummary(a.Errors, a.Warnings)
		case ActionNextPhase:
			reporter.ReportNextPhase(a.Phase)
		case ActionProgress:
			reporter.ReportProgress(a.Current, a.Total)
		case ActionEndIncrementalCycle:
			reporter.ReportEndIncrementalCycle(a.DurationMs, a.Succeeded)
		case ActionCancelled:
			reporter.ReportCancelled()
		case ActionEndCompilation:
			reporter.ReportEndCompilation(a.Code)
		}
	case e.Logger != nil:
		a := e.Logger
		switch a.Level {
		case LevelError:
			logger.Error(a.Message)
		case LevelWarn:
			logger.Warn(a.Message)
		case LevelInfo:
			logger.Info(a.Message)
		case LevelDebug:
			logger.Debug(a.Message)
		case LevelTrace:
			logger.Debug(a.Message)
		}
	}
}
