package compile

import "github.com/roach88/anvil/internal/mirror"

// BundleInputs is the caller-supplied description of one compilation
// request. Equal inputs must produce bundles with equal fingerprints.
type BundleInputs struct {
	Project   Project
	Sources   []string
	Classpath []string
	Options   []string

	// OutputDir is where this project's compiler writes class files.
	// Dependents locate this directory on their classpath when assembling
	// pipelined signature stores.
	OutputDir string

	// SeparateJavaAndScala selects the split Java/Scala compilation mode
	// in which the java gating signal is consulted.
	SeparateJavaAndScala bool

	// PreviousWasEmpty indicates the previous result for this project is
	// known to be empty; the registry then substitutes a fresh empty
	// last-successful record instead of the installed one.
	PreviousWasEmpty bool

	Reporter Reporter
	Logger   Logger
}

// Bundle is the per-invocation compilation context.
//
// The bundle owns the event mirror and the mirroring reporter/logger pair
// wired to it; the result-DAG references bundles by shared ownership and
// the bundle never points back at the result-DAG.
type Bundle struct {
	Project        Project
	Fingerprint    Fingerprint
	Inputs         BundleInputs
	LastSuccessful *LastSuccessful

	// Reporter and Logger are the mirroring pair: they forward to the
	// client's sinks and publish to Mirror.
	Reporter Reporter
	Logger   Logger

	Mirror *EventStream
	clock  *mirror.Clock
}

// NewBundle derives a bundle from inputs: computes the fingerprint and
// wires the event mirror around the client's reporter and logger.
//
// This is the deterministic setup used by default; callers with richer
// setup needs supply their own SetupFunc built on top of it.
func NewBundle(in BundleInputs) *Bundle {
	fp := NewFingerprint(FingerprintInputs{
		Project:   in.Project,
		Sources:   in.Sources,
		Classpath: in.Classpath,
		Options:   in.Options,
	})

	stream := NewEventStream()
	clock := mirror.NewClock()

	reporter := in.Reporter
	if reporter == nil {
		reporter = NoopReporter{}
	}
	logger := in.Logger
	if logger == nil {
		logger = NoopLogger{}
	}

	return &Bundle{
		Project:     in.Project,
		Fingerprint: fp,
		Inputs:      in,
		Reporter:    MirroringReporter{Inner: reporter, Stream: stream, Clock: clock},
		Logger:      MirroringLogger{Inner: logger, Stream: stream, Clock: clock},
		Mirror:      stream,
		clock:       clock,
	}
}

// WithLastSuccessful returns a copy of the bundle rebound to the chosen
// last-successful record. The mirror and its clock are shared, not copied:
// there is one event stream per running compilation.
func (b *Bundle) WithLastSuccessful(ls *LastSuccessful) *Bundle {
	nb := *b
	nb.LastSuccessful = ls
	return &nb
}
