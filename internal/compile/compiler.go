package compile

import (
	"context"

	"github.com/roach88/anvil/internal/task"
)

// Inputs is everything the scheduler hands the external compiler for one
// project invocation.
type Inputs struct {
	Bundle *Bundle

	// Store holds the concatenated dependent-facing signatures of direct
	// upstream projects, in classpath order. Empty in sequential mode.
	Store SignatureStore

	// SignaturePromise must be completed with this project's pickled
	// signatures as soon as typechecking finishes. Nil in sequential mode:
	// nobody consumes early signatures there.
	SignaturePromise *task.Promise[SignatureStore]

	// JavaCompletedPromise must be resolved when this project's Java
	// codegen finishes (or failed with the cause). Pre-completed in
	// sequential mode.
	JavaCompletedPromise *task.Promise[task.Unit]

	// TransitiveJavaSignal resolves to the aggregated gating signal of the
	// direct upstream projects. The compiler consults it before entering
	// its Java phase and skips codegen on FailFast.
	TransitiveJavaSignal *task.Task[JavaSignal]

	// SeparateJavaAndScala mirrors the bundle's compilation mode toggle.
	SeparateJavaAndScala bool

	// DependentResults maps classes directories (new and read-only) of
	// every transitively successful upstream compile to its result record.
	DependentResults map[string]*LastSuccessful

	// DependentProducts maps the new classes directory of each direct
	// upstream compile to its products.
	DependentProducts map[string]Products
}

// Compiler invokes the external compiler for one project. The scheduler
// never interprets products beyond registering them; everything under the
// classes directories is opaque.
//
// Implementations must return first-class failure Results rather than
// errors for compile failures; a returned error is treated as an internal
// fault and wrapped into a failure node.
type Compiler interface {
	Compile(ctx context.Context, in Inputs) (*ResultBundle, error)
}

// DirIO is the I/O collaborator that materializes and deletes class
// output directories. The scheduler owns no other disk state.
type DirIO interface {
	// CopyDir recursively copies src into dst, creating dst.
	CopyDir(ctx context.Context, src, dst string) error

	// DeleteDir recursively removes path.
	DeleteDir(ctx context.Context, path string) error

	// Exists reports whether path exists on disk.
	Exists(path string) bool
}
