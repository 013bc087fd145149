package sched

import (
	"errors"
	"fmt"
	"strings"
)

// FailureCode categorizes build failures.
type FailureCode string

const (
	// CodeCompilerFailure - the external compiler returned a non-success
	// result.
	CodeCompilerFailure FailureCode = "COMPILER_FAILURE"

	// CodeBlocked - at least one transitive upstream failed; this project
	// was never attempted.
	CodeBlocked FailureCode = "BLOCKED"

	// CodeCancelled - the compilation was cancelled.
	CodeCancelled FailureCode = "CANCELLED"

	// CodeDedupIO - the post-deduplication copy into a subscriber's
	// per-client directory failed. Affects that subscriber only.
	CodeDedupIO FailureCode = "DEDUP_IO_FAILURE"

	// CodeSignaturePromise - a pipelined upstream failed before emitting
	// its signatures.
	CodeSignaturePromise FailureCode = "SIGNATURE_PROMISE_FAILURE"
)

// BuildError is a first-class build failure.
//
// Blocked and compiler failures flow through the result DAG as values and
// feed blocked-by propagation for descendants; they are never thrown out
// of band by the traversal.
type BuildError struct {
	Code    FailureCode
	Project string
	Message string

	// BlockedOn names the direct upstream projects that failed, for
	// CodeBlocked.
	BlockedOn []string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *BuildError) Error() string {
	switch {
	case len(e.BlockedOn) > 0:
		return fmt.Sprintf("%s: %s blocked on [%s]", e.Code, e.Project, strings.Join(e.BlockedOn, ", "))
	case e.Message != "" && e.Project != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Project, e.Message)
	case e.Cause != nil && e.Project != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Project, e.Cause)
	case e.Project != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Project)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// NewBlockedError builds the failure recorded on a node whose upstreams
// failed.
func NewBlockedError(project string, blockedOn []string) *BuildError {
	return &BuildError{Code: CodeBlocked, Project: project, BlockedOn: blockedOn}
}

// NewCompilerError wraps a compiler failure result.
func NewCompilerError(project string, cause error) *BuildError {
	return &BuildError{Code: CodeCompilerFailure, Project: project, Cause: cause}
}

// NewCancelledError records a cancelled compilation.
func NewCancelledError(project string) *BuildError {
	return &BuildError{Code: CodeCancelled, Project: project}
}

// NewDedupIOError records a failed per-client post-copy.
func NewDedupIOError(project string, cause error) *BuildError {
	return &BuildError{Code: CodeDedupIO, Project: project, Cause: cause}
}

// NewSignatureError records an upstream that died before emitting
// signatures in pipelined mode.
func NewSignatureError(project string, cause error) *BuildError {
	return &BuildError{Code: CodeSignaturePromise, Project: project, Cause: cause}
}

// IsBlocked reports whether err is a blocked failure.
// Uses errors.As to handle wrapped errors.
func IsBlocked(err error) bool {
	return hasCode(err, CodeBlocked)
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return hasCode(err, CodeCancelled)
}

// IsCompilerFailure reports whether err is a compiler failure.
func IsCompilerFailure(err error) bool {
	return hasCode(err, CodeCompilerFailure)
}

func hasCode(err error, code FailureCode) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
