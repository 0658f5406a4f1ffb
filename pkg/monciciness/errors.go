// Package monciciness holds the CLI-facing error taxonomy: a Fail error
// for config/validation problems, and typed wrappers for container,
// subprocess, and callable failures that pkg/cli switches on to select
// an exit code.
//
// Grounded on the teacher's main.go, which wraps flaggy/config errors
// with github.com/go-errors/errors to carry a stack trace for --debug
// diagnostics; we keep go-errors/errors for exactly that purpose.
package monciciness

import (
	stderrors "errors"
	"fmt"

	"github.com/go-errors/errors"
)

// Fail wraps msg in a stack-trace-carrying error (spec.md §7
// "Config/validation" failures): in normal mode the CLI prints only
// msg, in --debug mode it prints the full ErrorStack().
func Fail(format string, args ...any) error {
	return errors.New(fmt.Sprintf(format, args...))
}

// Stack renders err's stack trace when it is (or wraps) a
// *errors.Error, or just err.Error() otherwise.
func Stack(err error) string {
	if gerr, ok := err.(*errors.Error); ok {
		return gerr.ErrorStack()
	}
	return err.Error()
}

// ContainerCannotStartError reports that a container's backend failed
// to bring it up (exit code table entry distinct from a plain
// subprocess failure inside an already-running container).
type ContainerCannotStartError struct {
	Name string
	Err  error
}

func (e *ContainerCannotStartError) Error() string {
	return fmt.Sprintf("container %q could not start: %v", e.Name, e.Err)
}

func (e *ContainerCannotStartError) Unwrap() error { return e.Err }

// SubprocessError wraps a failed in-container or host command, carrying
// its captured stdout/stderr so the CLI can print them on failure.
type SubprocessError struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("command %v exited %d: %v", e.Argv, e.ExitCode, e.Err)
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// CallableError wraps a failure returned by container.Container's
// RunCallable (the nspawn namespace-join path).
type CallableError struct {
	Name string
	Err  error
}

func (e *CallableError) Error() string {
	return fmt.Sprintf("callable %q failed: %v", e.Name, e.Err)
}

func (e *CallableError) Unwrap() error { return e.Err }

// BootstrapFailure marks an error as having occurred during `monci
// bootstrap` (spec.md §6: exit code 5).
type BootstrapFailure struct{ Err error }

func (e *BootstrapFailure) Error() string { return e.Err.Error() }
func (e *BootstrapFailure) Unwrap() error { return e.Err }

// UpdateFailure marks an error as having occurred during `monci update`,
// or during the update step `monci bootstrap --recreate` folds in
// (spec.md §6: exit code 6).
type UpdateFailure struct{ Err error }

func (e *UpdateFailure) Error() string { return e.Err.Error() }
func (e *UpdateFailure) Unwrap() error { return e.Err }

// LintFailure marks an error as `monci lint` findings: Errors selects
// exit code 2, otherwise (warnings only) exit code 1 (spec.md §6).
type LintFailure struct {
	Errors bool
	Err    error
}

func (e *LintFailure) Error() string { return e.Err.Error() }
func (e *LintFailure) Unwrap() error { return e.Err }

// RunExitError passes a literal process exit code straight through
// (spec.md §6 "monci run ... exit code = container exit code"):
// Error() is intentionally blank since the in-container command already
// wrote its own diagnostics.
type RunExitError struct{ Code int }

func (e *RunExitError) Error() string { return "" }

// ExitCode maps err to the process exit code spec.md §6 documents for
// CLI operations: 0 success, 1 generic failure, 2 lint errors, 5
// bootstrap failure, 6 update failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var rf *RunExitError
	if stderrors.As(err, &rf) {
		return rf.Code
	}
	var bf *BootstrapFailure
	if stderrors.As(err, &bf) {
		return 5
	}
	var uf *UpdateFailure
	if stderrors.As(err, &uf) {
		return 6
	}
	var lf *LintFailure
	if stderrors.As(err, &lf) {
		if lf.Errors {
			return 2
		}
		return 1
	}
	return 1
}
