package container

import "errors"

var (
	errForwardUserRequiresEphemeral = errors.New("container: forwardUser requires ephemeral=true")

	// ErrCallableUnsupported is returned by RunCallable on backends
	// that cannot join namespaces from the orchestrator's address
	// space (podman).
	ErrCallableUnsupported = errors.New("container: runCallable is not supported by this backend")

	// ErrCannotStart signals an ambient precondition failure (cgroup-v1
	// guest on a cgroup-v2-only host, missing bootstrapper, missing
	// tool). Test suites treat this as a skip condition, not a failure
	// (spec.md §7).
	ErrCannotStart = errors.New("container: cannot start")
)

// CannotStartError wraps ErrCannotStart with a specific reason.
type CannotStartError struct {
	Reason string
}

func (e *CannotStartError) Error() string { return "container: cannot start: " + e.Reason }
func (e *CannotStartError) Unwrap() error { return ErrCannotStart }
