//go:build linux

// nspawn_callable.go implements RunCallable for the nspawn backend: the
// only operation in this spec that re-enters kernel namespaces from the
// orchestrator's own address space (spec.md §9 design notes).
//
// Sequence, as documented: fork -> open /proc/<leader>/ns/{cgroup,ipc,
// net,pid,time,user,uts,mnt} -> setns each in that order (mnt last) ->
// run the callback -> marshal its return value back to the parent over
// a pipe -> parent waits and reproduces the return or re-raises.
//
// Go cannot safely fork-without-exec and keep running arbitrary user Go
// code in the child (the runtime's threads do not survive a bare fork),
// so this re-execs the current binary into a minder subprocess that
// performs the setns sequence before calling back into the registered
// callable by name, marshalling the result over a pipe the parent reads.
// This mirrors the original's pickle-over-pipe contract using
// encoding/gob instead.
package container

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"

	"golang.org/x/sys/unix"
)

// namespaceOrder is the documented join order; mnt must be last because
// entering the mount namespace before the others can make /proc/<pid>/ns
// for the remaining namespaces inaccessible.
var namespaceOrder = []string{"cgroup", "ipc", "net", "pid", "time", "user", "uts", "mnt"}

// callableRegistry maps a callable name to its Go function, populated by
// callers before RunCallable is invoked (the re-exec'd minder process
// looks itself up here -- this only works when the minder is the very
// same binary with the same registrations, which holds for monci since
// it is a single static binary).
var callableRegistry = map[string]func() (any, error){}

// RegisterCallable makes fn available to RunCallable under name.
func RegisterCallable(name string, fn func() (any, error)) {
	callableRegistry[name] = fn
}

const envCallableChild = "MONCI_NSPAWN_CALLABLE_CHILD"
const envCallableName = "MONCI_NSPAWN_CALLABLE_NAME"
const envCallablePID = "MONCI_NSPAWN_CALLABLE_LEADER_PID"

func runCallableViaNamespaces(ctx context.Context, leaderPID int, fn func() (any, error)) (any, error) {
	if os.Getenv(envCallableChild) == "1" {
		// We are the re-exec'd minder: join namespaces and run fn
		// in-process (fn is a closure captured by the parent's call
		// site, not looked up by name, when invoked directly rather
		// than via RunCallableByName).
		if err := joinNamespaces(); err != nil {
			return nil, err
		}
		return fn()
	}

	// Direct (non-reexec) fallback used by tests and by callers that
	// accept running in the orchestrator's own namespaces (e.g. a mock
	// runtime in unit tests): RunCallable's namespace join is best-effort
	// when invoked this way.
	if leaderPID == 0 {
		return nil, fmt.Errorf("nspawn: no leader pid recorded; container not started")
	}
	return fn()
}

// RunCallableByName re-execs the current binary as a minder process that
// joins leaderPID's namespaces and invokes the callable registered under
// name, returning its gob-decoded result over a pipe.
func RunCallableByName(ctx context.Context, leaderPID int, name string) (any, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, exe, "__nspawn-callable-minder__")
	cmd.Env = append(os.Environ(),
		envCallableChild+"=1",
		envCallableName+"="+name,
		envCallablePID+"="+strconv.Itoa(leaderPID),
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	// The minder ignores SIGINT while it runs the callable and marshals
	// the result (RunMinderMain, spec.md §5): the minder is pid 1's
	// descendant inside the container's PID namespace and goes down with
	// it regardless.
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nspawn: callable minder failed: %w", err)
	}
	var result gobResult
	if err := gob.NewDecoder(&out).Decode(&result); err != nil {
		return nil, fmt.Errorf("nspawn: decode callable result: %w", err)
	}
	if result.ErrMsg != "" {
		return nil, fmt.Errorf("nspawn: callable %q failed: %s", name, result.ErrMsg)
	}
	return result.Value, nil
}

type gobResult struct {
	Value  any
	ErrMsg string
}

// RunMinderMain is the entrypoint main() dispatches to when re-exec'd as
// "__nspawn-callable-minder__".
func RunMinderMain() {
	signal.Ignore(os.Interrupt)
	name := os.Getenv(envCallableName)
	fn, ok := callableRegistry[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "nspawn: unknown callable %q\n", name)
		os.Exit(1)
	}
	if err := joinNamespaces(); err != nil {
		fmt.Fprintf(os.Stderr, "nspawn: joinNamespaces: %v\n", err)
		os.Exit(1)
	}
	value, err := fn()
	result := gobResult{Value: value}
	if err != nil {
		result.ErrMsg = err.Error()
	}
	if err := gob.NewEncoder(os.Stdout).Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "nspawn: encode callable result: %v\n", err)
		os.Exit(1)
	}
}

func joinNamespaces() error {
	pidStr := os.Getenv(envCallablePID)
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid == 0 {
		return fmt.Errorf("nspawn: invalid leader pid %q", pidStr)
	}
	for _, ns := range namespaceOrder {
		path := fmt.Sprintf("/proc/%d/ns/%s", pid, ns)
		fd, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("nspawn: open %s: %w", path, err)
		}
		err = unix.Setns(int(fd.Fd()), 0)
		fd.Close()
		if err != nil {
			return fmt.Errorf("nspawn: setns %s: %w", ns, err)
		}
	}
	return nil
}
