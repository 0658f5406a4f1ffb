// Package container implements the runtime-agnostic container contract
// (spec.md §4.4, C4): starting/stopping ephemeral or maintenance
// containers on an image, running commands/scripts/callables inside
// them, and managing bind mounts. Two backends satisfy Runtime: nspawn
// (pkg/container/nspawn.go) and podman (pkg/container/podman.go).
//
// Grounded directly on the teacher's ContainerRuntime interface
// (pkg/commands/runtime.go) and its two implementations
// (runtime_socket.go for the podman REST bindings, runtime_libpod.go for
// the direct libpod path): that split -- one interface, a socket-based
// backend and a direct in-process backend -- is structurally the same
// shape as this spec's nspawn-vs-podman duality, so Runtime below keeps
// the teacher's "one contract, swappable backend" design and its
// Mode()-string convention, but generalizes the *operations* from
// Docker/Podman object inspection to the CI container-lifecycle verbs
// spec.md §4.4 actually names (container/maintenanceContainer, run,
// runScript, runCallable, runShell).
package container

import (
	"context"

	"github.com/arpa-simc/monci/pkg/binds"
	"github.com/arpa-simc/monci/pkg/script"
)

// UserConfig identifies the user a command should run as inside the
// guest, constructed from the current process, from SUDO_* env, or from
// the owner of a host path (spec.md §3).
type UserConfig struct {
	Name    string
	UID     int
	GIDName string
	GID     int
}

// Config describes a container to be started (spec.md §3 ContainerConfig).
type Config struct {
	Ephemeral    bool
	Tmpfs        *bool
	Binds        []binds.Config
	ForwardUser  *UserConfig
	GuestSetup   []*script.Script
	GuestTeardown []*script.Script

	// Maintenance containers are non-ephemeral and rooted at a
	// transactional workdir (see pkg/image for that workdir's lifecycle).
	Maintenance bool

	// Name is a human-readable label used to build the nspawn machine
	// name / podman container name; it need not be unique across runs.
	Name string

	// Linger keeps the container alive past Close(), for @linger
	// post-build actions (spec.md §4.7 step 5).
	Linger bool

	// RequireCgroupV1 is set from the image's distro (CentOS 7) and
	// gates startup against a cgroup-v2-only host (spec.md §4.1, §4.4).
	RequireCgroupV1 bool
}

// Validate enforces ContainerConfig's invariant: forwardUser set implies
// ephemeral.
func (c *Config) Validate() error {
	if c.ForwardUser != nil && !c.Ephemeral {
		return errForwardUserRequiresEphemeral
	}
	return nil
}

// RunConfig parameterizes a single Run/RunScript invocation.
type RunConfig struct {
	Cwd            string
	User           *UserConfig
	Check          bool // default true; set false to suppress error on nonzero exit
	Interactive    bool
	UsePath        bool
	DisableNetwork bool
}

// DefaultRunConfig returns the zero-value-sensible defaults (Check=true).
func DefaultRunConfig() RunConfig {
	return RunConfig{Check: true}
}

// Completed is the result of Run/RunScript.
type Completed struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime abstracts starting/stopping a container on an image and
// running things inside it. Implementations: NspawnRuntime, PodmanRuntime.
type Runtime interface {
	// Container starts an ephemeral container from Config.
	Container(ctx context.Context, cfg Config) (Container, error)
	// MaintenanceContainer starts a non-ephemeral maintenance container.
	MaintenanceContainer(ctx context.Context, cfg Config) (Container, error)
	// Mode returns "nspawn" or "podman".
	Mode() string
}

// Container is a live or about-to-be-live container scope. Enter starts
// it (host bind setup, backend start, guest bind setup, guest setup
// scripts); Close tears it down in reverse order unless Config.Linger.
type Container interface {
	Enter(ctx context.Context) error
	Close(ctx context.Context) error

	Run(ctx context.Context, argv []string, rc RunConfig) (Completed, error)
	RunScript(ctx context.Context, s *script.Script) (Completed, error)
	// RunCallable runs fn inside the container's namespaces and returns
	// its result. Backends that cannot support this (podman) return
	// ErrCallableUnsupported.
	RunCallable(ctx context.Context, name string, fn func() (any, error)) (any, error)
	RunShell(ctx context.Context, rc RunConfig) error

	GetRoot() string
	GetPID() (int, error)

	// SetLinger marks the container to survive Close() (the @linger
	// post-build action, spec.md §4.7 step 5).
	SetLinger(bool)
}
