// podman.go implements the Podman Runtime backend (spec.md §4.4 "Podman
// specifics"): a container built from a plain rootfs directory via
// specgen.SpecGenerator's Rootfs field, run through the REST API bindings
// rather than shelling out to the podman CLI.
//
// Grounded on the teacher's SocketRuntime (pkg/commands/runtime_socket.go):
// same bindings.NewConnection seam, same containers.* call shapes for
// start/exec/remove. Where the teacher inspects and lists existing
// containers for display, this backend creates and drives one container
// per Config for the duration of a build step.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/containers/podman/v5/pkg/api/handlers"
	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/specgen"
	spec "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/script"
)

// PodmanRuntime starts containers from a rootfs directory through a
// Podman REST API connection.
type PodmanRuntime struct {
	RootFS string
	Log    *logrus.Entry
	conn   context.Context
}

// NewPodmanRuntime connects to socketPath ("unix:///run/podman/podman.sock"
// or similar) the same way the teacher's NewSocketRuntime does.
func NewPodmanRuntime(ctx context.Context, socketPath, rootFS string, log *logrus.Entry) (*PodmanRuntime, error) {
	conn, err := bindings.NewConnection(ctx, socketPath)
	if err != nil {
		return nil, fmt.Errorf("podman: connect %s: %w", socketPath, err)
	}
	return &PodmanRuntime{RootFS: rootFS, Log: log, conn: conn}, nil
}

func (r *PodmanRuntime) Mode() string { return "podman" }

func (r *PodmanRuntime) Container(ctx context.Context, cfg Config) (Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.newContainer(cfg), nil
}

func (r *PodmanRuntime) MaintenanceContainer(ctx context.Context, cfg Config) (Container, error) {
	cfg.Maintenance = true
	cfg.Ephemeral = false
	return r.newContainer(cfg), nil
}

func (r *PodmanRuntime) newContainer(cfg Config) *podmanContainer {
	return &podmanContainer{rt: r, cfg: cfg, steps: &scopedSteps{}}
}

type podmanContainer struct {
	rt     *PodmanRuntime
	cfg    Config
	steps  *scopedSteps
	id     string
	linger bool
}

func (c *podmanContainer) SetLinger(v bool) { c.linger = v }

func (c *podmanContainer) Enter(ctx context.Context) error {
	// Podman containers share the host's cgroup driver via runc/crun
	// rather than booting a guest init the way systemd-nspawn --boot
	// does, so spec.md §4.1's cgroup-v1-guest-on-v2-host constraint
	// (nspawn-only) does not apply to this backend.

	for _, b := range c.cfg.Binds {
		b := b
		teardown, err := b.HostSetup(c)
		if err != nil {
			c.steps.Unwind()
			return err
		}
		c.steps.Enter(teardown)
	}

	s := specgen.NewSpecGeneratorWithRootfs(c.rt.RootFS)
	s.Command = []string{"sleep", "infinity"}
	trueVal := true
	s.Remove = &trueVal
	if c.cfg.ForwardUser != nil {
		s.User = strconv.Itoa(c.cfg.ForwardUser.UID) + ":" + strconv.Itoa(c.cfg.ForwardUser.GID)
	}
	s.Mounts = make([]spec.Mount, 0, len(c.cfg.Binds))
	for _, b := range c.cfg.Binds {
		m := b.ToPodman()
		mount := spec.Mount{Source: m.Source, Destination: m.Destination, Type: m.Type}
		if m.ReadOnly {
			mount.Options = []string{"ro"}
		}
		s.Mounts = append(s.Mounts, mount)
		if b.Cwd {
			s.WorkDir = b.Destination
		}
	}

	resp, err := containers.CreateWithSpec(c.rt.conn, s, nil)
	if err != nil {
		return &CannotStartError{Reason: err.Error()}
	}
	c.id = resp.ID
	c.steps.Enter(func() error { return c.remove() })

	if err := containers.Start(c.rt.conn, c.id, nil); err != nil {
		c.steps.Unwind()
		return fmt.Errorf("podman: start %s: %w", c.id, err)
	}

	for _, b := range c.cfg.Binds {
		b := b
		teardown, err := b.GuestSetup(c)
		if err != nil {
			c.steps.Unwind()
			return err
		}
		c.steps.Enter(teardown)
	}

	for _, gs := range c.cfg.GuestSetup {
		if _, err := c.RunScript(ctx, gs); err != nil {
			c.steps.Unwind()
			return err
		}
	}

	return nil
}

func (c *podmanContainer) remove() error {
	force := true
	_, err := containers.Remove(c.rt.conn, c.id, &containers.RemoveOptions{Force: &force})
	return err
}

func (c *podmanContainer) Close(ctx context.Context) error {
	if c.linger || c.cfg.Linger {
		return nil
	}
	return c.steps.Unwind()
}

func (c *podmanContainer) Run(ctx context.Context, argv []string, rc RunConfig) (Completed, error) {
	execConfig := &handlers.ExecCreateConfig{}
	execConfig.Cmd = argv
	execConfig.AttachStdout = true
	execConfig.AttachStderr = true
	if rc.Cwd != "" {
		execConfig.WorkingDir = rc.Cwd
	}
	if rc.User != nil {
		execConfig.User = strconv.Itoa(rc.User.UID) + ":" + strconv.Itoa(rc.User.GID)
	}

	sessionID, err := containers.ExecCreate(c.rt.conn, c.id, execConfig)
	if err != nil {
		return Completed{}, fmt.Errorf("podman: exec create: %w", err)
	}

	var stdout, stderr bytes.Buffer
	var outW, errW io.Writer = &stdout, &stderr
	attachTrue := true
	opts := &containers.ExecStartAndAttachOptions{
		OutputStream: &outW, ErrorStream: &errW,
		AttachOutput: &attachTrue, AttachError: &attachTrue,
	}
	if err := containers.ExecStartAndAttach(c.rt.conn, sessionID, opts); err != nil {
		return Completed{}, fmt.Errorf("podman: exec start: %w", err)
	}

	inspect, err := containers.ExecInspect(c.rt.conn, sessionID, nil)
	if err != nil {
		return Completed{}, fmt.Errorf("podman: exec inspect: %w", err)
	}
	result := Completed{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}
	if rc.Check && inspect.ExitCode != 0 {
		return result, &ExitError{Argv: argv, Completed: result}
	}
	return result, nil
}

func (c *podmanContainer) RunScript(ctx context.Context, s *script.Script) (Completed, error) {
	rc := DefaultRunConfig()
	if s.Cwd != "" {
		rc.Cwd = s.Cwd
	}
	return c.Run(ctx, []string{"/bin/sh", "-c", s.Render()}, rc)
}

// RunCallable is unsupported on the Podman backend: unlike nspawn, there
// is no leader PID in this process's visible namespaces to setns into,
// since the container is driven entirely through the Podman daemon
// (spec.md §4.4 "Podman specifics" narrows RunCallable to nspawn).
func (c *podmanContainer) RunCallable(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	return nil, ErrCallableUnsupported
}

func (c *podmanContainer) RunShell(ctx context.Context, rc RunConfig) error {
	shell := "/bin/sh"
	if env := os.Getenv("SHELL"); env != "" {
		shell = env
	}
	rc.Interactive = true
	_, err := c.Run(ctx, []string{shell, "--login"}, rc)
	return err
}

func (c *podmanContainer) GetRoot() string { return c.rt.RootFS }

func (c *podmanContainer) GetPID() (int, error) {
	data, err := containers.Inspect(c.rt.conn, c.id, nil)
	if err != nil {
		return 0, err
	}
	if data.State == nil {
		return 0, fmt.Errorf("podman: no state for %s", c.id)
	}
	return data.State.Pid, nil
}

func (c *podmanContainer) RunGuestScript(s *script.Script) error {
	_, err := c.RunScript(context.Background(), s)
	return err
}

// RunHostScript runs s directly on the host, bypassing the Podman
// connection (part of binds.ContainerHandle; no bind hook in pkg/binds
// calls it).
func (c *podmanContainer) RunHostScript(s *script.Script) error {
	cmd := exec.Command("/bin/sh", "-c", s.Render())
	return cmd.Run()
}

func (c *podmanContainer) HostRoot() string { return c.rt.RootFS }
