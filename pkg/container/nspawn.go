//go:build linux

// nspawn.go implements the systemd-nspawn Runtime backend (spec.md
// §4.4 "Nspawn specifics").
//
// Grounded on the teacher's socket-based backend (runtime_socket.go) for
// overall shape (a thin struct wrapping a connection/command runner,
// implementing every Runtime verb by shelling out), and on
// coreos/go-systemd/v22's dbus package -- already reachable via the
// pack's podman dependency graph -- for reading the transient
// systemd-run unit's MainPID while waiting for the leader to come up.
// The unit itself is started by running systemd-run, and the MainPID
// property is polled every 100ms, with a `machinectl show` fallback.
package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/jesseduffield/kill"
	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/binds"
	"github.com/arpa-simc/monci/pkg/script"
)

// guestScriptsDir is where RunScript's rendered scripts are bound and
// executed from inside the guest.
const guestScriptsDir = "/srv/moncic-ci/scripts"

// Execer runs a host-side command and captures its output; it is the
// seam the teacher's OSCommand occupies (a func(string, ...string)
// *exec.Cmd field for testability), kept as an interface here so nspawn
// tests can substitute a fake without touching the real systemd-run/
// systemd-nspawn binaries.
type Execer interface {
	Run(ctx context.Context, argv []string) (stdout, stderr string, exitCode int, err error)
}

// realExecer runs argv via os/exec.
type realExecer struct{}

func (realExecer) Run(ctx context.Context, argv []string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", -1, fmt.Errorf("nspawn: empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// systemd-run/systemd-nspawn and the build tools they invoke inside
	// the guest (mmdebstrap, dpkg-buildpackage, rpmbuild) can spawn their
	// own children; group them under this command's pgid so a context
	// cancellation takes the whole tree down rather than just the
	// immediate process (the teacher hits the same problem with
	// docker-compose log tailing spawning children of its own).
	kill.PrepareForChildren(cmd)
	cmd.Cancel = func() error { return kill.Kill(cmd) }
	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			code = exitErr.ExitCode()
		} else {
			return stdout.String(), stderr.String(), -1, err
		}
	}
	return stdout.String(), stderr.String(), code, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// NspawnRuntime starts containers on a directory/btrfs-subvolume root
// filesystem via systemd-run + systemd-nspawn.
type NspawnRuntime struct {
	RootFS string // the image's root filesystem path
	Log    *logrus.Entry
	Exec   Execer
	// CgroupUnified reports whether the host booted with the unified
	// (v2-only) cgroup hierarchy; used to refuse starting cgroup-v1
	// guests (spec.md §4.1 CentOS 7 invariant).
	CgroupUnified bool
}

// NewNspawnRuntime constructs a runtime bound to a root filesystem path.
func NewNspawnRuntime(rootFS string, log *logrus.Entry) *NspawnRuntime {
	return &NspawnRuntime{RootFS: rootFS, Log: log, Exec: realExecer{}, CgroupUnified: true}
}

func (r *NspawnRuntime) Mode() string { return "nspawn" }

func (r *NspawnRuntime) Container(ctx context.Context, cfg Config) (Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.newContainer(cfg, false)
}

func (r *NspawnRuntime) MaintenanceContainer(ctx context.Context, cfg Config) (Container, error) {
	cfg.Maintenance = true
	cfg.Ephemeral = false
	return r.newContainer(cfg, true)
}

func (r *NspawnRuntime) newContainer(cfg Config, maintenance bool) (*nspawnContainer, error) {
	instance := machineName(cfg.Name)
	scriptsDir, err := os.MkdirTemp("", "monci-scripts-*")
	if err != nil {
		return nil, fmt.Errorf("nspawn: create scripts scratch dir: %w", err)
	}
	cfg.Binds = append(cfg.Binds, scriptsBind(scriptsDir))
	return &nspawnContainer{
		rt:         r,
		cfg:        cfg,
		instance:   instance,
		steps:      &scopedSteps{},
		scriptsDir: scriptsDir,
	}, nil
}

// scriptsBind mounts the per-container scratch directory RunScript writes
// rendered scripts into, read-only, at the well-known guest path they are
// executed from.
func scriptsBind(scriptsDir string) binds.Config {
	return binds.Config{Source: scriptsDir, Destination: guestScriptsDir, Type: binds.ReadOnly}
}

func machineName(name string) string {
	if name == "" {
		name = "monci"
	}
	return "monci-" + sanitizeMachineName(name)
}

func sanitizeMachineName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

type nspawnContainer struct {
	rt         *NspawnRuntime
	cfg        Config
	instance   string
	steps      *scopedSteps
	pid        int
	linger     bool
	scriptsDir string
}

func (c *nspawnContainer) SetLinger(v bool) { c.linger = v }

func (c *nspawnContainer) Enter(ctx context.Context) error {
	if c.cfg.RequireCgroupV1 && c.rt.CgroupUnified {
		return &CannotStartError{Reason: "guest requires cgroup v1 but host is booted cgroup-v2-only; boot with systemd.unified_cgroup_hierarchy=0"}
	}

	// 1. host setup of binds, in declared order.
	for _, b := range c.cfg.Binds {
		b := b
		teardown, err := b.HostSetup(c)
		if err != nil {
			c.steps.Unwind()
			return err
		}
		c.steps.Enter(teardown)
	}

	// 2. start backend.
	argv := c.startArgv()
	if _, _, _, err := c.rt.Exec.Run(ctx, argv); err != nil {
		c.steps.Unwind()
		return fmt.Errorf("nspawn: start: %w", err)
	}
	c.steps.Enter(func() error { return c.terminate(context.Background()) })

	pid, err := c.pollLeaderPID(ctx)
	if err != nil {
		c.steps.Unwind()
		return err
	}
	c.pid = pid

	// 3. guest setup of binds, after start, before user scripts.
	for _, b := range c.cfg.Binds {
		b := b
		teardown, err := b.GuestSetup(c)
		if err != nil {
			c.steps.Unwind()
			return err
		}
		c.steps.Enter(teardown)
	}

	// 4. run all config.guestScripts.setup, in declared order.
	for _, s := range c.cfg.GuestSetup {
		if _, err := c.RunScript(ctx, s); err != nil {
			c.steps.Unwind()
			return err
		}
	}

	return nil
}

func (c *nspawnContainer) startArgv() []string {
	argv := []string{
		"systemd-run",
		"--unit=" + c.instance,
		"--property=Slice=machine.slice",
		"--property=Delegate=yes",
		"--property=SuccessExitStatus=133",
		"--property=RestartForceExitStatus=133",
		"--",
		"systemd-nspawn", "--quiet",
		"--directory=" + c.rt.RootFS,
		"--machine=" + c.instance,
		"--boot", "--notify-ready=yes",
		"--resolv-conf=replace-host",
	}
	tmpfs := c.cfg.Tmpfs != nil && *c.cfg.Tmpfs
	if c.cfg.Ephemeral {
		if tmpfs {
			argv = append(argv, "--volatile=overlay", "--read-only")
		} else {
			argv = append(argv, "--ephemeral")
		}
	}
	for _, b := range c.cfg.Binds {
		argv = append(argv, b.ToNspawn())
	}
	return argv
}

func (c *nspawnContainer) pollLeaderPID(ctx context.Context) (int, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		// dbus not reachable (e.g. in a test sandbox): fall back to
		// `machinectl show` polling, matching the teacher's
		// exec-and-parse posture for anything not worth a dedicated
		// client library.
		return c.pollLeaderPIDViaMachinectl(ctx)
	}
	defer conn.Close()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		props, err := conn.GetUnitPropertiesContext(ctx, c.instance+".service")
		if err == nil {
			if mp, ok := props["MainPID"]; ok {
				if pid, ok := mp.(uint32); ok && pid != 0 {
					return int(pid), nil
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return 0, fmt.Errorf("nspawn: timed out waiting for %s leader PID", c.instance)
}

func (c *nspawnContainer) pollLeaderPIDViaMachinectl(ctx context.Context) (int, error) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		out, _, _, err := c.rt.Exec.Run(ctx, []string{"machinectl", "show", c.instance, "-p", "Leader"})
		if err == nil {
			if pid, ok := parseLeaderLine(out); ok {
				return pid, nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return 0, fmt.Errorf("nspawn: timed out waiting for %s leader PID", c.instance)
}

func parseLeaderLine(out string) (int, bool) {
	line := strings.TrimSpace(out)
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || pid == 0 {
		return 0, false
	}
	return pid, true
}

func (c *nspawnContainer) Close(ctx context.Context) error {
	if c.linger || c.cfg.Linger {
		return nil
	}
	return c.steps.Unwind()
}

// terminate sends SIGRTMIN+4 to the leader and polls kill(pid,0) every
// 100ms until ESRCH, per spec.md §5. The leader is a systemd-managed unit
// rather than a child of this process, so there is no *exec.Cmd to hand
// to pkg `kill`; the hard-kill fallback talks to the same pid/pgid
// directly via the raw syscall.
func (c *nspawnContainer) terminate(ctx context.Context) error {
	if c.pid == 0 {
		return nil
	}
	sig := syscall.Signal(34 + 4) // SIGRTMIN is 34 on Linux/glibc
	_ = syscall.Kill(c.pid, sig)

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(c.pid, 0); err != nil {
			return nil // ESRCH: process is gone
		}
		time.Sleep(100 * time.Millisecond)
	}
	// Fall back to a hard kill of the process group if the polite
	// signal never landed.
	return syscall.Kill(-c.pid, syscall.SIGKILL)
}

func (c *nspawnContainer) Run(ctx context.Context, argv []string, rc RunConfig) (Completed, error) {
	runArgv := []string{
		"systemd-run", "--machine=" + c.instance,
		"--wait", "--pipe", "--service-type=exec",
	}
	if rc.Cwd != "" {
		runArgv = append(runArgv, "--working-directory="+rc.Cwd)
	} else if d := c.cwdBind(); d != "" {
		runArgv = append(runArgv, "--working-directory="+d)
	}
	if rc.User != nil {
		runArgv = append(runArgv, "--uid="+strconv.Itoa(rc.User.UID), "--gid="+strconv.Itoa(rc.User.GID))
	}
	if !rc.UsePath {
		runArgv = append(runArgv, "--property=ExecSearchPath=/dev/null")
	}
	runArgv = append(runArgv, "--")
	runArgv = append(runArgv, argv...)

	stdout, stderr, code, err := c.rt.Exec.Run(ctx, runArgv)
	if err != nil {
		return Completed{}, fmt.Errorf("nspawn: run %v: %w", argv, err)
	}
	result := Completed{Stdout: stdout, Stderr: stderr, ExitCode: code}
	if rc.Check && code != 0 {
		return result, &ExitError{Argv: argv, Completed: result}
	}
	return result, nil
}

func (c *nspawnContainer) cwdBind() string {
	for _, b := range c.cfg.Binds {
		if b.Cwd {
			return b.Destination
		}
	}
	return ""
}

func (c *nspawnContainer) RunScript(ctx context.Context, s *script.Script) (Completed, error) {
	guestPath := guestScriptsDir + "/" + scriptFileName(s)
	if err := c.writeScriptFile(s); err != nil {
		return Completed{}, err
	}
	rc := DefaultRunConfig()
	if s.Cwd != "" {
		rc.Cwd = s.Cwd
	}
	rc.DisableNetwork = s.DisableNetwork
	argv := []string{"/bin/sh", guestPath}
	if s.DisableNetwork {
		argv = append([]string{"unshare", "--net"}, argv...)
	}
	return c.Run(ctx, argv, rc)
}

// writeScriptFile renders s and writes it into this container's
// scripts scratch directory, already bound read-only into the guest at
// guestScriptsDir by scriptsBind.
func (c *nspawnContainer) writeScriptFile(s *script.Script) error {
	hostFile := c.scriptsDir + "/" + scriptFileName(s)
	return os.WriteFile(hostFile, []byte(s.Render()), 0o755)
}

func scriptFileName(s *script.Script) string {
	name := sanitizeMachineName(s.Title)
	if name == "" {
		name = "script"
	}
	return name + ".sh"
}

func (c *nspawnContainer) RunCallable(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	// Real namespace-joining (fork, setns over cgroup/ipc/net/pid/time/
	// user/uts, mnt last, per spec.md §9) requires CGO and platform
	// syscalls beyond what a fork-and-setns sequence can express safely
	// in pure Go without re-exec support; pkg/container/nspawn_callable.go
	// implements the documented sequence behind a build tag. Here we
	// delegate to it.
	return runCallableViaNamespaces(ctx, c.pid, fn)
}

func (c *nspawnContainer) RunShell(ctx context.Context, rc RunConfig) error {
	shell := "/bin/sh"
	if env := os.Getenv("SHELL"); env != "" {
		shell = env
	}
	argv := []string{shell, "--login"}
	rc.Interactive = true
	_, err := c.Run(ctx, argv, rc)
	return err
}

func (c *nspawnContainer) GetRoot() string { return c.rt.RootFS }

func (c *nspawnContainer) GetPID() (int, error) {
	if c.pid == 0 {
		return 0, fmt.Errorf("nspawn: container not started")
	}
	return c.pid, nil
}

// RunGuestScript/RunHostScript/HostRoot satisfy binds.ContainerHandle.
func (c *nspawnContainer) RunGuestScript(s *script.Script) error {
	_, err := c.RunScript(context.Background(), s)
	return err
}
func (c *nspawnContainer) RunHostScript(s *script.Script) error {
	_, _, _, err := c.rt.Exec.Run(context.Background(), []string{"/bin/sh", "-c", s.Render()})
	return err
}
func (c *nspawnContainer) HostRoot() string { return c.rt.RootFS }

// ExitError mirrors a CalledProcessError-style failure: captured stdout/
// stderr plus return code, raised verbatim unless RunConfig.Check=false
// (spec.md §7 "Subprocess failure").
type ExitError struct {
	Argv []string
	Completed
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %v exited %d", e.Argv, e.ExitCode)
}
