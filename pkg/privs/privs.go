// Package privs implements scoped "as root" / "as user" privilege
// regions using the saved-uid trick, cooperating with an auto-sudo
// capability.
//
// Grounded on the teacher's OSCommand subprocess boundary (pkg/commands
// os.go): where OSCommand always execs as the current process identity,
// this package is the missing piece spec.md's C9 requires -- a process
// that starts privileged (root, via sudo) and drops to an unprivileged
// uid/gid for most work, re-entering root only for scoped filesystem
// operations (image store writes, bind mounts, container start). The
// setresuid(2)/setresgid(2) calls are x/sys/unix, the same package the
// teacher's indirect dependency graph already carries in for podman.
package privs

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNeedsSudo is returned by NeedsSudo when autoSudo was not requested
// and the process does not already have root.
var ErrNeedsSudo = fmt.Errorf("this operation requires root; re-run under sudo or pass --auto-sudo")

// Invoker describes the user who invoked the process, recovered from
// SUDO_* environment variables when launched via sudo.
type Invoker struct {
	Name string
	UID  int
	GID  int
}

// Gate tracks the process's saved uid/gid triples and exposes LIFO-scoped
// root()/user() regions.
type Gate struct {
	mu sync.Mutex

	realUID, effUID, savedUID int
	realGID, effGID, savedGID int

	invoker *Invoker
	dropped bool // true once we've entered the "as user" baseline state

	stack []string // "root" / "user", for LIFO enforcement
}

// NewGate captures the process's current uid/gid triples and, if
// launched via sudo, records the invoking user and immediately drops to
// that identity (real=euid=invoker, saved=0), matching spec.md §4.9.
func NewGate() (*Gate, error) {
	g := &Gate{
		realUID: os.Getuid(), effUID: os.Geteuid(),
		realGID: os.Getgid(), effGID: os.Getegid(),
	}
	g.savedUID = g.effUID
	g.savedGID = g.effGID

	if inv, ok := invokerFromEnv(); ok {
		g.invoker = inv
		if err := g.dropToInvoker(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func invokerFromEnv() (*Invoker, bool) {
	name := os.Getenv("SUDO_USER")
	if name == "" {
		return nil, false
	}
	uid, err1 := strconv.Atoi(os.Getenv("SUDO_UID"))
	gid, err2 := strconv.Atoi(os.Getenv("SUDO_GID"))
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return &Invoker{Name: name, UID: uid, GID: gid}, true
}

func (g *Gate) dropToInvoker() error {
	if err := unix.Setresuid(g.invoker.UID, g.invoker.UID, 0); err != nil {
		return fmt.Errorf("privs: drop to invoker uid: %w", err)
	}
	if err := unix.Setresgid(g.invoker.GID, g.invoker.GID, 0); err != nil {
		return fmt.Errorf("privs: drop to invoker gid: %w", err)
	}
	g.dropped = true
	syncHomeUser(g.invoker.Name, g.invoker.UID)
	return nil
}

// Invoker returns the sudo-recovered invoking user, or nil when this
// process was not launched via sudo.
func (g *Gate) Invoker() *Invoker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.invoker
}

// Root temporarily escalates to uid/gid 0 (setresuid(0,0,invoker)),
// running fn, then restores the prior identity. Enter/exit must nest in
// strict LIFO order with User.
func (g *Gate) Root(fn func() error) error {
	g.mu.Lock()
	if !g.dropped {
		g.mu.Unlock()
		// Never dropped (no sudo invoker): already root, nothing to do.
		return fn()
	}
	saved := g.invoker.UID
	if err := unix.Setresuid(0, 0, saved); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("privs: enter root: %w", err)
	}
	if err := unix.Setresgid(0, 0, g.invoker.GID); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("privs: enter root (gid): %w", err)
	}
	g.stack = append(g.stack, "root")
	syncHomeUser("root", 0)
	g.mu.Unlock()

	err := fn()

	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.stack); n == 0 || g.stack[n-1] != "root" {
		panic("privs: Root/User regions must nest in strict LIFO order")
	}
	g.stack = g.stack[:len(g.stack)-1]
	if rerr := g.dropToInvoker(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// User temporarily drops to the invoking user's uid/gid, running fn, then
// restores root. This is the inverse of Root and is only meaningful
// while root is the active identity, i.e. nested inside a Root scope
// (NewGate has already dropped to the invoker at process start).
func (g *Gate) User(fn func() error) error {
	if g.invoker == nil {
		return fmt.Errorf("privs: no invoking user recorded; was this process launched via sudo?")
	}
	g.mu.Lock()
	if err := g.dropToInvoker(); err != nil {
		g.mu.Unlock()
		return err
	}
	g.stack = append(g.stack, "user")
	g.mu.Unlock()

	err := fn()

	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.stack); n == 0 || g.stack[n-1] != "user" {
		panic("privs: Root/User regions must nest in strict LIFO order")
	}
	g.stack = g.stack[:len(g.stack)-1]
	if rerr := unix.Setresuid(0, 0, g.invoker.UID); rerr != nil && err == nil {
		err = fmt.Errorf("privs: restore root: %w", rerr)
	}
	if rerr := unix.Setresgid(0, 0, g.invoker.GID); rerr != nil && err == nil {
		err = fmt.Errorf("privs: restore root (gid): %w", rerr)
	}
	syncHomeUser("root", 0)
	return err
}

// NeedsSudo re-execs the process via sudo when autoSudo is true and the
// process is not already root; otherwise it returns ErrNeedsSudo.
func (g *Gate) NeedsSudo(autoSudo bool, reexec func() error) error {
	if os.Geteuid() == 0 {
		return nil
	}
	if !autoSudo {
		return ErrNeedsSudo
	}
	return reexec()
}

// syncHomeUser re-syncs HOME/USER to match the active identity, as
// spec.md §4.9 requires on every transition.
func syncHomeUser(name string, uid int) {
	os.Setenv("USER", name)
	if name == "root" {
		os.Setenv("HOME", "/root")
		return
	}
	if home := lookupHomeDir(uid); home != "" {
		os.Setenv("HOME", home)
	}
}
