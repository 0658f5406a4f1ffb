// Package binds implements the typed bind-mount policy: readonly,
// read-write, volatile overlay, apt-cache, apt-packages mirror, and
// artifacts mounts, each with per-type host/guest setup hooks.
//
// Grounded on the pack's devcontainer-style mount/lifecycle-hook
// resolvers (other_examples griffithind-dcx "devcontainer/resolved.go",
// nlsantos-brig "writ/devcontainer.go") and the packer-podman/turret
// "builder config" shapes (other_examples ddreggors-packer-plugin-podman,
// ok-ryoko-turret) for the host/guest setup-hook split; rendered to
// nspawn argv the way spec.md §4.5 describes (`--bind=`/`--bind-ro=`
// with backslash-escaped colons) and to a Podman mount spec via the
// containers/podman/v5 bindings' own mount-by-string convention.
package binds

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arpa-simc/monci/pkg/script"
)

// Type discriminates bind-mount behaviour.
type Type string

const (
	ReadOnly    Type = "ro"
	ReadWrite   Type = "rw"
	Volatile    Type = "volatile"
	AptCache    Type = "aptcache"
	AptPackages Type = "aptpackages"
	Artifacts   Type = "artifacts"
)

// Config is one typed bind mount.
type Config struct {
	Source      string // HostPath
	Destination string // GuestPath
	Type        Type
	// Cwd marks this bind's destination as the container's default
	// working directory.
	Cwd bool
}

// ContainerHandle is the minimal surface binds need from a running
// container to install their setup/teardown scripts: running a script
// inside the guest or on the host, and knowing the container's root
// filesystem path on the host. The hooks in this package use only
// RunGuestScript; none of them calls RunHostScript or HostRoot.
type ContainerHandle interface {
	RunGuestScript(s *script.Script) error
	RunHostScript(s *script.Script) error
	HostRoot() string
}

// ToNspawn renders the --bind=/--bind-ro= argv fragment for this bind,
// backslash-escaping colons in paths per spec.md §4.4.
func (c Config) ToNspawn() string {
	src := escapeColons(c.Source)
	dst := escapeColons(c.Destination)
	switch c.Type {
	case ReadOnly:
		return fmt.Sprintf("--bind-ro=%s:%s", src, dst)
	case Volatile:
		return fmt.Sprintf("--bind=%s:%s-readonly", src, dst)
	default:
		return fmt.Sprintf("--bind=%s:%s", src, dst)
	}
}

func escapeColons(path string) string {
	return strings.ReplaceAll(path, ":", `\:`)
}

// FromNspawn parses an nspawn --bind=/--bind-ro= argv fragment back into
// a Config of the given type, used by the bind round-trip invariant
// (spec.md §8 invariant 4).
func FromNspawn(arg string, t Type) (Config, error) {
	var body string
	switch {
	case strings.HasPrefix(arg, "--bind-ro="):
		body = strings.TrimPrefix(arg, "--bind-ro=")
	case strings.HasPrefix(arg, "--bind="):
		body = strings.TrimPrefix(arg, "--bind=")
	default:
		return Config{}, fmt.Errorf("binds: not a bind argv fragment: %q", arg)
	}
	parts := splitUnescapedColon(body)
	if len(parts) != 2 {
		return Config{}, fmt.Errorf("binds: malformed bind fragment: %q", arg)
	}
	src := unescapeColons(parts[0])
	dst := unescapeColons(parts[1])
	if t == Volatile {
		dst = strings.TrimSuffix(dst, "-readonly")
	}
	return Config{Source: src, Destination: dst, Type: t}, nil
}

func splitUnescapedColon(s string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == ':' {
			cur.WriteByte(':')
			i++
			continue
		}
		if s[i] == ':' {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	parts = append(parts, cur.String())
	return parts
}

func unescapeColons(s string) string {
	return strings.ReplaceAll(s, `\:`, ":")
}

// PodmanMount is the subset of a Podman mount-spec this orchestrator
// needs: see containers/podman/v5/pkg/specgen's Mount shape, reproduced
// narrowly here because the full SpecGenerator type pulls in far more
// than a single bind needs.
type PodmanMount struct {
	Source      string
	Destination string
	ReadOnly    bool
	Type        string // "bind" or "tmpfs" (volatile)
}

// ToPodman renders the mount-spec fragment for the Podman backend.
func (c Config) ToPodman() PodmanMount {
	m := PodmanMount{Source: c.Source, Destination: c.Destination, Type: "bind"}
	switch c.Type {
	case ReadOnly:
		m.ReadOnly = true
	case Volatile:
		m.Type = "tmpfs"
	}
	return m
}

// volatileOverlayDir derives the /run/volatile/<sha1(dst)> path nspawn
// uses for a volatile bind's upperdir/workdir, per spec.md §4.5.
func volatileOverlayDir(destination string) string {
	sum := sha1.Sum([]byte(destination))
	return "/run/volatile/" + hex.EncodeToString(sum[:])
}

// HostSetup runs this bind's host-side setup step (entry) for the given
// scope; returns a teardown func to run on scope exit (possibly a no-op).
func (c Config) HostSetup(h ContainerHandle) (teardown func() error, err error) {
	switch c.Type {
	case AptCache:
		return noopTeardown, nil
	default:
		return noopTeardown, nil
	}
}

// GuestSetup runs this bind's guest-side setup step after the container
// is live and before the first user script; returns a teardown func.
func (c Config) GuestSetup(h ContainerHandle) (teardown func() error, err error) {
	switch c.Type {
	case Volatile:
		return c.guestSetupVolatile(h)
	case AptCache:
		return c.guestSetupAptCache(h)
	case AptPackages:
		return c.guestSetupAptPackages(h)
	case Artifacts:
		return c.guestSetupArtifacts(h)
	default:
		return noopTeardown, nil
	}
}

func noopTeardown() error { return nil }

func (c Config) guestSetupVolatile(h ContainerHandle) (func() error, error) {
	overlayDir := volatileOverlayDir(c.Destination)
	s := script.New("mount volatile overlay for " + c.Destination)
	s.Run("mkdir", "-p", overlayDir+"/upper", overlayDir+"/work")
	s.Run("mount", "-t", "overlay", "overlay",
		"-o", fmt.Sprintf("lowerdir=%s,upperdir=%s/upper,workdir=%s/work", c.Destination, overlayDir, overlayDir),
		c.Destination)
	if err := h.RunGuestScript(s); err != nil {
		return noopTeardown, err
	}
	return func() error {
		t := script.New("unmount volatile overlay for " + c.Destination)
		t.Run("umount", c.Destination)
		return h.RunGuestScript(t)
	}, nil
}

func (c Config) guestSetupAptCache(h ContainerHandle) (func() error, error) {
	s := script.New("enable apt cache at " + c.Destination)
	s.Run("sh", "-c", `echo 'Binary::apt::APT::Keep-Downloaded-Packages "true";' > /etc/apt/apt.conf.d/99-monci-keep-cache`)
	s.If(`id -u _apt >/dev/null 2>&1`).
		Run("chown", "-R", "_apt", c.Destination).
		End()
	if err := h.RunGuestScript(s); err != nil {
		return noopTeardown, err
	}
	return func() error {
		t := script.New("restore apt cache ownership")
		t.If(fmt.Sprintf(`[ -f %s/.monci-owner ]`, c.Destination)).
			Run("chown", "--reference="+c.Destination+"/.monci-owner", "-R", c.Destination).
			End()
		return h.RunGuestScript(t)
	}, nil
}

func (c Config) guestSetupAptPackages(h ContainerHandle) (func() error, error) {
	s := script.New("mount local apt repository at " + c.Destination)
	s.Line("apt-ftparchive packages %s > %s/Packages", script.Quote(c.Destination), c.Destination)
	s.Line(`echo "deb [trusted=yes] file://%s ./" > /etc/apt/sources.list.d/monci-local.list`, c.Destination)
	s.Run("apt-get", "update")
	if err := h.RunGuestScript(s); err != nil {
		return noopTeardown, err
	}
	return func() error {
		t := script.New("unmount local apt repository")
		t.Run("rm", "-f", "/etc/apt/sources.list.d/monci-local.list", c.Destination+"/Packages")
		return h.RunGuestScript(t)
	}, nil
}

func (c Config) guestSetupArtifacts(h ContainerHandle) (func() error, error) {
	return func() error {
		t := script.New("fix artifact ownership at " + c.Destination)
		t.Run("chown", "-R", "--reference="+c.Destination, c.Destination)
		return h.RunGuestScript(t)
	}, nil
}
