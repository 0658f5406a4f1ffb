package distro

import (
	"fmt"

	"github.com/arpa-simc/monci/pkg/script"
)

// BootstrapPlan describes the host-side commands needed to seed a fresh
// root filesystem for a Distro at path. It does not execute anything --
// callers (pkg/image) run Argv via an os/exec-style runner, honoring the
// same "opaque subprocess" boundary spec.md §1 draws around apt-get/dnf/
// debootstrap/git.
type BootstrapPlan struct {
	// Argv is the primary bootstrap command (debootstrap/mmdebstrap/dnf/yum).
	Argv []string
	// KeyringURL, when non-empty, must be downloaded to a temp file and
	// passed as --keyring before Argv runs.
	KeyringURL string
	// NeedsRPMDBRebuild is set for RPM families whose installer wrote a
	// private rpmdb under <root>/root/.rpmdb that must be relocated to
	// <root>/var/lib/rpm and rebuilt from inside an nspawn shell.
	NeedsRPMDBRebuild bool
}

// Bootstrap returns the BootstrapPlan for seeding path with this distro,
// preferring mmdebstrap over debootstrap on Debian-family, and dnf over
// yum on RPM families (except CentOS 7, which has no dnf).
func (d *Distro) Bootstrap(path string, haveMmdebstrap, haveDebootstrap, haveDnf, haveYum bool) (*BootstrapPlan, error) {
	switch d.Family {
	case Debian, Ubuntu:
		var argv []string
		switch {
		case haveMmdebstrap:
			argv = []string{"mmdebstrap", "--variant=apt", d.Version, path, d.MirrorURL}
		case haveDebootstrap:
			argv = []string{"debootstrap", d.Version, path, d.MirrorURL}
		default:
			return nil, fmt.Errorf("neither mmdebstrap nor debootstrap found on host")
		}
		plan := &BootstrapPlan{Argv: argv}
		if d.archived() {
			plan.KeyringURL = d.KeyringURL
		}
		return plan, nil
	case Fedora, Rocky, AlmaLinux:
		if !haveDnf && !haveYum {
			return nil, fmt.Errorf("neither dnf nor yum found on host")
		}
		tool := "dnf"
		if !haveDnf {
			tool = "yum"
		}
		argv := []string{
			tool, "--installroot=" + path,
			"--releasever=" + d.Version,
			"-y", "install",
		}
		argv = append(argv, d.BasePackages...)
		return &BootstrapPlan{Argv: argv, NeedsRPMDBRebuild: true}, nil
	case CentOS:
		argv := []string{
			"yum", "--installroot=" + path,
			"--releasever=" + d.Version,
			"-y", "install",
		}
		argv = append(argv, d.BasePackages...)
		return &BootstrapPlan{Argv: argv, NeedsRPMDBRebuild: true}, nil
	}
	return nil, fmt.Errorf("unsupported family %s", d.Family)
}

// archived reports whether this release version has left the active
// mirrors and needs a pinned archive keyring (Debian/Ubuntu only).
func (d *Distro) archived() bool {
	return d.KeyringURL != ""
}

// RenderRPMDBRebuild appends the rpmdb relocate+rebuild steps run inside
// an nspawn shell after a dnf/yum --installroot bootstrap, when the
// installer produced a private rpmdb under <root>/root/.rpmdb.
func RenderRPMDBRebuild(s *script.Script) {
	s.If("[ -d /root/.rpmdb ]").
		Run("mv", "/root/.rpmdb", "/var/lib/rpm").
		End()
	s.Run("rpmdb", "--rebuilddb")
}
