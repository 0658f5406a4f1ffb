// Package distro implements the distribution catalog (debian, ubuntu,
// fedora, rocky, almalinux, centos): the per-family recipe tables for
// bootstrap/update/install, and lookup by name, alias or os-release.
//
// The table-driven family registry is grounded on the pack's own
// distro-catalog shapes (osbuild/images' pkg/distro/fedora and
// pkg/distro/rhel9 "ImageType"/package-set tables, and
// osbuild-composer's internal/distro/rhel7), generalized into
// Family/Distro structs that render shell commands onto a
// pkg/script.Script instead of building argv slices directly, matching
// spec.md §4.1 ("renders shell commands by appending lines to a
// Script").
package distro

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/arpa-simc/monci/pkg/script"
)

// Family identifies a distribution family.
type Family string

const (
	Debian    Family = "debian"
	Ubuntu    Family = "ubuntu"
	Fedora    Family = "fedora"
	Rocky     Family = "rocky"
	AlmaLinux Family = "almalinux"
	CentOS    Family = "centos"
)

// PackageManager identifies the package manager family used to render
// update/upgrade/install commands.
type PackageManager int

const (
	PkgAPT PackageManager = iota
	PkgDNF
	PkgYum
)

// Distro is a single supported (family, version) pair.
type Distro struct {
	Family       Family
	Version      string
	FullName     string // family + ":" + version
	Aliases      []string
	CgroupV1     bool
	SystemdMajor int // 0 == unknown/not applicable

	PkgManager    PackageManager
	MirrorURL     string
	KeyringURL    string // optional archive-keyring URL
	BasePackages  []string
	BuildDepsMeta []string // extra packages installed alongside build-deps (e.g. debian apt-utils eatmydata iproute2)
}

// newDistro constructs a Distro, deriving FullName.
func newDistro(family Family, version string, opts Distro) *Distro {
	d := opts
	d.Family = family
	d.Version = version
	d.FullName = string(family) + ":" + version
	return &d
}

// RenderUpdatePkgDB appends the "refresh the package index" step.
func (d *Distro) RenderUpdatePkgDB(s *script.Script) {
	switch d.PkgManager {
	case PkgAPT:
		s.Run("apt-get", "update")
	case PkgDNF:
		// dnf check-update exits 100 when updates are available; that
		// is not a failure, so it is wrapped to tolerate it.
		s.Line("dnf check-update -q -y || [ $? -eq 100 ]")
	case PkgYum:
		s.Line("yum check-update -q -y || [ $? -eq 100 ]")
	}
}

// RenderUpgrade appends the "upgrade the whole system" step.
func (d *Distro) RenderUpgrade(s *script.Script) {
	switch d.PkgManager {
	case PkgAPT:
		s.Run("apt-get", "-o", "Dpkg::Options::=--force-confnew", "--yes", "full-upgrade")
	case PkgDNF:
		s.Run("dnf", "upgrade", "-q", "-y")
	case PkgYum:
		s.Run("yum", "upgrade", "-q", "-y")
	}
}

// RenderInstall appends the "install these packages" step.
func (d *Distro) RenderInstall(s *script.Script, packages []string) {
	if len(packages) == 0 {
		return
	}
	sorted := uniqSorted(packages)
	switch d.PkgManager {
	case PkgAPT:
		argv := append([]string{"apt-get", "-o", "Dpkg::Options::=--force-confnew", "--yes", "satisfy"}, sorted...)
		s.Run(argv...)
	case PkgDNF:
		argv := append([]string{"dnf", "install", "-q", "-y"}, sorted...)
		s.Run(argv...)
	case PkgYum:
		argv := append([]string{"yum", "install", "-q", "-y"}, sorted...)
		s.Run(argv...)
	}
}

// RenderPrepareBuildEnv appends distro-specific build-environment prep
// (man-db autoindex suppression on Debian, the dnf5-plugins shim for
// Fedora >= 41's builddep, etc).
func (d *Distro) RenderPrepareBuildEnv(s *script.Script) {
	switch d.Family {
	case Debian, Ubuntu:
		s.Comment("disable man-db autoindex during package installs")
		s.Line("debconf-set-selections <<'EOF'\nman-db man-db/auto-update boolean false\nEOF")
	case Fedora:
		if d.majorVersion() >= 41 {
			s.Run("dnf", "install", "-q", "-y", "dnf5-plugins")
		}
	case CentOS:
		if d.Version == "7" {
			s.Comment("CentOS 7 requires cgroup v1")
		}
	}
}

// BuildDepCommand returns the argv used to install build dependencies for
// a source tree at dir (Debian: apt-get build-dep; Fedora/Rocky/Alma:
// dnf/yum builddep).
func (d *Distro) BuildDepCommand(dir string) []string {
	switch d.PkgManager {
	case PkgAPT:
		return []string{"apt-get", "build-dep", dir}
	case PkgDNF:
		if d.Family == Fedora && d.majorVersion() >= 41 {
			return []string{"dnf", "builddep", "-y", dir}
		}
		return []string{"dnf", "builddep", "-y", dir}
	case PkgYum:
		return []string{"yum-builddep", "-y", dir}
	}
	return nil
}

// RenderGetVersions appends the "get-versions" probe used by C3's
// describe(): prints "<name> <version>" for each of packages that is
// actually installed, one per line. Debian/Ubuntu parse apt-get
// --simulate's "Inst" lines (nothing is actually installed); Fedora-
// family uses a small python-dnf snippet since dnf itself has no
// machine-readable "would resolve to" query; CentOS 7 queries rpm
// directly since the packages are already installed by definition.
func (d *Distro) RenderGetVersions(s *script.Script, packages []string) {
	if len(packages) == 0 {
		return
	}
	sorted := uniqSorted(packages)
	switch d.PkgManager {
	case PkgAPT:
		argv := append([]string{"apt-get", "--simulate", "install"}, sorted...)
		s.Line("%s 2>/dev/null | awk '/^Inst/ {print $2, $3}'", shellJoin(argv))
	case PkgDNF:
		s.Comment("python-dnf probe: print installed name/evr for each requested package")
		s.Line(`python3 -c "
import dnf, sys
b = dnf.Base()
b.fill_sack()
q = b.sack.query().installed()
for n in sys.argv[1:]:
    for p in q.filter(name=n):
        print(p.name, p.evr)
" %s`, shellJoin(sorted))
	case PkgYum:
		argv := append([]string{"rpm", "-q", "--qf", `%{NAME} %{VERSION}-%{RELEASE}\n`}, sorted...)
		s.Run(argv...)
	}
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = script.Quote(a)
	}
	return strings.Join(quoted, " ")
}

func (d *Distro) majorVersion() int {
	var major int
	fmt.Sscanf(d.Version, "%d", &major)
	return major
}

func uniqSorted(in []string) []string {
	out := lo.Uniq(in)
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer.
func (d *Distro) String() string { return d.FullName }

// aliasesFold builds a lowercase alias lookup table, including the full
// name and the bare version/family where unambiguous.
func aliasesFold(d *Distro) []string {
	out := make([]string, 0, len(d.Aliases)+1)
	out = append(out, strings.ToLower(d.FullName))
	for _, a := range d.Aliases {
		out = append(out, strings.ToLower(a))
	}
	return out
}
