package distro

import (
	"fmt"
	"strings"
	"sync"
)

// Catalog enumerates the supported distributions and resolves names,
// aliases and os-release tuples to a Distro.
type Catalog struct {
	mu        sync.RWMutex
	distros   []*Distro
	byFull    map[string]*Distro
	byAlias   map[string]*Distro
	byOSRelID map[string]*Distro // "<ID>:<VERSION_ID>" lowercased
}

// NewCatalog builds the default catalog (debian, ubuntu, fedora, rocky,
// almalinux, centos) with the baseline versions this orchestrator has
// recipes for.
func NewCatalog() *Catalog {
	c := &Catalog{
		byFull:    map[string]*Distro{},
		byAlias:   map[string]*Distro{},
		byOSRelID: map[string]*Distro{},
	}
	for _, d := range defaultDistros() {
		c.Add(d)
	}
	return c
}

// Add registers a Distro, indexing its full name, aliases and os-release id.
func (c *Catalog) Add(d *Distro) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.distros = append(c.distros, d)
	c.byFull[strings.ToLower(d.FullName)] = d
	for _, a := range aliasesFold(d) {
		c.byAlias[a] = d
	}
	osReleaseID := osReleaseFamilyID(d.Family)
	c.byOSRelID[strings.ToLower(osReleaseID+":"+d.Version)] = d
}

// LookupFamily returns all distros of a named family in catalog order.
func (c *Catalog) LookupFamily(name string) []*Distro {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Distro
	for _, d := range c.distros {
		if strings.EqualFold(string(d.Family), name) {
			out = append(out, d)
		}
	}
	return out
}

// LookupDistro resolves a full name or alias (case-insensitively) to a
// Distro. Alias lookups resolve across families.
func (c *Catalog) LookupDistro(nameOrAlias string) (*Distro, error) {
	key := strings.ToLower(nameOrAlias)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.byFull[key]; ok {
		return d, nil
	}
	if d, ok := c.byAlias[key]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown distro %q", nameOrAlias)
}

// FromOSRelease maps parsed /etc/os-release fields (ID, VERSION_ID) to a
// Distro. Debian's testing/sid duo falls back to the documented "sid"
// mapping when VERSION_ID is absent (testing carries no VERSION_ID).
func (c *Catalog) FromOSRelease(parsed map[string]string, fallback string) (*Distro, error) {
	id := strings.ToLower(parsed["ID"])
	version := parsed["VERSION_ID"]
	if id == "debian" && version == "" {
		version = "sid"
	}
	c.mu.RLock()
	d, ok := c.byOSRelID[strings.ToLower(id+":"+version)]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}
	if fallback != "" {
		return c.LookupDistro(fallback)
	}
	return nil, fmt.Errorf("no catalog entry for os-release ID=%s VERSION_ID=%s", id, version)
}

// FromPath reads ${root}/etc/os-release with POSIX-shell quoting rules and
// resolves it to a Distro.
func (c *Catalog) FromPath(rootFS string) (*Distro, error) {
	parsed, err := ParseOSReleaseFile(rootFS)
	if err != nil {
		return nil, err
	}
	return c.FromOSRelease(parsed, "")
}

// osReleaseFamilyID maps a Family to the os-release ID field value that
// identifies it (these coincide with the family name for every family in
// this catalog except centos/almalinux/rocky which also share this
// convention upstream).
func osReleaseFamilyID(f Family) string {
	switch f {
	case AlmaLinux:
		return "almalinux"
	case Rocky:
		return "rocky"
	default:
		return string(f)
	}
}

func defaultDistros() []*Distro {
	var out []*Distro

	for _, v := range []struct {
		version string
		aliases []string
		keyring bool
	}{
		{"11", []string{"bullseye"}, false},
		{"12", []string{"bookworm"}, false},
		{"13", []string{"trixie"}, false},
		{"testing", nil, false},
		{"sid", []string{"unstable"}, false},
	} {
		d := newDistro(Debian, v.version, Distro{
			Aliases:      v.aliases,
			PkgManager:   PkgAPT,
			MirrorURL:    "http://deb.debian.org/debian",
			BasePackages: []string{"bash", "dbus", "systemd", "apt-utils", "eatmydata", "iproute2"},
		})
		out = append(out, d)
	}

	for _, v := range []struct {
		version string
		aliases []string
	}{
		{"20.04", []string{"focal"}},
		{"22.04", []string{"jammy"}},
		{"24.04", []string{"noble"}},
	} {
		d := newDistro(Ubuntu, v.version, Distro{
			Aliases:      v.aliases,
			PkgManager:   PkgAPT,
			MirrorURL:    "http://archive.ubuntu.com/ubuntu",
			KeyringURL:   "http://archive.ubuntu.com/ubuntu/pool/main/u/ubuntu-keyring/",
			BasePackages: []string{"bash", "dbus", "systemd", "apt-utils", "eatmydata", "iproute2"},
		})
		out = append(out, d)
	}

	for _, version := range []string{"38", "39", "40", "41", "42"} {
		d := newDistro(Fedora, version, Distro{
			Aliases:      []string{"fedora" + version},
			PkgManager:   PkgDNF,
			MirrorURL:    "https://download.fedoraproject.org/pub/fedora/linux/releases/" + version + "/Everything/$basearch/os/",
			BasePackages: []string{"bash", "dbus", "dnf", "iproute", "rootfiles"},
		})
		out = append(out, d)
	}

	for _, version := range []string{"8", "9"} {
		d := newDistro(Rocky, version, Distro{
			Aliases:      []string{"rocky" + version},
			PkgManager:   PkgDNF,
			MirrorURL:    "https://download.rockylinux.org/pub/rocky/" + version + "/BaseOS/$basearch/os/",
			BasePackages: []string{"bash", "dbus", "dnf", "iproute", "rootfiles"},
		})
		out = append(out, d)
	}

	for _, version := range []string{"8", "9"} {
		d := newDistro(AlmaLinux, version, Distro{
			Aliases:      []string{"almalinux" + version, "alma" + version},
			PkgManager:   PkgDNF,
			MirrorURL:    "https://repo.almalinux.org/almalinux/" + version + "/BaseOS/$basearch/os/",
			BasePackages: []string{"bash", "dbus", "dnf", "iproute", "rootfiles"},
		})
		out = append(out, d)
	}

	centos7 := newDistro(CentOS, "7", Distro{
		Aliases:      []string{"centos7"},
		PkgManager:   PkgYum,
		MirrorURL:    "https://vault.centos.org/centos/7/os/$basearch/",
		BasePackages: []string{"bash", "dbus", "yum", "iproute", "rootfiles"},
		CgroupV1:     true,
	})
	out = append(out, centos7)

	return out
}
