package image

import (
	"context"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// nonNilScripts wraps s into a single-element slice, or returns nil if s
// is nil -- used where a single optional Maintscript needs the same
// shape as an aggregated chain's []*script.Script.
func nonNilScripts(s *script.Script) []*script.Script {
	if s == nil {
		return nil
	}
	return []*script.Script{s}
}

// aggregateChain dedups forwardUsers and packages across a root-first
// chain of BootstrappableConfig (spec.md invariant 6), preserving first-
// seen order, and collects every non-nil maintscript in chain order.
func aggregateChain(chain []*BootstrappableConfig) (forwardUsers, packages []string, maintscripts []*script.Script) {
	var users, pkgs []string
	for _, c := range chain {
		users = append(users, c.ForwardUsers...)
		pkgs = append(pkgs, c.Packages...)
		if c.Maintscript != nil {
			maintscripts = append(maintscripts, c.Maintscript)
		}
	}
	return lo.Uniq(users), lo.Uniq(pkgs), maintscripts
}

// chainConfigs walks cfg.Parent links up to the root, returning
// root-first BootstrappableConfigs. st.Image is used to resolve each
// ancestor by name; an ancestor image discovered on disk with no
// Bootstrappable attached (e.g. nothing in pkg/config recorded it) stops
// the walk there.
func chainConfigs(ctx context.Context, st Store, cfg *BootstrappableConfig) ([]*BootstrappableConfig, error) {
	chain := []*BootstrappableConfig{cfg}
	cur := cfg
	for cur.Parent != "" {
		parent, err := st.Image(ctx, cur.Parent)
		if err != nil {
			return nil, err
		}
		if parent.Bootstrappable == nil {
			break
		}
		chain = append([]*BootstrappableConfig{parent.Bootstrappable}, chain...)
		cur = parent.Bootstrappable
	}
	return chain, nil
}

// buildMaintenanceScripts renders the maintenance pipeline in the order
// spec.md §4.4 names: network setup, update pkgdb, upgrade, install
// packages, ensure forwarded users exist, maintscript(s) (root-first),
// cachedir-tag unless backup.
func buildMaintenanceScripts(d *distro.Distro, forwardUsers, packages []string, maintscripts []*script.Script, backup bool) []*script.Script {
	var out []*script.Script

	net := script.New("network setup")
	net.Comment("resolv.conf is wired by --resolv-conf=replace-host at container start; nothing else needed")
	out = append(out, net)

	updatePkgDB := script.New("update package database")
	d.RenderUpdatePkgDB(updatePkgDB)
	out = append(out, updatePkgDB)

	upgrade := script.New("upgrade system")
	d.RenderUpgrade(upgrade)
	out = append(out, upgrade)

	if len(packages) > 0 {
		install := script.New("install configured packages")
		d.RenderInstall(install, packages)
		out = append(out, install)
	}

	if s := ensureUsersScript(forwardUsers); s != nil {
		out = append(out, s)
	}

	out = append(out, maintscripts...)

	if !backup {
		out = append(out, cachedirTagScript())
	}

	return out
}

// ensureUsersScript creates any forwarded user that does not already
// exist in the guest, so a later ephemeral container can forward a UID
// that resolves to a real account.
func ensureUsersScript(names []string) *script.Script {
	if len(names) == 0 {
		return nil
	}
	s := script.New("ensure forwarded users exist")
	s.For("name", names...)
	s.Line(`if ! id -u "$name" >/dev/null 2>&1; then useradd -m "$name"; fi`)
	s.EndFor()
	return s
}

// cachedirTagScript writes a standard CACHEDIR.TAG at the image root
// (spec.md §4.3), idempotently.
func cachedirTagScript() *script.Script {
	s := script.New("write CACHEDIR.TAG")
	s.If("[ ! -f /CACHEDIR.TAG ]")
	s.Line(`printf 'Signature: 8a477f597d28d172789f06886806bc55\nmoncic-ci image, see https://bford.info/cachedir/\n' > /CACHEDIR.TAG`)
	s.End()
	return s
}

// runMaintenance starts a non-ephemeral maintenance container rooted at
// rt's bound filesystem and runs the full pipeline, then tears it down.
func runMaintenance(ctx context.Context, rt container.Runtime, d *distro.Distro, forwardUsers, packages []string, maintscripts []*script.Script, backup bool) error {
	scripts := buildMaintenanceScripts(d, forwardUsers, packages, maintscripts, backup)
	cfg := container.Config{Name: "maintenance", GuestSetup: scripts}
	ctr, err := rt.MaintenanceContainer(ctx, cfg)
	if err != nil {
		return err
	}
	if err := ctr.Enter(ctx); err != nil {
		return err
	}
	return ctr.Close(ctx)
}

// rebuildRPMDB runs the rpmdb relocate+rebuild steps (spec.md §4.1) in
// an nspawn shell over the freshly-bootstrapped path.
func rebuildRPMDB(ctx context.Context, path string) error {
	rt := container.NewNspawnRuntime(path, logrus.NewEntry(logrus.StandardLogger()))
	s := script.New("rebuild rpmdb")
	distro.RenderRPMDBRebuild(s)
	ctr, err := rt.MaintenanceContainer(ctx, container.Config{Name: "rpmdb-rebuild", GuestSetup: []*script.Script{s}})
	if err != nil {
		return err
	}
	if err := ctr.Enter(ctx); err != nil {
		return err
	}
	return ctr.Close(ctx)
}
