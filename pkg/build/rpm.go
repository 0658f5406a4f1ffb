package build

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/script"
)

type rpmBuilder struct{}

// BuildSource lays out an rpmbuild tree, generates the source tarball
// and spec file for ARPA's two supported layouts (fedora/SPECS/*.spec
// with a git-archive-generated tarball, or a root-level spec with its
// patches copied alongside), resolves remote sources with spectool, and
// builds the SRPM (spec.md §4.7 "ARPA RPM build step").
func (rpmBuilder) BuildSource(ctx context.Context, c container.Container, st *State, guestSrc string) error {
	prep := script.New("prepare rpmbuild tree")
	for _, d := range []string{"SOURCES", "SPECS", "BUILD", "RPMS", "SRPMS", "BUILDROOT"} {
		prep.Run("mkdir", "-p", guestRPMTop+"/"+d)
	}
	if _, err := c.RunScript(ctx, prep); err != nil {
		return err
	}

	specfile := st.Source.Specfile
	name := specPackageName(specfile)
	guestSpec := guestRPMTop + "/SPECS/" + name + ".spec"

	gen := script.New("generate source tarball and copy spec")
	if strings.Contains(specfile, "fedora/SPECS/") {
		gen.Line("git -C %s archive --prefix=%s/ --format=tar.gz -o %s HEAD",
			script.Quote(guestSrc), name, script.Quote(guestRPMTop+"/SOURCES/"+name+".tar.gz"))
		gen.Run("cp", guestSrc+"/fedora/SPECS/"+filepath.Base(specfile), guestSpec)
	} else {
		gen.Run("cp", guestSrc+"/"+filepath.Base(specfile), guestSpec)
		gen.Line("find %s -maxdepth 1 -name '*.patch' -exec cp {} %s \\;",
			script.Quote(guestSrc), script.Quote(guestRPMTop+"/SOURCES"))
	}
	if _, err := c.RunScript(ctx, gen); err != nil {
		return err
	}

	if _, err := c.Run(ctx, []string{"spectool", "-g", "-R", "-C", guestRPMTop + "/SOURCES", guestSpec}, container.DefaultRunConfig()); err != nil {
		return err
	}
	_, err := c.Run(ctx, []string{"rpmbuild", "-br", "--define", "_topdir " + guestRPMTop, guestSpec}, container.DefaultRunConfig())
	return err
}

// BuildBinary installs the SRPM's build-dependencies and builds both
// binary and source RPMs.
func (rpmBuilder) BuildBinary(ctx context.Context, c container.Container, st *State, guestSrc string) error {
	name := specPackageName(st.Source.Specfile)
	guestSpec := guestRPMTop + "/SPECS/" + name + ".spec"

	if _, err := c.Run(ctx, st.Distro.BuildDepCommand(guestSpec), container.DefaultRunConfig()); err != nil {
		return err
	}

	rc := container.DefaultRunConfig()
	rc.DisableNetwork = true
	_, err := c.Run(ctx, []string{"rpmbuild", "-ba", "--define", "_topdir " + guestRPMTop, guestSpec}, rc)
	return err
}

func (rpmBuilder) ArtifactGlobs() []string {
	return []string{guestRPMTop + "/RPMS/*/*.rpm", guestRPMTop + "/SRPMS/*.rpm"}
}

func (rpmBuilder) ArtifactMove() bool { return false }

func specPackageName(specfile string) string {
	base := filepath.Base(specfile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
