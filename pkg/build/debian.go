package build

import (
	"context"
	"strings"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/script"
	"github.com/arpa-simc/monci/pkg/source"
)

type debianBuilder struct{}

// BuildSource runs the right source-package build for the detected
// style: a bare .dsc needs nothing, gbp styles drive `gbp buildpackage`
// with the style's --git-upstream-tree, everything else is a plain
// `dpkg-buildpackage -S` (spec.md §4.7 "Debian source step").
func (debianBuilder) BuildSource(ctx context.Context, c container.Container, st *State, guestSrc string) error {
	src := st.Source
	if src.Style == source.DebianDsc {
		return nil
	}

	rc := container.DefaultRunConfig()
	rc.Cwd = guestSrc

	var argv []string
	switch src.Style {
	case source.DebianGBPRelease, source.DebianGBPTestDebian, source.DebianGBPTestUpstream:
		argv = []string{"gbp", "buildpackage", "-S", "--no-sign", "--no-pre-clean",
			"--git-upstream-tree=" + src.GitUpstreamTree}
	default:
		argv = []string{"dpkg-buildpackage", "-S", "--no-sign", "--no-pre-clean"}
	}
	if st.Config.IncludeSource {
		argv = append(argv, "-sa")
	}
	if _, err := c.Run(ctx, argv, rc); err != nil {
		return err
	}

	collect := script.New("collect generated source package into the build dir")
	collect.Line("mv %[1]s/*.dsc %[1]s/*.tar.* %[1]s/*.buildinfo %[1]s/*.changes %[2]s/ 2>/dev/null || true",
		guestSourceParent, guestBuildDir)
	_, err := c.RunScript(ctx, collect)
	return err
}

// BuildBinary extracts the source package built above, installs its
// build-dependencies, then builds with the network namespace dropped for
// the remainder of the build (spec.md §4.7 "Debian binary step").
func (debianBuilder) BuildBinary(ctx context.Context, c container.Container, st *State, guestSrc string) error {
	info := st.Source.Info
	dsc := guestBuildDir + "/" + info.DscFilename
	extractDir := guestBuildDir + "/" + info.Name + "-" + info.UpstreamVersion

	extract := script.New("extract source package")
	extract.CD(guestBuildDir)
	extract.Run("dpkg-source", "-x", dsc)
	if _, err := c.RunScript(ctx, extract); err != nil {
		return err
	}

	depRC := container.DefaultRunConfig()
	depArgv := append([]string{"env", "DEBIAN_FRONTEND=noninteractive"}, st.Distro.BuildDepCommand(extractDir)...)
	if _, err := c.Run(ctx, depArgv, depRC); err != nil {
		return err
	}

	options, profiles := parseBuildProfile(st.Config.BuildProfile)
	build := script.New("build binary packages")
	build.DisableNetwork = true
	build.CD(extractDir)
	if len(options) > 0 {
		build.Setenv("DEB_BUILD_OPTIONS", strings.Join(options, " "))
	}
	if len(profiles) > 0 {
		build.Setenv("DEB_BUILD_PROFILES", strings.Join(profiles, " "))
	}
	argv := []string{"dpkg-buildpackage", "--no-sign"}
	if st.Config.IncludeSource {
		argv = append(argv, "-sa")
	}
	build.Run(argv...)
	_, err := c.RunScript(ctx, build)
	return err
}

func (debianBuilder) ArtifactGlobs() []string {
	return []string{
		guestBuildDir + "/*.deb",
		guestBuildDir + "/*.dsc",
		guestBuildDir + "/*.tar.*",
		guestBuildDir + "/*.buildinfo",
		guestBuildDir + "/*.changes",
	}
}

func (debianBuilder) ArtifactMove() bool { return true }

// buildProfileOptionKeywords are DEB_BUILD_OPTIONS-only keywords: they
// tune the build itself rather than declare a capability profile other
// packages' Build-Profiles fields can require.
var buildProfileOptionKeywords = []string{
	"parallel=", "nostrip", "terse", "hardening=", "reproducible=",
	"abi=", "future=", "qa=", "optimize=", "sanitize=",
}

// parseBuildProfile splits a Debian buildProfile keyword string into the
// DEB_BUILD_OPTIONS and DEB_BUILD_PROFILES values it produces (spec.md
// §4.7 "Debian buildProfile"): nocheck/nodoc feed both, the option-only
// keywords above feed DEB_BUILD_OPTIONS alone, everything else is
// assumed to be a Build-Profiles tag and feeds DEB_BUILD_PROFILES alone.
func parseBuildProfile(raw string) (options, profiles []string) {
	for _, tok := range strings.Fields(raw) {
		switch {
		case tok == "nocheck" || tok == "nodoc":
			options = append(options, tok)
			profiles = append(profiles, tok)
		case hasAnyPrefix(tok, buildProfileOptionKeywords):
			options = append(options, tok)
		default:
			profiles = append(profiles, tok)
		}
	}
	return options, profiles
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) || s == strings.TrimSuffix(p, "=") {
			return true
		}
	}
	return false
}
