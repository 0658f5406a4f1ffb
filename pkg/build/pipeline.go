package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arpa-simc/monci/pkg/binds"
	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
	"github.com/arpa-simc/monci/pkg/source"
)

const (
	guestSourceParent        = "/srv/moncic-ci/source"
	guestSourceArtifactsRoot = "/srv/moncic-ci/source-artifacts/"
	guestBuildDir            = "/srv/moncic-ci/build"
	guestRPMTop              = "/root/rpmbuild"
)

// Results is the outcome of one Run (spec.md §4.7 BuildResults).
type Results struct {
	Name      string
	Success   bool
	Artifacts []string
	Scripts   []*script.Script
	TraceLog  []string
}

// State threads the per-build context every builder-plugin step and
// post-build hook needs.
type State struct {
	Source  *source.DistroSource
	Distro  *distro.Distro
	Image   string
	Config  *Config
	Results *Results
}

// builder is implemented once per distro family: the source-package and
// binary-package build steps, plus how to collect the artifacts they
// produced.
type builder interface {
	BuildSource(ctx context.Context, c container.Container, st *State, guestSrc string) error
	BuildBinary(ctx context.Context, c container.Container, st *State, guestSrc string) error
	ArtifactGlobs() []string
	ArtifactMove() bool
}

func builderFor(d *distro.Distro) builder {
	switch d.Family {
	case distro.Debian, distro.Ubuntu:
		return debianBuilder{}
	default:
		return rpmBuilder{}
	}
}

// Run executes the full build pipeline (spec.md §4.7): mount the source
// volatile at guestSourceParent/<name>, prepare the build filesystem,
// collect any source artifacts (e.g. an orig tarball) read-only, run the
// distro's build-environment plugin, then the source and (unless
// SourceOnly) binary build steps, finally collecting artifacts and
// running the configured hooks.
func Run(ctx context.Context, rt container.Runtime, d *distro.Distro, src *source.DistroSource, cfg *Config, imageName string) (*Results, error) {
	st := &State{
		Source:  src,
		Distro:  d,
		Image:   imageName,
		Config:  cfg,
		Results: &Results{Name: packageName(src)},
	}

	name := packageName(src)
	guestSrc := guestSourceParent + "/" + name

	cc := container.Config{
		Name:        "build-" + name,
		Maintenance: true,
		Binds: []binds.Config{
			{Source: localDir(src), Destination: guestSrc, Type: binds.Volatile, Cwd: true},
		},
	}

	prep := script.New("prepare build filesystem")
	prep.Run("mkdir", "-p", guestBuildDir)
	cc.GuestSetup = append(cc.GuestSetup, prep)

	if artDir := sourceArtifactDir(src); artDir != "" {
		cc.Binds = append(cc.Binds, binds.Config{Source: artDir, Destination: guestSourceArtifactsRoot, Type: binds.ReadOnly})
		collect := script.New("collect source artifacts")
		collect.Run("sh", "-c", fmt.Sprintf("cp -r --reflink=auto %s* %s/", guestSourceArtifactsRoot, guestBuildDir))
		cc.GuestSetup = append(cc.GuestSetup, collect)
	}

	plugin := script.New("distro build-environment setup")
	d.RenderPrepareBuildEnv(plugin)
	if !cfg.Quick {
		d.RenderUpdatePkgDB(plugin)
		d.RenderUpgrade(plugin)
	}
	cc.GuestSetup = append(cc.GuestSetup, plugin)

	c, err := rt.MaintenanceContainer(ctx, cc)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close(ctx) }()
	if err := c.Enter(ctx); err != nil {
		return nil, err
	}

	b := builderFor(d)

	fail := func(err error) (*Results, error) {
		st.Results.Success = false
		runHooks(ctx, cfg.OnFail, st, c)
		runHooks(ctx, cfg.OnEnd, st, c)
		return st.Results, err
	}

	if err := b.BuildSource(ctx, c, st, guestSrc); err != nil {
		return fail(err)
	}
	if !cfg.SourceOnly {
		if err := b.BuildBinary(ctx, c, st, guestSrc); err != nil {
			return fail(err)
		}
	}

	if cfg.ArtifactsDir != "" {
		if err := collectArtifacts(c, cfg, b, st); err != nil {
			return fail(err)
		}
	}

	st.Results.Success = true
	runHooks(ctx, cfg.OnSuccess, st, c)
	runHooks(ctx, cfg.OnEnd, st, c)
	return st.Results, nil
}

// collectArtifacts globs b's artifact patterns against the container's
// host-visible root filesystem and moves (Debian) or copies (RPM) matches
// into cfg.ArtifactsDir (spec.md §4.7 "Artifact collection").
func collectArtifacts(c container.Container, cfg *Config, b builder, st *State) error {
	root := c.GetRoot()
	if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
		return err
	}
	for _, pattern := range b.ArtifactGlobs() {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			dst := filepath.Join(cfg.ArtifactsDir, filepath.Base(m))
			if b.ArtifactMove() {
				if err := os.Rename(m, dst); err != nil {
					return fmt.Errorf("build: move artifact %s: %w", m, err)
				}
			} else if err := copyFile(m, dst); err != nil {
				return fmt.Errorf("build: copy artifact %s: %w", m, err)
			}
			st.Results.Artifacts = append(st.Results.Artifacts, dst)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func localDir(src *source.DistroSource) string {
	return src.Local.Path
}

// sourceArtifactDir is the host directory an orig tarball for a
// non-native Debian source might already live in, bound read-only into
// the container so the build can pick it up without re-downloading it.
func sourceArtifactDir(src *source.DistroSource) string {
	if src.Info == nil || src.Info.Native {
		return ""
	}
	return filepath.Dir(src.Local.Path)
}

// packageName derives the package name used for mount points, container
// names and log titles: the Debian changelog name, the RPM spec's base
// name, or the source directory's base name as a last resort.
func packageName(src *source.DistroSource) string {
	if src.Info != nil && src.Info.Name != "" {
		return src.Info.Name
	}
	if src.Specfile != "" {
		base := filepath.Base(src.Specfile)
		return base[:len(base)-len(filepath.Ext(base))]
	}
	return filepath.Base(src.Local.Path)
}
