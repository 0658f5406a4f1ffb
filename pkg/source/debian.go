package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// Style identifies the autodetected packaging convention a DistroSource
// was built against (spec.md §4.6).
type Style string

const (
	DebianDsc           Style = "debian-dsc"
	DebianDir           Style = "debian-dir"
	DebianGBPRelease    Style = "debian-gbp-release"
	DebianGBPTestDebian Style = "debian-gbp-test"
	DebianGBPTestUpstream Style = "debian-gbp-upstream"
	RPMArpa             Style = "rpm-arpa"
)

// DistroSource is a Source classified and prepared for a specific
// distro's build tooling: a resolved local working copy, the detected
// packaging style, and whatever per-style metadata that detection
// extracted (SourceInfo for Debian styles, GBP for the gbp-* styles,
// Specfile for rpm-arpa).
type DistroSource struct {
	Local Source
	Style Style

	Info     *SourceInfo
	GBP      *GBPInfo
	Specfile string

	// GitUpstreamTree is the `--git-upstream-tree=` argument gbp
	// buildpackage needs for the two gbp styles.
	GitUpstreamTree string
}

// CreateFromLocal classifies local (already materialised by
// Source.CreateLocal) against d's packaging convention. style, when
// non-empty, forces a specific convention instead of autodetecting one.
func CreateFromLocal(ctx context.Context, local Source, d *distro.Distro, style Style) (*DistroSource, error) {
	switch d.Family {
	case distro.Debian, distro.Ubuntu:
		return createDebianSource(ctx, local, style)
	default:
		return createRPMSource(ctx, local, style)
	}
}

func createDebianSource(ctx context.Context, local Source, style Style) (*DistroSource, error) {
	if style == "" {
		var err error
		style, err = detectDebianStyle(ctx, local)
		if err != nil {
			return nil, err
		}
	}

	switch style {
	case DebianDsc:
		return &DistroSource{Local: local, Style: style}, nil

	case DebianDir:
		return createDebianDir(ctx, local)

	case DebianGBPRelease, DebianGBPTestDebian:
		return createDebianGBPDebian(ctx, local, style)

	case DebianGBPTestUpstream:
		return createDebianGBPUpstream(ctx, local)

	default:
		return nil, fmt.Errorf("source: unsupported debian style %q", style)
	}
}

// detectDebianStyle implements spec.md §4.6's autodetection table.
func detectDebianStyle(ctx context.Context, local Source) (Style, error) {
	if local.Kind == KindFile {
		return DebianDsc, nil
	}

	dir := local.Path
	isGit := local.Kind == KindGit
	hasDebian := HasDebianDir(dir)

	if !hasDebian {
		if isGit {
			return DebianGBPTestUpstream, nil
		}
		return "", fmt.Errorf("source: %s has no debian/ directory and is not a git worktree", dir)
	}

	if !isGit {
		return DebianDir, nil
	}

	if !HasGBPConf(dir) {
		return DebianDir, nil
	}

	onTag, err := gitHeadIsTag(ctx, dir)
	if err != nil {
		return "", err
	}
	if onTag {
		return DebianGBPRelease, nil
	}
	return DebianGBPTestDebian, nil
}

// gitHeadIsTag reports whether HEAD in dir is exactly an annotated/
// lightweight tag (as opposed to an arbitrary commit).
func gitHeadIsTag(ctx context.Context, dir string) (bool, error) {
	out, err := gitOutput(ctx, dir, "describe", "--exact-match", "--tags", "HEAD")
	if err != nil {
		return false, nil // no exact tag: not a failure, just "no"
	}
	return out != "", nil
}

// createDebianDir resolves the orig tarball for a plain debian/-carrying
// directory: search for an existing <name>_<upstream>.orig.tar.* next to
// dir (no artifacts directory is searched), or generate one via
// `git archive | xz` when dir is a git source and no tarball already
// exists.
func createDebianDir(ctx context.Context, local Source) (*DistroSource, error) {
	dir := local.Path
	info, err := ParseChangelog(dir)
	if err != nil {
		return nil, err
	}
	ds := &DistroSource{Local: local, Style: DebianDir, Info: info}
	if info.Native {
		return ds, nil
	}

	if tarball := findOrigTarball(filepath.Dir(dir), info); tarball != "" {
		return ds, nil
	}
	if local.Kind == KindGit {
		if err := generateOrigTarball(ctx, dir, filepath.Dir(dir), info); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// findOrigTarball searches searchDir for <name>_<upstream>.orig.tar.*.
func findOrigTarball(searchDir string, info *SourceInfo) string {
	pattern := filepath.Join(searchDir, info.TarballStem+".orig.tar.*")
	matches, _ := filepath.Glob(pattern)
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// generateOrigTarball synthesises <name>_<upstream>.orig.tar.xz from
// HEAD via `git archive`.
func generateOrigTarball(ctx context.Context, gitDir, destDir string, info *SourceInfo) error {
	tarball := filepath.Join(destDir, info.TarballStem+".orig.tar.xz")
	prefix := info.Name + "-" + info.UpstreamVersion + "/"
	cmd := exec.CommandContext(ctx, "sh", "-c",
		fmt.Sprintf("git -C %s archive --prefix=%s HEAD | xz -c > %s",
			script.Quote(gitDir), script.Quote(prefix), script.Quote(tarball)))
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("source: generate orig tarball: %w", err)
	}
	return nil
}

// createDebianGBPDebian handles both gbp-release and gbp-test-debian:
// release builds --git-upstream-tree=tag from the exact tag HEAD is on;
// test-debian clones (if readonly) and merges the configured upstream
// branch, then builds --git-upstream-tree=branch.
func createDebianGBPDebian(ctx context.Context, local Source, style Style) (*DistroSource, error) {
	dir := local.Path
	info, err := ParseChangelog(dir)
	if err != nil {
		return nil, err
	}
	gbp, err := ParseGBPConf(dir)
	if err != nil {
		return nil, err
	}
	ds := &DistroSource{Local: local, Style: style, Info: info, GBP: gbp}

	if style == DebianGBPRelease {
		ds.GitUpstreamTree = "tag"
		return ds, nil
	}

	work := local
	if local.ReadOnly {
		if work, err = local.CreateLocal(ctx, dir+".ci", ""); err != nil {
			return nil, err
		}
		ds.Local = work
	}
	if err := runGit(ctx, work.Path, "merge", "--no-edit", gbp.UpstreamBranch); err != nil {
		return nil, fmt.Errorf("source: merge upstream branch %s: %w", gbp.UpstreamBranch, err)
	}
	ds.GitUpstreamTree = "branch"
	return ds, nil
}

// createDebianGBPUpstream handles a git source with no debian/ at all:
// it must find a packaging branch, check it out (cloning first if
// readonly, creating a moncic-ci working branch if HEAD is detached),
// and merge the original source branch into it as a CI merge.
func createDebianGBPUpstream(ctx context.Context, local Source) (*DistroSource, error) {
	work := local
	var err error
	if local.ReadOnly {
		if work, err = local.CreateLocal(ctx, local.Path+".ci", ""); err != nil {
			return nil, err
		}
	}

	sourceRef, err := gitOutput(ctx, work.Path, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("source: resolve HEAD: %w", err)
	}

	info, err := ParseChangelog(work.Path)
	branch, berr := findPackagingBranch(ctx, work.Path, info)
	_ = err // ParseChangelog is expected to fail here (no debian/ yet); ignored
	if berr != nil {
		return nil, berr
	}

	if gitIsDetached(ctx, work.Path) {
		if err := gitEnsureBranch(ctx, work.Path, "moncic-ci"); err != nil {
			return nil, err
		}
	}
	if err := runGit(ctx, work.Path, "checkout", branch); err != nil {
		return nil, fmt.Errorf("source: checkout packaging branch %s: %w", branch, err)
	}
	if err := runGit(ctx, work.Path, "merge", "--no-edit", "-m", "CI merge", sourceRef); err != nil {
		return nil, fmt.Errorf("source: CI merge of %s into %s: %w", sourceRef, branch, err)
	}

	info, err = ParseChangelog(work.Path)
	if err != nil {
		return nil, err
	}
	gbp, err := ParseGBPConf(work.Path)
	if err != nil {
		gbp = defaultGBPInfo()
	}
	return &DistroSource{Local: work, Style: DebianGBPTestUpstream, Info: info, GBP: gbp, GitUpstreamTree: "branch"}, nil
}

// packagingBranchCandidates is the search order spec.md §4.6 names for a
// git source with no debian/ of its own yet.
func packagingBranchCandidates(name string) []string {
	return []string{
		"debian/" + name,
		"debian/latest",
		"ubuntu/" + name,
		"ubuntu/latest",
	}
}

func findPackagingBranch(ctx context.Context, dir string, info *SourceInfo) (string, error) {
	name := ""
	if info != nil {
		name = info.Name
	}
	if name == "" {
		name = filepath.Base(dir)
	}
	for _, ref := range packagingBranchCandidates(name) {
		if runGit(ctx, dir, "rev-parse", "--verify", "refs/remotes/origin/"+ref) == nil ||
			runGit(ctx, dir, "rev-parse", "--verify", ref) == nil {
			return ref, nil
		}
	}
	return "", fmt.Errorf("source: no packaging branch found among %v", packagingBranchCandidates(name))
}

