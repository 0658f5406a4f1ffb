// Package source implements the source-tree abstraction (spec.md §4.6,
// C6): the four-way File/Dir/Git/URL sum type, materialising any of them
// to a local working copy, and classifying a local copy against a
// distro's packaging convention (Debian dsc/dir/gbp variants, ARPA RPM
// specfiles).
//
// Grounded on the teacher's OSCommand subprocess boundary (pkg/commands
// os.go, git.go): git plumbing here is shelled out to the `git` binary
// exactly the way the teacher shells out to `git`/`docker` rather than
// linking a Go git implementation, since nothing in the pack vendors one
// and the operations needed (clone, checkout, archive, merge) are a thin
// wrapper over a handful of porcelain/plumbing commands.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Kind discriminates the four ways a source tree can be given to monci.
type Kind string

const (
	KindFile Kind = "file" // a single file, e.g. a .dsc
	KindDir  Kind = "dir"  // an on-disk directory, not necessarily a git worktree
	KindGit  Kind = "git"  // a git worktree or remote repository
	KindURL  Kind = "url"  // a URL to fetch before anything else can happen
)

// Source is the tagged union spec.md §4.6 names: File{path}, Dir{path},
// Git{path,repo,readonly}, URL{url}.
type Source struct {
	Kind Kind

	// Path is the on-disk location: the .dsc file (File), the directory
	// (Dir), or the worktree (Git, once materialised).
	Path string

	// Repo is the git remote or local bare path to clone from when Path
	// is not yet a usable worktree, or simply documents where Path's
	// worktree was cloned from.
	Repo string

	// ReadOnly marks a Git source whose Path must not be written to
	// (e.g. a shared checkout); CreateLocal clones it before any
	// merge/checkout rather than mutating it in place.
	ReadOnly bool

	// URL is the fetch location for a URL source.
	URL string
}

// NewFile wraps a single file (typically a .dsc).
func NewFile(path string) Source { return Source{Kind: KindFile, Path: path} }

// NewDir wraps a plain on-disk directory.
func NewDir(path string) Source { return Source{Kind: KindDir, Path: path} }

// NewGit wraps a git worktree or remote. path is the worktree location
// when one already exists locally (possibly empty if repo is remote-only).
func NewGit(path, repo string, readonly bool) Source {
	return Source{Kind: KindGit, Path: path, Repo: repo, ReadOnly: readonly}
}

// NewURL wraps a URL to fetch.
func NewURL(url string) Source { return Source{Kind: KindURL, URL: url} }

func (s Source) String() string {
	switch s.Kind {
	case KindFile, KindDir:
		return s.Path
	case KindGit:
		if s.Path != "" {
			return s.Path
		}
		return s.Repo
	case KindURL:
		return s.URL
	}
	return "<unknown source>"
}

// CreateLocal materialises s to a writable local path, cloning git
// sources that are remote-only or marked ReadOnly into workDir and
// fetching URL sources into workDir. File and Dir sources are returned
// unchanged: they are already local. branch, when non-empty, is checked
// out (or created, if HEAD would otherwise be detached) after cloning a
// Git source (spec.md §4.6 "Local materialisation").
func (s Source) CreateLocal(ctx context.Context, workDir string, branch string) (Source, error) {
	switch s.Kind {
	case KindFile, KindDir:
		return s, nil
	case KindGit:
		return s.createLocalGit(ctx, workDir, branch)
	case KindURL:
		return s.createLocalURL(ctx, workDir)
	default:
		return Source{}, fmt.Errorf("source: unknown kind %q", s.Kind)
	}
}

func (s Source) createLocalGit(ctx context.Context, workDir string, branch string) (Source, error) {
	if s.Path != "" && !s.ReadOnly {
		if branch != "" {
			if err := gitEnsureBranch(ctx, s.Path, branch); err != nil {
				return Source{}, err
			}
		}
		return s, nil
	}

	from := s.Repo
	if from == "" {
		from = s.Path
	}
	if from == "" {
		return Source{}, fmt.Errorf("source: git source has neither path nor repo")
	}
	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return Source{}, err
	}
	if err := runGit(ctx, "", "clone", from, workDir); err != nil {
		return Source{}, fmt.Errorf("source: clone %s: %w", from, err)
	}
	clone := Source{Kind: KindGit, Path: workDir, Repo: from}
	if branch != "" {
		if err := gitEnsureBranch(ctx, workDir, branch); err != nil {
			return Source{}, err
		}
	}
	return clone, nil
}

// gitEnsureBranch checks out branch, creating it from the current HEAD
// when it does not exist and HEAD is detached (the "moncic-ci" working
// branch spec.md §4.6 describes for the gbp-test-upstream path).
func gitEnsureBranch(ctx context.Context, dir, branch string) error {
	if err := runGit(ctx, dir, "rev-parse", "--verify", branch); err == nil {
		return runGit(ctx, dir, "checkout", branch)
	}
	return runGit(ctx, dir, "checkout", "-b", branch)
}

// gitIsDetached reports whether dir's HEAD is not on any branch.
func gitIsDetached(ctx context.Context, dir string) bool {
	return runGit(ctx, dir, "symbolic-ref", "-q", "HEAD") != nil
}

func (s Source) createLocalURL(ctx context.Context, workDir string) (Source, error) {
	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return Source{}, err
	}
	dest := workDir
	if strings.HasSuffix(s.URL, "/") {
		return Source{}, fmt.Errorf("source: URL %q does not name a file", s.URL)
	}
	name := filepath.Base(s.URL)
	if fi, err := os.Stat(workDir); err == nil && fi.IsDir() {
		dest = filepath.Join(workDir, name)
	}
	if err := downloadFile(ctx, s.URL, dest); err != nil {
		return Source{}, err
	}
	if strings.HasSuffix(name, ".dsc") {
		return Source{Kind: KindFile, Path: dest}, nil
	}
	return Source{Kind: KindFile, Path: dest}, nil
}

// runGit runs a git subcommand, optionally with a working directory (-C).
func runGit(ctx context.Context, dir string, args ...string) error {
	argv := args
	if dir != "" {
		argv = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", argv...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// downloadFile fetches url into dest, the same one-shot GET-to-file
// pattern pkg/image/store.go uses for archive keyrings.
func downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source: download %s: status %s", url, resp.Status)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// gitOutput runs a git subcommand and returns its trimmed stdout.
func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	argv := args
	if dir != "" {
		argv = append([]string{"-C", dir}, args...)
	}
	out, err := exec.CommandContext(ctx, "git", argv...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
