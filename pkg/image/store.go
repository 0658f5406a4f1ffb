// Package image's store.go implements the two nspawn-flavoured Store
// backends (spec.md §4.2 C2): Plain (images are directories) and the
// shared bootstrap/update/remove mechanics they both build on. Btrfs
// (btrfs_store.go) and Podman (podman_store.go) reuse these helpers.
package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// RuntimeFactory builds a container.Runtime bound to a specific root
// filesystem path. Store operations are transient: each bootstrap/
// extend/update needs a Runtime scoped to whatever workdir (possibly a
// <path>.new transactional clone) is current, so the Store holds a
// factory rather than a single long-lived Runtime.
type RuntimeFactory func(rootFS string) container.Runtime

// Store is the per-backend image contract (spec.md §4.2).
type Store interface {
	ListImages() ([]string, error)
	HasImage(name string) bool
	Image(ctx context.Context, name string) (*Image, error)
	BootstrapNew(ctx context.Context, name string, cfg BootstrappableConfig) (*Image, error)
	BootstrapExtend(ctx context.Context, name string, cfg BootstrappableConfig, parent *Image) (*Image, error)
	Update(ctx context.Context, img *Image) error
	Remove(ctx context.Context, img *Image) error
	Deduplicate(ctx context.Context) (DedupStats, error)
}

// DedupStats reports the outcome of a Deduplicate pass (btrfs only;
// other backends return a zero DedupStats and no error).
type DedupStats struct {
	FilesConsidered int
	PairsAttempted  int
	PairsDeduped    int
	BytesSaved      int64
}

// hostTool reports whether name resolves on the host PATH, the probe
// distro.Bootstrap's haveX booleans are derived from.
func hostTool(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// PlainStore keeps each image as a plain directory (spec.md §4.2
// "Plain"): ephemeral containers on a plain-store image require
// tmpfs=true (no backing overlay filesystem to make one ephemeral any
// other way), and extension copies via `cp --reflink=auto -a`.
type PlainStore struct {
	ImagesDir  string
	Catalog    *distro.Catalog
	NewRuntime RuntimeFactory
	Log        *logrus.Entry
}

// NewPlainStore constructs a PlainStore rooted at imagesDir.
func NewPlainStore(imagesDir string, cat *distro.Catalog, nf RuntimeFactory, log *logrus.Entry) *PlainStore {
	return &PlainStore{ImagesDir: imagesDir, Catalog: cat, NewRuntime: nf, Log: log}
}

func (s *PlainStore) path(name string) string { return filepath.Join(s.ImagesDir, name) }

func (s *PlainStore) ListImages() ([]string, error) {
	entries, err := os.ReadDir(s.ImagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".new", ".tmp":
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (s *PlainStore) HasImage(name string) bool {
	info, err := os.Stat(s.path(name))
	return err == nil && info.IsDir()
}

func (s *PlainStore) Image(ctx context.Context, name string) (*Image, error) {
	if !s.HasImage(name) {
		return nil, fmt.Errorf("image: %q not found", name)
	}
	d, err := s.Catalog.FromPath(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("image: identify distro for %q: %w", name, err)
	}
	return &Image{
		Name:     name,
		store:    s,
		Runnable: &Runnable{Handle: s.path(name), Distro: d, Probe: directoryProbe(s.path(name))},
	}, nil
}

func (s *PlainStore) BootstrapNew(ctx context.Context, name string, cfg BootstrappableConfig) (*Image, error) {
	if s.HasImage(name) {
		return nil, fmt.Errorf("image: %q already exists", name)
	}
	if cfg.Tmpfs == nil {
		t := true
		cfg.Tmpfs = &t
	}
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := bootstrapFS(ctx, cfg.Distro, path); err != nil {
		return nil, err
	}
	if err := runMaintenance(ctx, s.NewRuntime(path), cfg.Distro, cfg.ForwardUsers, cfg.Packages, nonNilScripts(cfg.Maintscript), cfg.Backup); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	return s.newImage(name, &cfg, path, cfg.Distro), nil
}

func (s *PlainStore) BootstrapExtend(ctx context.Context, name string, cfg BootstrappableConfig, parent *Image) (*Image, error) {
	if s.HasImage(name) {
		return nil, fmt.Errorf("image: %q already exists", name)
	}
	if parent == nil || !parent.IsRunnable() {
		return nil, fmt.Errorf("image: parent %q is not runnable", cfg.Parent)
	}
	if cfg.Distro == nil {
		cfg.Distro = parent.Runnable.Distro
	}
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := cloneReflink(ctx, parent.Runnable.Handle, path); err != nil {
		return nil, err
	}

	chain, err := chainConfigs(ctx, s, &cfg)
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	forwardUsers, packages, maintscripts := aggregateChain(chain)
	if err := runMaintenance(ctx, s.NewRuntime(path), cfg.Distro, forwardUsers, packages, maintscripts, cfg.Backup); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	return s.newImage(name, &cfg, path, cfg.Distro), nil
}

func (s *PlainStore) newImage(name string, cfg *BootstrappableConfig, path string, d *distro.Distro) *Image {
	return &Image{
		Name:           name,
		store:          s,
		Bootstrappable: cfg,
		Runnable:       &Runnable{Handle: path, Distro: d, Source: cfg, Probe: directoryProbe(path)},
	}
}

// directoryProbe is the Probe hook for directory-backed stores: the
// Runnable's Handle already is a usable host path, so no export step or
// cleanup is needed.
func directoryProbe(path string) func(ctx context.Context) (string, func(), error) {
	return func(ctx context.Context) (string, func(), error) {
		return path, func() {}, nil
	}
}

func (s *PlainStore) Update(ctx context.Context, img *Image) error {
	if !img.IsRunnable() {
		return fmt.Errorf("image: %q is not runnable", img.Name)
	}
	path := img.Runnable.Handle
	cfg := img.Bootstrappable

	var forwardUsers, packages []string
	var maintscripts []*script.Script
	if cfg != nil {
		chain, err := chainConfigs(ctx, s, cfg)
		if err != nil {
			return err
		}
		forwardUsers, packages, maintscripts = aggregateChain(chain)
	}

	backup := cfg != nil && cfg.Backup
	return transactionalUpdate(ctx, path,
		func(ctx context.Context, newPath string) error { return cloneReflink(ctx, path, newPath) },
		func(ctx context.Context, newPath string) error {
			return runMaintenance(ctx, s.NewRuntime(newPath), img.Runnable.Distro, forwardUsers, packages, maintscripts, backup)
		},
	)
}

func (s *PlainStore) Remove(ctx context.Context, img *Image) error {
	if !img.IsRunnable() {
		return fmt.Errorf("image: %q is not runnable", img.Name)
	}
	return os.RemoveAll(img.Runnable.Handle)
}

func (s *PlainStore) Deduplicate(ctx context.Context) (DedupStats, error) {
	return DedupStats{}, nil // dedup is btrfs-only, spec.md §4.2
}

// bootstrapFS seeds a fresh root filesystem at path for d, downloading
// an archive keyring first when the release needs one and rebuilding
// the rpmdb afterward when the installer wrote a private one.
func bootstrapFS(ctx context.Context, d *distro.Distro, path string) error {
	plan, err := d.Bootstrap(path, hostTool("mmdebstrap"), hostTool("debootstrap"), hostTool("dnf"), hostTool("yum"))
	if err != nil {
		return err
	}
	argv := append([]string(nil), plan.Argv...)
	if plan.KeyringURL != "" {
		keyringFile, err := downloadKeyring(ctx, plan.KeyringURL)
		if err != nil {
			return err
		}
		defer os.Remove(keyringFile)
		argv = append(argv, "--keyring="+keyringFile)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image: bootstrap %s: %w", path, err)
	}
	if plan.NeedsRPMDBRebuild {
		return rebuildRPMDB(ctx, path)
	}
	return nil
}

// downloadKeyring fetches url to a temp file; net/http is used directly
// (no domain dep wraps a one-shot GET-to-file any more simply, and none
// of the pack's HTTP clients add value for a single unauthenticated
// archive-keyring download).
func downloadKeyring(ctx context.Context, url string) (string, error) {
	f, err := os.CreateTemp("", "monci-keyring-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image: download keyring %s: status %s", url, resp.Status)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// cloneReflink copies src to dst with `cp --reflink=auto -a`, spec.md
// §4.2's plain-store extension mechanism.
func cloneReflink(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "cp", "--reflink=auto", "-a", src, dst)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image: clone %s -> %s: %w", src, dst, err)
	}
	return nil
}
