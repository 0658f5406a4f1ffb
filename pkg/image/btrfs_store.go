package image

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// BtrfsStore keeps each image as a btrfs subvolume (spec.md §4.2
// "Btrfs"): created via `btrfs subvolume create`, extended via
// `btrfs subvolume snapshot`, removed by deleting nested subvolumes
// deepest-first. Compression is applied via the `btrfs property set`
// command when a BootstrappableConfig requests it.
type BtrfsStore struct {
	ImagesDir  string
	Catalog    *distro.Catalog
	NewRuntime RuntimeFactory
	Log        *logrus.Entry
}

// NewBtrfsStore constructs a BtrfsStore rooted at imagesDir, which must
// itself be on a btrfs filesystem (or be `/var/lib/machines` when that
// path is btrfs, per spec.md §4.2).
func NewBtrfsStore(imagesDir string, cat *distro.Catalog, nf RuntimeFactory, log *logrus.Entry) *BtrfsStore {
	return &BtrfsStore{ImagesDir: imagesDir, Catalog: cat, NewRuntime: nf, Log: log}
}

func (s *BtrfsStore) path(name string) string { return filepath.Join(s.ImagesDir, name) }

func (s *BtrfsStore) ListImages() ([]string, error) {
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

func (s *BtrfsStore) HasImage(name string) bool {
	info, err := os.Stat(s.path(name))
	return err == nil && info.IsDir()
}

func (s *BtrfsStore) Image(ctx context.Context, name string) (*Image, error) {
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

func (s *BtrfsStore) BootstrapNew(ctx context.Context, name string, cfg BootstrappableConfig) (*Image, error) {
	if s.HasImage(name) {
		return nil, fmt.Errorf("image: %q already exists", name)
	}
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := subvolumeCreate(ctx, path); err != nil {
		return nil, err
	}
	if err := applyCompression(ctx, path, cfg.Compression); err != nil {
		_ = subvolumeRemove(ctx, path)
		return nil, err
	}
	if err := bootstrapFS(ctx, cfg.Distro, path); err != nil {
		_ = subvolumeRemove(ctx, path)
		return nil, err
	}
	if err := runMaintenance(ctx, s.NewRuntime(path), cfg.Distro, cfg.ForwardUsers, cfg.Packages, nonNilScripts(cfg.Maintscript), cfg.Backup); err != nil {
		_ = subvolumeRemove(ctx, path)
		return nil, err
	}
	return s.newImage(name, &cfg, path, cfg.Distro), nil
}

func (s *BtrfsStore) BootstrapExtend(ctx context.Context, name string, cfg BootstrappableConfig, parent *Image) (*Image, error) {
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
	if err := subvolumeSnapshot(ctx, parent.Runnable.Handle, path); err != nil {
		return nil, err
	}
	if err := applyCompression(ctx, path, cfg.Compression); err != nil {
		_ = subvolumeRemove(ctx, path)
		return nil, err
	}

	chain, err := chainConfigs(ctx, s, &cfg)
	if err != nil {
		_ = subvolumeRemove(ctx, path)
		return nil, err
	}
	forwardUsers, packages, maintscripts := aggregateChain(chain)
	if err := runMaintenance(ctx, s.NewRuntime(path), cfg.Distro, forwardUsers, packages, maintscripts, cfg.Backup); err != nil {
		_ = subvolumeRemove(ctx, path)
		return nil, err
	}
	return s.newImage(name, &cfg, path, cfg.Distro), nil
}

func (s *BtrfsStore) newImage(name string, cfg *BootstrappableConfig, path string, d *distro.Distro) *Image {
	return &Image{
		Name:           name,
		store:          s,
		Bootstrappable: cfg,
		Runnable:       &Runnable{Handle: path, Distro: d, Source: cfg, Probe: directoryProbe(path)},
	}
}

func (s *BtrfsStore) Update(ctx context.Context, img *Image) error {
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
		func(ctx context.Context, newPath string) error { return subvolumeSnapshot(ctx, path, newPath) },
		func(ctx context.Context, newPath string) error {
			return runMaintenance(ctx, s.NewRuntime(newPath), img.Runnable.Distro, forwardUsers, packages, maintscripts, backup)
		},
	)
}

func (s *BtrfsStore) Remove(ctx context.Context, img *Image) error {
	if !img.IsRunnable() {
		return fmt.Errorf("image: %q is not runnable", img.Name)
	}
	return subvolumeRemove(ctx, img.Runnable.Handle)
}

// Deduplicate walks every image tree, groups regular files by
// (relative path, size), and attempts a FIDEDUPERANGE ioctl between the
// first file in each group and every other (spec.md §4.2
// "Deduplication"). The ioctl itself is platform-specific
// (dedup_linux.go / dedup_other.go).
func (s *BtrfsStore) Deduplicate(ctx context.Context) (DedupStats, error) {
	names, err := s.ListImages()
	if err != nil {
		return DedupStats{}, err
	}
	groups := map[string][]string{}
	for _, name := range names {
		root := s.path(name)
		_ = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !info.Mode().IsRegular() {
				return nil
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return nil
			}
			key := rel + ":" + strconv.FormatInt(info.Size(), 10)
			groups[key] = append(groups[key], p)
			return nil
		})
	}

	var stats DedupStats
	for _, paths := range groups {
		stats.FilesConsidered += len(paths)
		if len(paths) < 2 {
			continue
		}
		first := paths[0]
		for _, other := range paths[1:] {
			stats.PairsAttempted++
			saved, err := dedupeRange(first, other, 1<<20)
			if err != nil {
				// a single failed pair must not abort the pass.
				continue
			}
			stats.PairsDeduped++
			stats.BytesSaved += saved
		}
	}
	return stats, nil
}

func subvolumeCreate(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "create", path)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image: btrfs subvolume create %s: %w", path, err)
	}
	return nil
}

func subvolumeSnapshot(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "snapshot", src, dst)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image: btrfs subvolume snapshot %s -> %s: %w", src, dst, err)
	}
	return nil
}

func applyCompression(ctx context.Context, path, compression string) error {
	if compression == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "btrfs", "property", "set", path, "compression", compression)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image: btrfs property set compression=%s %s: %w", compression, path, err)
	}
	return nil
}

// subvolumeRemove removes path and any nested subvolumes it contains,
// deepest-first (spec.md §4.2: "remove recursively by listing nested
// subvolume IDs and deleting deepest-first").
func subvolumeRemove(ctx context.Context, path string) error {
	nested, err := listNestedSubvolumes(ctx, path)
	if err != nil {
		return err
	}
	// deepest-first: longer relative paths contain more path separators.
	sort.Slice(nested, func(i, j int) bool {
		return strings.Count(nested[i], "/") > strings.Count(nested[j], "/")
	})
	for _, rel := range nested {
		full := filepath.Join(path, rel)
		cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "delete", full)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("image: btrfs subvolume delete %s: %w", full, err)
		}
	}
	cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "delete", path)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image: btrfs subvolume delete %s: %w", path, err)
	}
	return nil
}

// listNestedSubvolumes parses `btrfs subvolume list -o <path>` for
// subvolumes nested under path, returning their paths relative to path.
func listNestedSubvolumes(ctx context.Context, path string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "btrfs", "subvolume", "list", "-o", path)
	out, err := cmd.Output()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// non-btrfs test fixtures / no nested subvolumes: empty result.
			return nil, nil
		}
		return nil, fmt.Errorf("image: btrfs subvolume list %s: %w", path, err)
	}
	var rels []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		// last field is "path", the path column printed by `btrfs
		// subvolume list` relative to the filesystem's top level; we
		// only need it relative to our subvolume root for Join above.
		full := fields[len(fields)-1]
		if rel, err := filepath.Rel(path, filepath.Join("/", full)); err == nil {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}
