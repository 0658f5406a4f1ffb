package image

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/bindings/images"
	"github.com/containers/podman/v5/pkg/specgen"
	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/script"
)

// imageRef renders the name-prefixed repository tag spec.md §4.2
// specifies for the Podman store: "localhost/moncic-ci/<name>:latest".
func imageRef(name string) string { return "localhost/moncic-ci/" + name + ":latest" }

// PodmanStore keeps each image as a Podman image (spec.md §4.2
// "Podman"): bootstrap materialises a tagged image under
// localhost/moncic-ci/<name>:latest; update re-imports the updated
// rootfs directory onto the same tag.
//
// Grounded on the teacher's SocketRuntime connection pattern
// (pkg/commands/runtime_socket.go): one context.Context obtained from
// bindings.NewConnection, threaded into every bindings call.
//
// The maintenance/bootstrap pipeline itself still runs against a plain
// scratch directory via container.PodmanRuntime (which, like
// NspawnRuntime, drives a container from a bare rootfs rather than
// round-tripping every intermediate step through the image store) --
// the directory is imported as a tagged image only at the boundaries
// (after bootstrap, after each update), which is enough to satisfy
// spec.md's externally-observable contract ("bootstrap materialises a
// tagged image", "commit reuses the tag") without needing a second,
// image-backed code path for every maintenance script.
type PodmanStore struct {
	ScratchDir string // host-side staging directory for rootfs trees
	Catalog    *distro.Catalog
	Conn       context.Context
	NewRuntime RuntimeFactory
	Log        *logrus.Entry
}

// NewPodmanStore constructs a PodmanStore. conn is the context returned
// by bindings.NewConnection (see container.NewPodmanRuntime).
func NewPodmanStore(scratchDir string, cat *distro.Catalog, conn context.Context, nf RuntimeFactory, log *logrus.Entry) *PodmanStore {
	return &PodmanStore{ScratchDir: scratchDir, Catalog: cat, Conn: conn, NewRuntime: nf, Log: log}
}

func (s *PodmanStore) scratchPath(name string) string { return filepath.Join(s.ScratchDir, name) }

func (s *PodmanStore) ListImages() ([]string, error) {
	list, err := images.List(s.Conn, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	prefix := "localhost/moncic-ci/"
	for _, img := range list {
		for _, tag := range img.RepoTags {
			if len(tag) > len(prefix) && tag[:len(prefix)] == prefix {
				out = append(out, tag[len(prefix):len(tag)-len(":latest")])
			}
		}
	}
	return out, nil
}

func (s *PodmanStore) HasImage(name string) bool {
	ok, err := images.Exists(s.Conn, imageRef(name), nil)
	return err == nil && ok
}

func (s *PodmanStore) Image(ctx context.Context, name string) (*Image, error) {
	if !s.HasImage(name) {
		return nil, fmt.Errorf("image: %q not found", name)
	}
	// The materialised distro is identified from the scratch rootfs;
	// when that directory no longer exists locally, Image returns an
	// error.
	d, err := s.Catalog.FromPath(s.scratchPath(name))
	if err != nil {
		return nil, fmt.Errorf("image: identify distro for %q: %w", name, err)
	}
	return &Image{
		Name:     name,
		store:    s,
		Runnable: &Runnable{Handle: imageRef(name), Distro: d, Probe: s.imageProbe(name)},
	}, nil
}

// imageProbe exports the tagged image to a dedicated scratch directory
// (distinct from the bootstrap/update scratch path, so a concurrent
// Update doesn't race a Describe) and removes it on cleanup.
func (s *PodmanStore) imageProbe(name string) func(ctx context.Context) (string, func(), error) {
	return func(ctx context.Context) (string, func(), error) {
		path := s.scratchPath(name + ".probe")
		if err := exportImageToDir(s.Conn, imageRef(name), path); err != nil {
			return "", nil, err
		}
		return path, func() { _ = os.RemoveAll(path) }, nil
	}
}

func (s *PodmanStore) BootstrapNew(ctx context.Context, name string, cfg BootstrappableConfig) (*Image, error) {
	if s.HasImage(name) {
		return nil, fmt.Errorf("image: %q already exists", name)
	}
	path := s.scratchPath(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if err := bootstrapFS(ctx, cfg.Distro, path); err != nil {
		return nil, err
	}
	if err := runMaintenance(ctx, s.NewRuntime(path), cfg.Distro, cfg.ForwardUsers, cfg.Packages, nonNilScripts(cfg.Maintscript), cfg.Backup); err != nil {
		return nil, err
	}
	if err := importRootfs(s.Conn, path, imageRef(name)); err != nil {
		return nil, err
	}
	return s.newImage(name, &cfg, cfg.Distro), nil
}

func (s *PodmanStore) BootstrapExtend(ctx context.Context, name string, cfg BootstrappableConfig, parent *Image) (*Image, error) {
	if s.HasImage(name) {
		return nil, fmt.Errorf("image: %q already exists", name)
	}
	if parent == nil || !parent.IsRunnable() {
		return nil, fmt.Errorf("image: parent %q is not runnable", cfg.Parent)
	}
	if cfg.Distro == nil {
		cfg.Distro = parent.Runnable.Distro
	}
	path := s.scratchPath(name)
	if err := exportImageToDir(s.Conn, parent.Runnable.Handle, path); err != nil {
		return nil, err
	}

	chain, err := chainConfigs(ctx, s, &cfg)
	if err != nil {
		return nil, err
	}
	forwardUsers, packages, maintscripts := aggregateChain(chain)
	if err := runMaintenance(ctx, s.NewRuntime(path), cfg.Distro, forwardUsers, packages, maintscripts, cfg.Backup); err != nil {
		return nil, err
	}
	if err := importRootfs(s.Conn, path, imageRef(name)); err != nil {
		return nil, err
	}
	return s.newImage(name, &cfg, cfg.Distro), nil
}

func (s *PodmanStore) newImage(name string, cfg *BootstrappableConfig, d *distro.Distro) *Image {
	return &Image{
		Name:           name,
		store:          s,
		Bootstrappable: cfg,
		Runnable:       &Runnable{Handle: imageRef(name), Distro: d, Source: cfg, Probe: s.imageProbe(name)},
	}
}

// Update re-materialises name's scratch directory from the current
// tagged image, runs the maintenance pipeline, and commits the result
// back onto the same tag -- "commit reuses the tag" (spec.md §4.2).
func (s *PodmanStore) Update(ctx context.Context, img *Image) error {
	if !img.IsRunnable() {
		return fmt.Errorf("image: %q is not runnable", img.Name)
	}
	path := s.scratchPath(img.Name)
	if err := exportImageToDir(s.Conn, img.Runnable.Handle, path); err != nil {
		return err
	}
	defer os.RemoveAll(path)

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
	if err := runMaintenance(ctx, s.NewRuntime(path), img.Runnable.Distro, forwardUsers, packages, maintscripts, backup); err != nil {
		return err
	}
	return importRootfs(s.Conn, path, img.Runnable.Handle)
}

func (s *PodmanStore) Remove(ctx context.Context, img *Image) error {
	if !img.IsRunnable() {
		return fmt.Errorf("image: %q is not runnable", img.Name)
	}
	_, rmErrs := images.Remove(s.Conn, []string{img.Runnable.Handle}, nil)
	for _, e := range rmErrs {
		if e != nil {
			return e
		}
	}
	return nil
}

func (s *PodmanStore) Deduplicate(ctx context.Context) (DedupStats, error) {
	return DedupStats{}, nil // dedup is btrfs-only, spec.md §4.2
}

// importRootfs tars dir and imports it as a new layer tagged ref,
// reusing the tag across bootstrap/update (images.Import tags over any
// existing image at that reference).
func importRootfs(conn context.Context, dir, ref string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarDir(dir, pw))
	}()
	defer pr.Close()

	refCopy := ref
	_, err := images.Import(conn, pr, &images.ImportOptions{Reference: &refCopy})
	if err != nil {
		return fmt.Errorf("image: import %s: %w", ref, err)
	}
	return nil
}

func tarDir(dir string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer tw.Close()
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// exportImageToDir materialises ref's root filesystem at dir by
// creating a throwaway container from it and exporting its root,
// the same "create a detached container from the image" contract
// spec.md §4.4 names for Podman containers.
func exportImageToDir(conn context.Context, ref, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// container.PodmanRuntime already knows how to run a container from
	// a bare rootfs; to populate that rootfs from a tagged image we
	// commit-export via a disposable container created directly from
	// the image reference through the low-level containers bindings.
	createReport, err := containers.CreateWithSpec(conn, specgen.NewSpecGenerator(ref, false), nil)
	if err != nil {
		return fmt.Errorf("image: create from %s: %w", ref, err)
	}
	defer func() {
		force := true
		_, _ = containers.Remove(conn, createReport.ID, &containers.RemoveOptions{Force: &force})
	}()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(containers.Export(conn, createReport.ID, pw, nil))
	}()
	defer pr.Close()
	return untarInto(pr, dir)
}

func untarInto(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink:
			_ = os.Symlink(hdr.Linkname, target)
		}
	}
}
