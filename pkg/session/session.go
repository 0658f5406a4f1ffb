// Package session implements the process-wide scoped aggregate (spec.md
// §4.8, C8): the image repository, an opt-in apt cache, an opt-in
// extra-packages mirror, and a lazily-connected podman client, all
// released together on scope exit.
//
// Grounded on the teacher's *App struct (cmd/root.go / pkg/app/app.go),
// which bundles one process's shared Config/Log/OSCommand/ContainerRuntime
// and is threaded into every *Command/*Gui constructor; Session plays
// the same "one bag of shared resources per process" role, generalized
// from the teacher's single ContainerRuntime field to this spec's
// image-repository-plus-caches shape.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/config"
	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/image"
	"github.com/arpa-simc/monci/pkg/privs"
	"github.com/arpa-simc/monci/pkg/script"
)

// Session bundles the shared resources one monci invocation needs.
type Session struct {
	Global *config.Global
	Log    *logrus.Entry

	Catalog    *distro.Catalog
	Repository *image.ImageRepository

	Privs *privs.Gate

	// DebCache, when non-empty, is the host apt-cache directory bind
	// into every build (spec.md §4.8, §5 "DebCache").
	DebCache string

	// ExtraPackagesMirror is a fresh per-session directory hardlinked
	// from ExtraPackagesDir, or "" when extra-packages-dir was not
	// configured.
	ExtraPackagesMirror string

	podmanSocket string
	podmanConn   context.Context
	mirrorDir    string
}

// Options parameterizes New beyond what Global alone carries (CLI flag
// overrides: -I/--imagedir, --extra-packages-dir).
type Options struct {
	ImageDir         string // overrides Global.ImageDir when non-empty
	ExtraPackagesDir string // overrides Global.ExtraPackagesDir when non-empty
	PodmanSocket     string // "" uses the default user socket path
	Privileged       bool   // whether this process can use the btrfs/plain store at ImageDir
}

// New constructs a Session: an image repository built from the explicit
// imagedir when given, otherwise the default layering of a podman store
// plus -- when privileged -- a btrfs-or-plain store rooted at
// /var/lib/machines (spec.md §4.8).
func New(ctx context.Context, global *config.Global, opts Options, log *logrus.Entry) (*Session, error) {
	gate, err := privs.NewGate()
	if err != nil {
		return nil, fmt.Errorf("session: privilege gate: %w", err)
	}

	cat := distro.NewCatalog()

	imagesDir := opts.ImageDir
	if imagesDir == "" {
		imagesDir = global.ImageDir
	}

	var stores []image.Store
	socket := opts.PodmanSocket
	if socket == "" {
		socket = defaultPodmanSocket()
	}
	podmanLog := log.WithField("backend", "podman")
	podmanFactory := func(rootFS string) container.Runtime {
		rt, err := container.NewPodmanRuntime(ctx, socket, rootFS, podmanLog)
		if err != nil {
			panic(fmt.Sprintf("session: podman runtime: %v", err))
		}
		return rt
	}
	scratchDir := filepath.Join(os.TempDir(), "monci-podman-scratch")
	if opts.ImageDir == "" {
		stores = append(stores, image.NewPodmanStore(scratchDir, cat, ctx, podmanFactory, podmanLog))
	}

	if opts.Privileged || opts.ImageDir != "" {
		nspawnLog := log.WithField("backend", "nspawn")
		nspawnFactory := func(rootFS string) container.Runtime {
			return container.NewNspawnRuntime(rootFS, nspawnLog)
		}
		if hasBtrfs(imagesDir) {
			stores = append(stores, image.NewBtrfsStore(imagesDir, cat, nspawnFactory, nspawnLog))
		} else {
			stores = append(stores, image.NewPlainStore(imagesDir, cat, nspawnFactory, nspawnLog))
		}
	}

	configured, err := loadConfiguredImages(global, cat)
	if err != nil {
		return nil, err
	}

	repo := image.NewImageRepository(cat, configured, stores...)

	s := &Session{
		Global:       global,
		Log:          log,
		Catalog:      cat,
		Repository:   repo,
		Privs:        gate,
		DebCache:     global.DebCacheDir,
		podmanSocket: socket,
	}

	extraDir := opts.ExtraPackagesDir
	if extraDir == "" {
		extraDir = global.ExtraPackagesDir
	}
	if extraDir != "" {
		mirror, err := mirrorExtraPackages(extraDir)
		if err != nil {
			return nil, err
		}
		s.ExtraPackagesMirror = mirror
		s.mirrorDir = mirror
	}

	return s, nil
}

// Close releases per-session resources: the extra-packages mirror
// directory (a fresh hardlink tree created on every session, per
// spec.md §4.8) is removed; the apt cache's own LRU trim-back runs at
// the bind's own teardown (pkg/binds), not here.
func (s *Session) Close() error {
	if s.mirrorDir != "" {
		return os.RemoveAll(s.mirrorDir)
	}
	return nil
}

func defaultPodmanSocket() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return "unix://" + xdg + "/podman/podman.sock"
	}
	return "unix:///run/podman/podman.sock"
}

// hasBtrfs reports whether dir's filesystem (or its longest existing
// ancestor) is mounted as btrfs, per /proc/mounts -- the signal that
// selects BtrfsStore over PlainStore for the privileged backend
// (spec.md §4.8).
func hasBtrfs(dir string) bool {
	out, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	best := ""
	bestIsBtrfs := false
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountpoint, fstype := fields[1], fields[2]
		if !strings.HasPrefix(dir, mountpoint) {
			continue
		}
		if len(mountpoint) > len(best) {
			best = mountpoint
			bestIsBtrfs = fstype == "btrfs"
		}
	}
	return bestIsBtrfs
}

func loadConfiguredImages(global *config.Global, cat *distro.Catalog) (map[string]*image.BootstrappableConfig, error) {
	imgs, err := config.LoadImages(global.ImageConfDirs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*image.BootstrappableConfig, len(imgs))
	for name, img := range imgs {
		users, err := img.ForwardUsers()
		if err != nil {
			return nil, fmt.Errorf("session: image %q: %w", name, err)
		}
		var maint *script.Script
		if img.Maintscript != "" {
			maint = script.New("maintscript for " + name)
			maint.Run("sh", "-c", img.Maintscript)
		}
		var d *distro.Distro
		if img.Distro != "" {
			d, err = cat.LookupDistro(img.Distro)
			if err != nil {
				return nil, fmt.Errorf("session: image %q: %w", name, err)
			}
		}
		tmpfs := img.Tmpfs
		out[name] = &image.BootstrappableConfig{
			Distro:       d,
			Parent:       img.Extends,
			ForwardUsers: users,
			Packages:     img.Packages,
			Maintscript:  maint,
			Backup:       img.Backup,
			Compression:  img.Compression,
			Tmpfs:        &tmpfs,
		}
	}
	return out, nil
}

// mirrorExtraPackages hardlinks every regular file under src into a
// fresh temp directory, the host-package mirror spec.md §4.8 describes.
func mirrorExtraPackages(src string) (string, error) {
	dst, err := os.MkdirTemp("", "monci-extra-packages-*")
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", fmt.Errorf("session: read extra-packages-dir %s: %w", src, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Link(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return "", fmt.Errorf("session: mirror %s: %w", e.Name(), err)
		}
	}
	return dst, nil
}
