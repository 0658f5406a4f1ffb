package image

import (
	"context"
	"fmt"
	"os"
)

// transactionalUpdate runs fn against a <path>.new clone of path (built
// by clone), then atomically swaps it into place: path -> path.tmp,
// path.new -> path, remove path.tmp. On failure path.new is removed and
// path is left untouched (spec.md §4.2 "Transactional updates" -- the
// stash/replace must happen on the same filesystem, which os.Rename
// already guarantees by refusing cross-filesystem renames).
//
// Plain os.Rename/os.RemoveAll rather than a third-party atomic-replace
// library: none of the pack's dependencies offer a directory-level
// (rather than single-file) atomic swap, and the dance here is exactly
// three directory renames, not a general enough surface to justify a dep.
func transactionalUpdate(ctx context.Context, path string, clone func(ctx context.Context, newPath string) error, fn func(ctx context.Context, newPath string) error) (err error) {
	newPath := path + ".new"
	if err := os.RemoveAll(newPath); err != nil {
		return fmt.Errorf("image: clear stale %s: %w", newPath, err)
	}
	if err := clone(ctx, newPath); err != nil {
		return fmt.Errorf("image: clone %s -> %s: %w", path, newPath, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(newPath)
		}
	}()

	if err := fn(ctx, newPath); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.Rename(path, tmpPath); err != nil {
		return fmt.Errorf("image: stash %s: %w", path, err)
	}
	if err := os.Rename(newPath, path); err != nil {
		_ = os.Rename(tmpPath, path)
		return fmt.Errorf("image: swap in %s: %w", newPath, err)
	}
	if err := os.RemoveAll(tmpPath); err != nil {
		return fmt.Errorf("image: remove stash %s: %w", tmpPath, err)
	}
	return nil
}
