package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionalUpdateSwapsNewIntoPlaceOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	err := transactionalUpdate(context.Background(), path,
		func(ctx context.Context, newPath string) error {
			return os.WriteFile(newPath, []byte("cloned"), 0o644)
		},
		func(ctx context.Context, newPath string) error {
			return os.WriteFile(newPath, []byte("mutated"), 0o644)
		},
	)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mutated", string(content))
	assert.NoFileExists(t, path+".new")
	assert.NoFileExists(t, path+".tmp")
}

func TestTransactionalUpdateLeavesOriginalUntouchedOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	err := transactionalUpdate(context.Background(), path,
		func(ctx context.Context, newPath string) error {
			return os.WriteFile(newPath, []byte("cloned"), 0o644)
		},
		func(ctx context.Context, newPath string) error {
			return errors.New("maintenance failed")
		},
	)
	require.Error(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
	assert.NoFileExists(t, path+".new")
	assert.NoFileExists(t, path+".tmp")
}

func TestTransactionalUpdateClearsStaleNewBeforeCloning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(path+".new", []byte("stale leftover"), 0o644))

	var sawStale bool
	err := transactionalUpdate(context.Background(), path,
		func(ctx context.Context, newPath string) error {
			if _, statErr := os.Stat(newPath); statErr == nil {
				sawStale = true
			}
			return os.WriteFile(newPath, []byte("cloned"), 0o644)
		},
		func(ctx context.Context, newPath string) error { return nil },
	)
	require.NoError(t, err)
	assert.False(t, sawStale)
}
