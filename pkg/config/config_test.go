package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlobalMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadGlobal(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultGlobal().ImageDir, cfg.ImageDir)
}

func TestLoadGlobalMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("imagedir: /srv/images\nauto_sudo: true\n"), 0o644))

	cfg, err := LoadGlobal(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/images", cfg.ImageDir)
	assert.True(t, cfg.AutoSudo)
	assert.Equal(t, DefaultGlobal().Compression, cfg.Compression)
}

func TestImageValidateRejectsBothDistroAndExtends(t *testing.T) {
	img := &Image{Distro: "debian:12", Extends: "base"}
	assert.Error(t, img.Validate("x"))
}

func TestImageValidateRejectsNeitherDistroNorExtends(t *testing.T) {
	img := &Image{}
	assert.Error(t, img.Validate("x"))
}

func TestImageForwardUsersAcceptsStringOrList(t *testing.T) {
	single := &Image{ForwardUser: "builder"}
	users, err := single.ForwardUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"builder"}, users)

	list := &Image{ForwardUser: []any{"a", "b"}}
	users, err = list.ForwardUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, users)
}

func TestLoadImagesLaterDirOverrides(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "base.yaml"), []byte("distro: debian:12\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "base.yaml"), []byte("distro: debian:13\n"), 0o644))

	images, err := LoadImages([]string{dirA, dirB})
	require.NoError(t, err)
	require.Contains(t, images, "base")
	assert.Equal(t, "debian:13", images["base"].Distro)
}

func TestLoadBuildConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadBuildConfig("", "debian")
	require.NoError(t, err)
	assert.False(t, cfg.Quick)
}

func TestLoadBuildConfigParsesClassChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  quick: true\ndebian:\n  source_only: true\n"), 0o644))

	cfg, err := LoadBuildConfig(path, "debian")
	require.NoError(t, err)
	assert.True(t, cfg.Quick)
	assert.True(t, cfg.SourceOnly)
}
