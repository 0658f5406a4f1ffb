package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindVersionsAutoconf(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "configure.ac"), `AC_INIT([monci], [1.2.3], [bugs@example.org])`)
	found, err := FindVersions(context.Background(), dir, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, FoundVersion{"configure.ac", "1.2.3"}, found[0])
}

func TestFindVersionsMeson(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "meson.build"), `project('monci', version: '1.2.3')`)
	found, err := FindVersions(context.Background(), dir, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "meson.build", found[0].Method)
	assert.Equal(t, "1.2.3", found[0].Version)
}

func TestFindVersionsCMake(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "CMakeLists.txt"), `set(PACKAGE_VERSION "1.2.3")`)
	found, err := FindVersions(context.Background(), dir, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1.2.3", found[0].Version)
}

func TestFindVersionsNews(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "NEWS.md"), "# New in version 1.2.3\n\n* stuff\n")
	found, err := FindVersions(context.Background(), dir, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1.2.3", found[0].Version)
}

func TestFindVersionsIncludesChangelog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "changelog"), `monci (1.2.3-1) unstable; urgency=medium

 -- A Developer <dev@example.org>  Mon, 01 Jan 2024 00:00:00 +0000
`)
	found, err := FindVersions(context.Background(), dir, false)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "debian-upstream", found[0].Method)
	assert.Equal(t, "1.2.3", found[0].Version)
	assert.Equal(t, "debian-release", found[1].Method)
	assert.Equal(t, "1.2.3-1", found[1].Version)
}

func TestDisagreementNoneWhenAllEqual(t *testing.T) {
	found := []FoundVersion{{"configure.ac", "1.2.3"}, {"debian-upstream", "1.2.3"}}
	ok, _ := Disagreement(found)
	assert.False(t, ok)
}

func TestDisagreementWhenDiffer(t *testing.T) {
	found := []FoundVersion{{"configure.ac", "1.2.3"}, {"debian-upstream", "1.2.4"}}
	ok, msg := Disagreement(found)
	assert.True(t, ok)
	assert.Contains(t, msg, "configure.ac=1.2.3")
	assert.Contains(t, msg, "debian-upstream=1.2.4")
}

func TestSetupPyVersionSkippedWhenNotAllowed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "setup.py"), "print('1.0')\n")
	found, err := FindVersions(context.Background(), dir, false)
	require.NoError(t, err)
	for _, f := range found {
		assert.NotEqual(t, "setup.py --version", f.Method)
	}
}
