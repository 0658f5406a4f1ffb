package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseChangelogNonNative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "changelog"), `monci (1.2.3-1) unstable; urgency=medium

  * Initial release.

 -- A Developer <dev@example.org>  Mon, 01 Jan 2024 00:00:00 +0000
`)
	info, err := ParseChangelog(dir)
	require.NoError(t, err)
	assert.Equal(t, "monci", info.Name)
	assert.Equal(t, "1.2.3-1", info.Version)
	assert.Equal(t, "1.2.3", info.UpstreamVersion)
	assert.False(t, info.Native)
	assert.Equal(t, "monci_1.2.3-1.dsc", info.DscFilename)
	assert.Equal(t, "monci_1.2.3", info.TarballStem)
}

func TestParseChangelogNative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "changelog"), `monci (1.2.3) unstable; urgency=medium

  * Initial release.

 -- A Developer <dev@example.org>  Mon, 01 Jan 2024 00:00:00 +0000
`)
	info, err := ParseChangelog(dir)
	require.NoError(t, err)
	assert.True(t, info.Native)
	assert.Equal(t, "1.2.3", info.UpstreamVersion)
}

func TestParseChangelogWithEpoch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "changelog"), `monci (2:1.2.3-4) unstable; urgency=medium

 -- A Developer <dev@example.org>  Mon, 01 Jan 2024 00:00:00 +0000
`)
	info, err := ParseChangelog(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", info.UpstreamVersion)
	assert.Equal(t, "monci_1.2.3-4.dsc", info.DscFilename)
}

func TestParseGBPConfDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "gbp.conf"), `[DEFAULT]
debian-branch = debian/latest
`)
	gbp, err := ParseGBPConf(dir)
	require.NoError(t, err)
	assert.Equal(t, "debian/latest", gbp.DebianBranch)
	assert.Equal(t, "upstream", gbp.UpstreamBranch)
}

func TestParseGBPConfCustomSections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "gbp.conf"), `[DEFAULT]
upstream-branch = main

[buildpackage]
export-dir = ../build-area
`)
	gbp, err := ParseGBPConf(dir)
	require.NoError(t, err)
	assert.Equal(t, "main", gbp.UpstreamBranch)
}

func TestHasDebianDirAndGBPConf(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HasDebianDir(dir))
	assert.False(t, HasGBPConf(dir))
	writeFile(t, filepath.Join(dir, "debian", "control"), "")
	assert.True(t, HasDebianDir(dir))
	assert.False(t, HasGBPConf(dir))
	writeFile(t, filepath.Join(dir, "debian", "gbp.conf"), "[DEFAULT]\n")
	assert.True(t, HasGBPConf(dir))
}

func TestFindARPASpecfileRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "monci.spec"), "Name: monci\n")
	path, err := findARPASpecfile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "monci.spec"), path)
}

func TestFindARPASpecfilePreferFedoraSpecs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fedora", "SPECS", "monci.spec"), "Name: monci\n")
	path, err := findARPASpecfile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fedora", "SPECS", "monci.spec"), path)
}

func TestFindARPASpecfileNoneIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := findARPASpecfile(dir)
	assert.Error(t, err)
}

func TestFindARPASpecfileMultipleIsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.spec"), "")
	writeFile(t, filepath.Join(dir, "b.spec"), "")
	_, err := findARPASpecfile(dir)
	assert.Error(t, err)
}

func TestDetectDebianStyleFile(t *testing.T) {
	style, err := detectDebianStyle(nil, NewFile("/tmp/monci_1.0.dsc"))
	require.NoError(t, err)
	assert.Equal(t, DebianDsc, style)
}

func TestDetectDebianStylePlainDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian", "control"), "")
	style, err := detectDebianStyle(nil, NewDir(dir))
	require.NoError(t, err)
	assert.Equal(t, DebianDir, style)
}

func TestDetectDebianStyleNoDebianNotGitIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := detectDebianStyle(nil, NewDir(dir))
	assert.Error(t, err)
}
