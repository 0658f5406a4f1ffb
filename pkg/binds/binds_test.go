package binds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpa-simc/monci/pkg/script"
)

func TestBindRoundTripAllTypes(t *testing.T) {
	cases := []Config{
		{Source: "/var/cache/monci", Destination: "/srv/moncic-ci/source", Type: ReadOnly},
		{Source: "/home/user/project", Destination: "/srv/moncic-ci/source", Type: ReadWrite},
		{Source: "/home/user/project", Destination: "/srv/moncic-ci/source", Type: Volatile},
		{Source: "/with:colon", Destination: "/guest:path", Type: ReadOnly},
	}
	for _, want := range cases {
		rendered := want.ToNspawn()
		got, err := FromNspawn(rendered, want.Type)
		require.NoError(t, err, rendered)
		assert.Equal(t, want.Source, got.Source)
		assert.Equal(t, want.Destination, got.Destination)
		assert.Equal(t, want.Type, got.Type)
	}
}

func TestToNspawnReadOnlyUsesBindRo(t *testing.T) {
	c := Config{Source: "/a", Destination: "/b", Type: ReadOnly}
	assert.Equal(t, "--bind-ro=/a:/b", c.ToNspawn())
}

func TestToNspawnVolatileAppendsReadonlySuffix(t *testing.T) {
	c := Config{Source: "/a", Destination: "/b", Type: Volatile}
	assert.Equal(t, "--bind=/a:/b-readonly", c.ToNspawn())
}

func TestToPodmanVolatileIsTmpfs(t *testing.T) {
	c := Config{Source: "/a", Destination: "/b", Type: Volatile}
	m := c.ToPodman()
	assert.Equal(t, "tmpfs", m.Type)
}

func TestToPodmanReadOnlySetsFlag(t *testing.T) {
	c := Config{Source: "/a", Destination: "/b", Type: ReadOnly}
	m := c.ToPodman()
	assert.True(t, m.ReadOnly)
}

type fakeHandle struct {
	scripts []string
	root    string
}

func (f *fakeHandle) RunGuestScript(s *script.Script) error {
	f.scripts = append(f.scripts, s.Render())
	return nil
}
func (f *fakeHandle) RunHostScript(s *script.Script) error { return nil }
func (f *fakeHandle) HostRoot() string                     { return f.root }

func TestGuestSetupVolatileMountsOverlayAndTeardownUnmounts(t *testing.T) {
	c := Config{Source: "/host/src", Destination: "/srv/moncic-ci/source", Type: Volatile}
	h := &fakeHandle{root: "/var/lib/machines/test"}
	teardown, err := c.GuestSetup(h)
	require.NoError(t, err)
	require.Len(t, h.scripts, 1)
	assert.Contains(t, h.scripts[0], "mount -t overlay overlay")

	require.NoError(t, teardown())
	require.Len(t, h.scripts, 2)
	assert.Contains(t, h.scripts[1], "umount /srv/moncic-ci/source")
}

func TestGuestSetupArtifactsTeardownChownsReference(t *testing.T) {
	c := Config{Source: "/host/out", Destination: "/srv/moncic-ci/artifacts", Type: Artifacts}
	h := &fakeHandle{}
	teardown, err := c.GuestSetup(h)
	require.NoError(t, err)
	require.NoError(t, teardown())
	require.Len(t, h.scripts, 1)
	assert.Contains(t, h.scripts[0], "chown -R --reference=/srv/moncic-ci/artifacts /srv/moncic-ci/artifacts")
}
