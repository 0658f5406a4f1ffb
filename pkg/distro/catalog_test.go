package distro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDistroByFullNameAndAlias(t *testing.T) {
	c := NewCatalog()
	for _, d := range c.distros {
		got, err := c.LookupDistro(d.FullName)
		require.NoError(t, err)
		assert.Same(t, d, got)

		for _, alias := range d.Aliases {
			got, err := c.LookupDistro(alias)
			require.NoError(t, err, "alias %q of %s", alias, d.FullName)
			assert.Same(t, d, got)
		}
	}
}

func TestFromOSReleaseRoundTrip(t *testing.T) {
	c := NewCatalog()
	for _, d := range c.distros {
		if d.Version == "testing" || d.Version == "sid" {
			continue // see TestDebianSidFallback
		}
		got, err := c.FromOSRelease(map[string]string{
			"ID":         osReleaseFamilyID(d.Family),
			"VERSION_ID": d.Version,
		}, "")
		require.NoError(t, err, d.FullName)
		assert.Same(t, d, got)
	}
}

func TestDebianSidFallbackWhenVersionIDAbsent(t *testing.T) {
	c := NewCatalog()
	got, err := c.FromOSRelease(map[string]string{"ID": "debian"}, "")
	require.NoError(t, err)
	assert.Equal(t, "sid", got.Version)
}

func TestLookupUnknownDistroErrors(t *testing.T) {
	c := NewCatalog()
	_, err := c.LookupDistro("plan9:4")
	assert.Error(t, err)
}

func TestParseOSReleaseQuotingRules(t *testing.T) {
	content := `NAME="Debian GNU/Linux"
ID=debian
VERSION_ID="12"
PRETTY_NAME='Debian GNU/Linux 12 (bookworm)'
HOME_URL=https://www.debian.org/
# a comment
BUILD_ID=unquoted-word.1
`
	parsed, err := ParseOSRelease(content)
	require.NoError(t, err)
	assert.Equal(t, "Debian GNU/Linux", parsed["NAME"])
	assert.Equal(t, "debian", parsed["ID"])
	assert.Equal(t, "12", parsed["VERSION_ID"])
	assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", parsed["PRETTY_NAME"])
	assert.Equal(t, "https://www.debian.org/", parsed["HOME_URL"])
	assert.Equal(t, "unquoted-word.1", parsed["BUILD_ID"])
}

func TestParseOSReleaseRejectsNonAssignment(t *testing.T) {
	_, err := ParseOSRelease("not-an-assignment-line")
	assert.Error(t, err)
}
