package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBuildProfileSharedKeywords(t *testing.T) {
	options, profiles := parseBuildProfile("nocheck nodoc")
	assert.Equal(t, []string{"nocheck", "nodoc"}, options)
	assert.Equal(t, []string{"nocheck", "nodoc"}, profiles)
}

func TestParseBuildProfileOptionOnlyKeywords(t *testing.T) {
	options, profiles := parseBuildProfile("parallel=4 nostrip hardening=+all")
	assert.Equal(t, []string{"parallel=4", "nostrip", "hardening=+all"}, options)
	assert.Empty(t, profiles)
}

func TestParseBuildProfileUnknownKeywordIsProfileOnly(t *testing.T) {
	options, profiles := parseBuildProfile("cross nocheck")
	assert.Equal(t, []string{"nocheck"}, options)
	assert.Equal(t, []string{"cross", "nocheck"}, profiles)
}

func TestParseBuildProfileEmpty(t *testing.T) {
	options, profiles := parseBuildProfile("")
	assert.Empty(t, options)
	assert.Empty(t, profiles)
}
