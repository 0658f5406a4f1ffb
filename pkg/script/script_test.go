package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStartsWithShebangAndContainsLines(t *testing.T) {
	s := New("install packages")
	s.Run("apt-get", "update")
	s.Setenv("DEBIAN_FRONTEND", "noninteractive")
	s.Run("apt-get", "install", "-y", "vim")

	out := s.Render()
	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "#!/bin/sh -ue", lines[0])

	for _, want := range []string{
		"apt-get update",
		"export DEBIAN_FRONTEND='noninteractive'",
		"apt-get install -y vim",
	} {
		assert.Contains(t, out, want)
	}
}

func TestDebugUsesTracingShebang(t *testing.T) {
	s := New("debug build")
	s.Debug = true
	out := s.Render()
	assert.True(t, strings.HasPrefix(out, "#!/bin/sh -uxe\n"))
}

func TestIfElseEndNesting(t *testing.T) {
	s := New("conditional")
	s.If("[ -f /etc/os-release ]").
		Line("echo found").
		Else().
		Line("echo missing").
		End()

	out := s.Render()
	assert.Contains(t, out, "if [ -f /etc/os-release ]; then")
	assert.Contains(t, out, "    echo found")
	assert.Contains(t, out, "else")
	assert.Contains(t, out, "    echo missing")
	assert.Contains(t, out, "fi")
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
}

func TestFailEmitsStderrAndExit(t *testing.T) {
	s := New("guard")
	s.Fail("missing tarball")
	assert.Contains(t, s.Render(), "echo 'missing tarball' >&2; exit 1")
}

func TestArgvSplitsQuotedWords(t *testing.T) {
	assert.Equal(t, []string{"apt-get", "install", "-y", "a package"}, Argv(`apt-get install -y "a package"`))
}
