package runlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopFirstExactInOrder(t *testing.T) {
	l := New()
	l.AppendAction("test: bootstrap")
	l.Append([]string{"btrfs", "-q", "subvolume", "snapshot", "a", "b"}, nil)
	l.AppendCachedirTag()

	require.NoError(t, l.PopFirstExact("test: bootstrap"))
	require.NoError(t, l.PopFirstExact(`run: [btrfs -q subvolume snapshot a b]`))
	require.NoError(t, l.PopFirstExact("cachedir-tag"))
	require.NoError(t, l.AssertEmpty())
}

func TestPopFirstExactMismatchErrors(t *testing.T) {
	l := New()
	l.AppendAction("test: bootstrap")
	err := l.PopFirstExact("test: update")
	assert.Error(t, err)
}

func TestPopFirstOptionalSkipsWhenAbsent(t *testing.T) {
	l := New()
	l.AppendAction("only-event")
	assert.False(t, l.PopFirstOptional("maybe-event"))
	require.NoError(t, l.PopFirstExact("only-event"))
}

func TestPopFirstRegexMatches(t *testing.T) {
	l := New()
	l.Append([]string{"dnf", "install", "-q", "-y", "bash"}, nil)
	require.NoError(t, l.PopFirstRegex(`^run: \[dnf install .*\]$`))
}

func TestAssertEmptyReportsLeftovers(t *testing.T) {
	l := New()
	l.AppendCachedirTag()
	err := l.AssertEmpty()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "1 unconsumed")
}
