package privs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGateWithoutSudoEnvHasNoInvoker(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	t.Setenv("SUDO_UID", "")
	t.Setenv("SUDO_GID", "")

	g, err := NewGate()
	require.NoError(t, err)
	assert.Nil(t, g.invoker)
	assert.False(t, g.dropped)
}

func TestRootIsNoopWithoutInvoker(t *testing.T) {
	g := &Gate{}
	called := false
	err := g.Root(func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestUserWithoutInvokerErrors(t *testing.T) {
	g := &Gate{}
	err := g.User(func() error { return nil })
	assert.Error(t, err)
}

func TestNeedsSudoWhenRootSucceedsWithoutReexec(t *testing.T) {
	if !isRoot() {
		t.Skip("test process is not root; covered by integration test suite")
	}
	g := &Gate{}
	called := false
	err := g.NeedsSudo(false, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestNeedsSudoFailsWithoutAutoSudoWhenNotRoot(t *testing.T) {
	if isRoot() {
		t.Skip("test process is root; this path only triggers unprivileged")
	}
	g := &Gate{}
	err := g.NeedsSudo(false, func() error { return nil })
	assert.ErrorIs(t, err, ErrNeedsSudo)
}

func isRoot() bool {
	return os.Getuid() == 0
}
