package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpa-simc/monci/pkg/container"
)

func TestMockSessionRecordsCommandsAndForwardUsers(t *testing.T) {
	m := NewMockSession()
	c, err := m.Runtime.Container(context.Background(), container.Config{Name: "probe"})
	require.NoError(t, err)

	_, err = c.Run(context.Background(), []string{"apt-get", "update"}, container.DefaultRunConfig())
	require.NoError(t, err)
	m.ForwardUser("builder")

	require.NoError(t, m.Log.PopFirstExact("runtime.container: probe"))
	require.NoError(t, m.Log.PopFirstExact("container.run: apt-get update"))
	require.NoError(t, m.Log.PopFirstExact("forward-user: builder"))
	assert.NoError(t, m.Log.AssertEmpty())
}

func TestMockSessionQueuedReplyMatchesByRegex(t *testing.T) {
	m := NewMockSession()
	require.NoError(t, m.QueueReply(`^apt-get build-dep`, container.Completed{ExitCode: 1}, nil))

	c, err := m.Runtime.Container(context.Background(), container.Config{Name: "build"})
	require.NoError(t, err)

	completed, err := c.Run(context.Background(), []string{"apt-get", "build-dep", "./"}, container.DefaultRunConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, completed.ExitCode)
}
