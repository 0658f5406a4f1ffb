package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpa-simc/monci/pkg/script"
)

func TestConfigValidateRejectsForwardUserWithoutEphemeral(t *testing.T) {
	cfg := Config{ForwardUser: &UserConfig{Name: "build"}}
	err := cfg.Validate()
	assert.ErrorIs(t, err, errForwardUserRequiresEphemeral)
}

func TestConfigValidateAllowsForwardUserWithEphemeral(t *testing.T) {
	cfg := Config{Ephemeral: true, ForwardUser: &UserConfig{Name: "build"}}
	assert.NoError(t, cfg.Validate())
}

func TestMockRuntimeRecordsEnterAndClose(t *testing.T) {
	rt := NewMockRuntime()
	ctx := context.Background()

	ctr, err := rt.Container(ctx, Config{Name: "build1"})
	require.NoError(t, err)
	require.NoError(t, ctr.Enter(ctx))
	require.NoError(t, ctr.Close(ctx))

	assert.NoError(t, rt.Log.PopFirstExact("runtime.container: build1"))
	assert.NoError(t, rt.Log.PopFirstExact("container.enter: build1"))
	assert.NoError(t, rt.Log.PopFirstExact("container.close: build1"))
	assert.NoError(t, rt.Log.AssertEmpty())
}

func TestMockContainerLingerSkipsTeardown(t *testing.T) {
	rt := NewMockRuntime()
	ctx := context.Background()

	ctr, err := rt.MaintenanceContainer(ctx, Config{Name: "linger1"})
	require.NoError(t, err)
	ctr.SetLinger(true)
	require.NoError(t, ctr.Enter(ctx))
	require.NoError(t, ctr.Close(ctx))

	assert.NoError(t, rt.Log.PopFirstExact("runtime.maintenanceContainer: linger1"))
	assert.NoError(t, rt.Log.PopFirstExact("container.enter: linger1"))
	assert.NoError(t, rt.Log.PopFirstExact("container.close.lingered: linger1"))
}

func TestMockContainerRunScriptRecordsTitle(t *testing.T) {
	rt := NewMockRuntime()
	ctx := context.Background()
	ctr, err := rt.Container(ctx, Config{Name: "scripted"})
	require.NoError(t, err)

	s := script.New("install build deps")
	s.Run("apt-get", "install", "-y", "build-essential")
	_, err = ctr.RunScript(ctx, s)
	require.NoError(t, err)

	rt.Log.PopFirstExact("runtime.container: scripted")
	assert.NoError(t, rt.Log.PopFirstExact("script: install build deps"))
}

func TestMockContainerRunCallableInvokesFnByDefault(t *testing.T) {
	rt := NewMockRuntime()
	ctx := context.Background()
	ctr, err := rt.Container(ctx, Config{Name: "callable"})
	require.NoError(t, err)

	called := false
	result, err := ctr.RunCallable(ctx, "probe", func() (any, error) {
		called = true
		return 42, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 42, result)
}

func TestScopedStepsUnwindsInReverseOrder(t *testing.T) {
	steps := &scopedSteps{}
	var order []int
	steps.Enter(func() error { order = append(order, 1); return nil })
	steps.Enter(func() error { order = append(order, 2); return nil })
	steps.Enter(func() error { order = append(order, 3); return nil })

	require.NoError(t, steps.Unwind())
	assert.Equal(t, []int{3, 2, 1}, order)
}
