// mock.go implements a MockRuntime for tests that need a Runtime without
// a real nspawn/podman host. Grounded on the teacher's runtime_mock.go
// (per-method Func field); an unset Func falls back to a default that
// records the call and succeeds (RunCallable calls fn). Actions are
// recorded into a runlog.RunLog instead of a Calls slice so tests can
// assert an exact ordered sequence rather than grep individual calls.
package container

import (
	"context"
	"errors"

	"github.com/arpa-simc/monci/pkg/runlog"
	"github.com/arpa-simc/monci/pkg/script"
)

// ErrMockNotImplemented is a sentinel error for mock functions; the
// default behaviours of an unset Func in this file never return it.
var ErrMockNotImplemented = errors.New("container: mock function not implemented")

// MockRuntime implements Runtime for tests.
type MockRuntime struct {
	Log *runlog.RunLog

	ContainerFunc            func(ctx context.Context, cfg Config) (Container, error)
	MaintenanceContainerFunc func(ctx context.Context, cfg Config) (Container, error)
	ModeFunc                 func() string
}

func NewMockRuntime() *MockRuntime {
	return &MockRuntime{Log: runlog.New()}
}

func (m *MockRuntime) Mode() string {
	if m.ModeFunc != nil {
		return m.ModeFunc()
	}
	return "mock"
}

func (m *MockRuntime) Container(ctx context.Context, cfg Config) (Container, error) {
	m.Log.AppendAction("runtime.container: " + cfg.Name)
	if m.ContainerFunc != nil {
		return m.ContainerFunc(ctx, cfg)
	}
	return &MockContainer{Cfg: cfg, Log: m.Log}, nil
}

func (m *MockRuntime) MaintenanceContainer(ctx context.Context, cfg Config) (Container, error) {
	m.Log.AppendAction("runtime.maintenanceContainer: " + cfg.Name)
	if m.MaintenanceContainerFunc != nil {
		return m.MaintenanceContainerFunc(ctx, cfg)
	}
	return &MockContainer{Cfg: cfg, Log: m.Log, maintenance: true}, nil
}

// MockContainer implements Container, recording every verb into the
// shared RunLog instead of touching any real backend.
type MockContainer struct {
	Cfg         Config
	Log         *runlog.RunLog
	maintenance bool
	linger      bool

	RunFunc         func(ctx context.Context, argv []string, rc RunConfig) (Completed, error)
	RunCallableFunc func(ctx context.Context, name string, fn func() (any, error)) (any, error)
}

func (c *MockContainer) SetLinger(v bool) { c.linger = v }

func (c *MockContainer) Enter(ctx context.Context) error {
	c.Log.AppendAction("container.enter: " + c.Cfg.Name)
	return nil
}

func (c *MockContainer) Close(ctx context.Context) error {
	if c.linger || c.Cfg.Linger {
		c.Log.AppendAction("container.close.lingered: " + c.Cfg.Name)
		return nil
	}
	c.Log.AppendAction("container.close: " + c.Cfg.Name)
	return nil
}

func (c *MockContainer) Run(ctx context.Context, argv []string, rc RunConfig) (Completed, error) {
	c.Log.AppendAction("container.run: " + argvJoin(argv))
	if c.RunFunc != nil {
		return c.RunFunc(ctx, argv, rc)
	}
	return Completed{}, nil
}

func (c *MockContainer) RunScript(ctx context.Context, s *script.Script) (Completed, error) {
	c.Log.AppendScript(s.Title, s.Lines())
	return Completed{}, nil
}

func (c *MockContainer) RunCallable(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	c.Log.AppendCallable(name)
	if c.RunCallableFunc != nil {
		return c.RunCallableFunc(ctx, name, fn)
	}
	return fn()
}

func (c *MockContainer) RunShell(ctx context.Context, rc RunConfig) error {
	c.Log.AppendAction("container.runShell: " + c.Cfg.Name)
	return nil
}

func (c *MockContainer) GetRoot() string { return "/mock-root" }

func (c *MockContainer) GetPID() (int, error) { return 1, nil }

func (c *MockContainer) RunGuestScript(s *script.Script) error {
	c.Log.AppendScript(s.Title, s.Lines())
	return nil
}

func (c *MockContainer) RunHostScript(s *script.Script) error {
	c.Log.AppendAction("container.runHostScript: " + s.Title)
	return nil
}

func (c *MockContainer) HostRoot() string { return "/mock-root" }

func argvJoin(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
