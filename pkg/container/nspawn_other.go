//go:build !linux

package container

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NspawnRuntime is a stub on non-Linux platforms: systemd-nspawn has no
// equivalent elsewhere. Mirrors the teacher's runtime_libpod_stub.go
// posture for a backend that is inherently platform-specific.
type NspawnRuntime struct{}

// NewNspawnRuntime returns a runtime whose methods all fail with
// ErrNspawnNotAvailable.
func NewNspawnRuntime(rootFS string, log *logrus.Entry) *NspawnRuntime {
	return &NspawnRuntime{}
}

func (r *NspawnRuntime) Mode() string { return "nspawn" }

func (r *NspawnRuntime) Container(ctx context.Context, cfg Config) (Container, error) {
	return nil, ErrNspawnNotAvailable
}

func (r *NspawnRuntime) MaintenanceContainer(ctx context.Context, cfg Config) (Container, error) {
	return nil, ErrNspawnNotAvailable
}
