package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/binds"
	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/privs"
	"github.com/arpa-simc/monci/pkg/session"
)

// bindFlags holds the repeatable --bind family of flags shared by shell
// and run (spec.md §6).
type bindFlags struct {
	rw       []string
	ro       []string
	volatile []string
}

func addBindFlags(cmd *cobra.Command, f *bindFlags) {
	cmd.Flags().StringArrayVar(&f.rw, "bind", nil, "bind-mount HOST:GUEST read-write")
	cmd.Flags().StringArrayVar(&f.ro, "bind-ro", nil, "bind-mount HOST:GUEST read-only")
	cmd.Flags().StringArrayVar(&f.volatile, "bind-volatile", nil, "bind-mount HOST:GUEST as a writable overlay discarded on exit")
}

func (f *bindFlags) toConfigs() ([]binds.Config, error) {
	var out []binds.Config
	add := func(specs []string, t binds.Type) error {
		for _, s := range specs {
			parts := strings.SplitN(s, ":", 2)
			if len(parts) != 2 {
				return fmt.Errorf("cli: bad bind spec %q, want HOST:GUEST", s)
			}
			out = append(out, binds.Config{Source: parts[0], Destination: parts[1], Type: t})
		}
		return nil
	}
	if err := add(f.rw, binds.ReadWrite); err != nil {
		return nil, err
	}
	if err := add(f.ro, binds.ReadOnly); err != nil {
		return nil, err
	}
	if err := add(f.volatile, binds.Volatile); err != nil {
		return nil, err
	}
	return out, nil
}

// forwardUserConfig builds the container.UserConfig for -u (forward the
// invoking user) vs -r (stay root), per spec.md §4.9/§4.4.
func forwardUserConfig(gate *privs.Gate, asUser bool) *container.UserConfig {
	if !asUser {
		return nil
	}
	inv := gate.Invoker()
	if inv == nil {
		return nil
	}
	return &container.UserConfig{Name: inv.Name, UID: inv.UID, GID: inv.GID}
}

// withImageContainer resolves name to a runnable Image, exports a host
// rootfs via its Probe (spec.md §4.3: the same throwaway-container hook
// Describe uses), starts a container with cfg over it, and runs fn.
// Grounded directly on pkg/image/describe.go's probeVersions, the
// established "Probe + NewNspawnRuntime" pattern for ad hoc containers
// against any backend's materialised image.
func withImageContainer(ctx context.Context, s *session.Session, name string, cfg container.Config, fn func(context.Context, container.Container) error) error {
	img, err := s.Repository.Image(ctx, name)
	if err != nil {
		return err
	}
	if !img.IsRunnable() {
		return fmt.Errorf("cli: image %q has not been bootstrapped", name)
	}

	path, cleanup, err := img.Runnable.Probe(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rt := container.NewNspawnRuntime(path, s.Log.WithField("image", name))

	var ctr container.Container
	if cfg.Maintenance {
		ctr, err = rt.MaintenanceContainer(ctx, cfg)
	} else {
		ctr, err = rt.Container(ctx, cfg)
	}
	if err != nil {
		return err
	}
	if err := ctr.Enter(ctx); err != nil {
		return err
	}
	defer ctr.Close(ctx)

	return fn(ctx, ctr)
}
