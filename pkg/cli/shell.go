package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/binds"
	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/source"
)

const guestWorkdir = "/srv/moncic-ci/workdir"

// workdirFlags is the -w/-W/--clone trio shell and run share (spec.md §6).
type workdirFlags struct {
	rw    string
	ro    string
	clone string
}

func addWorkdirFlags(cmd *cobra.Command, f *workdirFlags) {
	cmd.Flags().StringVarP(&f.rw, "workdir", "w", "", "bind-mount DIR read-write as the container's working directory")
	cmd.Flags().StringVarP(&f.ro, "workdir-ro", "W", "", "bind-mount DIR read-only as the container's working directory")
	cmd.Flags().StringVar(&f.clone, "clone", "", "clone URL into an ephemeral working directory")
}

// resolveWorkdirBind turns the -w/-W/--clone flags into an extra bind
// config plus a cleanup for any scratch directory --clone created.
func (f *workdirFlags) resolveWorkdirBind(cmd *cobra.Command) (*binds.Config, func(), error) {
	cleanup := func() {}
	switch {
	case f.clone != "":
		tmp, err := os.MkdirTemp("", "monci-clone-*")
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { os.RemoveAll(tmp) }
		if _, err := source.NewURL(f.clone).CreateLocal(cmd.Context(), tmp, ""); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		return &binds.Config{Source: tmp, Destination: guestWorkdir, Type: binds.ReadWrite, Cwd: true}, cleanup, nil
	case f.rw != "":
		return &binds.Config{Source: f.rw, Destination: guestWorkdir, Type: binds.ReadWrite, Cwd: true}, cleanup, nil
	case f.ro != "":
		return &binds.Config{Source: f.ro, Destination: guestWorkdir, Type: binds.ReadOnly, Cwd: true}, cleanup, nil
	default:
		return nil, cleanup, nil
	}
}

func newShellCmd() *cobra.Command {
	var bf bindFlags
	var wf workdirFlags
	var asUser, asRoot, maintenance bool

	cmd := &cobra.Command{
		Use:   "shell <image>",
		Short: "Open an interactive shell inside an ephemeral container on an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			bindCfgs, err := bf.toConfigs()
			if err != nil {
				return err
			}
			wbind, cleanup, err := wf.resolveWorkdirBind(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if wbind != nil {
				bindCfgs = append(bindCfgs, *wbind)
			}

			cfg := container.Config{
				Name:        "shell-" + args[0],
				Ephemeral:   !maintenance,
				Maintenance: maintenance,
				Binds:       bindCfgs,
				ForwardUser: forwardUserConfig(s.Privs, asUser && !asRoot),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return withImageContainer(ctx, s, args[0], cfg, func(ctx context.Context, ctr container.Container) error {
				return ctr.RunShell(ctx, container.DefaultRunConfig())
			})
		},
	}
	addBindFlags(cmd, &bf)
	addWorkdirFlags(cmd, &wf)
	cmd.Flags().BoolVarP(&asUser, "forward-user", "u", false, "run as the invoking user instead of root")
	cmd.Flags().BoolVarP(&asRoot, "root", "r", false, "run as root (default)")
	cmd.Flags().BoolVar(&maintenance, "maintenance", false, "use a non-ephemeral maintenance container instead")
	return cmd
}
