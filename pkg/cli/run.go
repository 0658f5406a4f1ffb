package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/monciciness"
)

func newRunCmd() *cobra.Command {
	var bf bindFlags
	var wf workdirFlags
	var asUser, asRoot, maintenance bool

	cmd := &cobra.Command{
		Use:   "run <image> -- <cmd…>",
		Short: "Run a command inside an ephemeral container on an image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			var image string
			var argv []string
			if dash < 0 {
				image = args[0]
				argv = args[1:]
			} else {
				image = args[0]
				argv = args[dash:]
			}
			if len(argv) == 0 {
				return monciciness.Fail("run: no command given")
			}

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
				Name:        "run-" + image,
				Ephemeral:   !maintenance,
				Maintenance: maintenance,
				Binds:       bindCfgs,
				ForwardUser: forwardUserConfig(s.Privs, asUser && !asRoot),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var exitCode int
			runErr := withImageContainer(ctx, s, image, cfg, func(ctx context.Context, ctr container.Container) error {
				completed, err := ctr.Run(ctx, argv, container.RunConfig{Check: false})
				exitCode = completed.ExitCode
				return err
			})
			if runErr != nil {
				return runErr
			}
			if exitCode != 0 {
				return &monciciness.RunExitError{Code: exitCode}
			}
			return nil
		},
	}
	addBindFlags(cmd, &bf)
	addWorkdirFlags(cmd, &wf)
	cmd.Flags().BoolVarP(&asUser, "forward-user", "u", false, "run as the invoking user instead of root")
	cmd.Flags().BoolVarP(&asRoot, "root", "r", false, "run as root (default)")
	cmd.Flags().BoolVar(&maintenance, "maintenance", false, "use a non-ephemeral maintenance container instead")
	return cmd
}
