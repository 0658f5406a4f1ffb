// Package cli builds the monci command tree (spec.md §6 "CLI surface")
// with github.com/spf13/cobra, the same verb-tree shape the rest of the
// pack's CLI tools (cmd/tsuku) use in place of the teacher's own
// gocui-driven TUI entrypoint -- lazydocker has no comparable command
// surface to adapt from directly, so the tree itself is grounded on
// cmd/tsuku's root command / PersistentFlags / RunE convention, wired
// here to this repository's own Session, config, build and source
// packages.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/config"
	"github.com/arpa-simc/monci/pkg/log"
	"github.com/arpa-simc/monci/pkg/monciciness"
	"github.com/arpa-simc/monci/pkg/session"
)

var (
	flagImageDir         string
	flagConfigPath       string
	flagExtraPackagesDir string
	flagVerbose          bool
	flagDebug            bool

	buildVersion = "unversioned"
	buildCommit  string
	buildDate    string
)

// SetBuildInfo records the ldflags-injected version metadata main.go
// resolves at startup (spec.md §7 "--debug"/log fields), the same
// version/commit/date triplet the teacher's main.go stamps into its
// config and log lines.
func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	buildCommit = commit
	buildDate = date
}

// Execute builds and runs the command tree, returning the process exit
// code spec.md §6 documents for the error (if any) RunE returned.
func Execute() int {
	root := newRootCmd()
	err := root.Execute()
	if err != nil && err.Error() != "" {
		if flagDebug {
			fmt.Fprintln(os.Stderr, monciciness.Stack(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return monciciness.ExitCode(err)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "monci",
		Short:         "Container-based distro-agnostic CI build orchestrator",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagImageDir, "imagedir", "I", "", "override the configured image directory")
	root.PersistentFlags().StringVarP(&flagConfigPath, "config", "C", "", "global config file path")
	root.PersistentFlags().StringVar(&flagExtraPackagesDir, "extra-packages-dir", "", "host directory of extra packages mirrored into every build")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging and full error stack traces")

	root.AddCommand(
		newImagesCmd(),
		newDistrosCmd(),
		newImageCmd(),
		newBootstrapCmd(),
		newUpdateCmd(),
		newRemoveCmd(),
		newDedupCmd(),
		newShellCmd(),
		newRunCmd(),
		newCICmd(),
		newLintCmd(),
		newQuerySourceCmd(),
	)
	return root
}

// newSession builds a Session from the current global flags, the shared
// entrypoint every command touching the image repository goes through
// (spec.md §4.8).
func newSession(ctx context.Context) (*session.Session, error) {
	global, err := config.LoadGlobal(flagConfigPath)
	if err != nil {
		return nil, monciciness.Fail("load config: %v", err)
	}
	logger := log.New(flagDebug, log.Fields{Version: buildVersion, Commit: buildCommit, BuildDate: buildDate})
	if flagVerbose {
		logger = logger.WithField("verbose", true)
	}
	opts := session.Options{
		ImageDir:         flagImageDir,
		ExtraPackagesDir: flagExtraPackagesDir,
		Privileged:       os.Geteuid() == 0,
	}
	s, err := session.New(ctx, global, opts, logger)
	if err != nil {
		return nil, monciciness.Fail("start session: %v", err)
	}
	return s, nil
}
