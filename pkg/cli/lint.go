package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/monciciness"
	"github.com/arpa-simc/monci/pkg/source"
)

// newLintCmd implements the host-side half of `monci lint` (spec.md §6,
// SPEC_FULL.md §3): upstream-version consistency across configure.ac,
// meson.build, CMakeLists.txt, NEWS.md and debian/changelog. The
// guest-side half (per spec.md §9 Open Question 3) is a normative
// no-op: nothing in this command enters a container.
func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <image> [source]",
		Short: "Check a source tree for common packaging mistakes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srcPath := "."
			if len(args) == 2 {
				srcPath = args[1]
			}

			found, err := source.FindVersions(ctx, srcPath, false)
			if err != nil {
				return &monciciness.LintFailure{Errors: true, Err: err}
			}
			disagree, detail := source.Disagreement(found)
			if disagree {
				fmt.Printf("warning: version disagreement: %s\n", detail)
				return &monciciness.LintFailure{Errors: false, Err: fmt.Errorf("version disagreement: %s", detail)}
			}
			fmt.Println("lint: no issues found")
			return nil
		},
	}
}
