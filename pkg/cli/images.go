package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/distro"
)

func newImagesCmd() *cobra.Command {
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List every known image (catalog, configured, and materialised)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			names, err := s.Repository.ListImages()
			if err != nil {
				return err
			}
			sort.Strings(names)
			var rows [][]string
			for _, n := range names {
				rows = append(rows, []string{n})
			}
			printTable(asCSV, []string{"name"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "comma-separated output")
	return cmd
}

func newDistrosCmd() *cobra.Command {
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "distros",
		Short: "List supported distros",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := distro.NewCatalog()
			var rows [][]string
			for _, fam := range []distro.Family{
				distro.Debian, distro.Ubuntu, distro.Fedora,
				distro.Rocky, distro.AlmaLinux, distro.CentOS,
			} {
				for _, d := range cat.LookupFamily(string(fam)) {
					rows = append(rows, []string{d.FullName, string(d.Family), d.Version})
				}
			}
			printTable(asCSV, []string{"name", "family", "version"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "comma-separated output")
	return cmd
}
