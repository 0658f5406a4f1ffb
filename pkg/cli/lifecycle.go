package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/monciciness"
	"github.com/arpa-simc/monci/pkg/session"
	"github.com/arpa-simc/monci/pkg/utils"
)

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func newBootstrapCmd() *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "bootstrap <images…>",
		Short: "Materialise one or more configured images from scratch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, name := range args {
				if recreate {
					if img, err := s.Repository.Image(ctx, name); err == nil && img.IsRunnable() {
						if err := img.Remove(ctx); err != nil {
							return &monciciness.BootstrapFailure{Err: fmt.Errorf("remove %q before recreate: %w", name, err)}
						}
					}
				}
				if _, err := s.Repository.Bootstrap(ctx, name); err != nil {
					return &monciciness.BootstrapFailure{Err: fmt.Errorf("bootstrap %q: %w", name, err)}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "remove and rebuild images that already exist")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [images…]",
		Short: "Re-run the maintenance pipeline on existing images (all of them if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			names := args
			if len(names) == 0 {
				names, err = s.Repository.ListImages()
				if err != nil {
					return err
				}
			}
			for _, name := range names {
				img, err := s.Repository.Image(ctx, name)
				if err != nil {
					return &monciciness.UpdateFailure{Err: err}
				}
				if !img.IsRunnable() {
					continue
				}
				if err := img.Update(ctx); err != nil {
					return &monciciness.UpdateFailure{Err: fmt.Errorf("update %q: %w", name, err)}
				}
			}
			return nil
		},
	}
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "remove <images…>",
		Short: "Remove one or more images' materialisation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, name := range args {
				img, err := s.Repository.Image(ctx, name)
				if err != nil {
					return err
				}
				if !img.IsRunnable() {
					continue
				}
				if err := img.Remove(ctx); err != nil {
					return err
				}
			}
			if purge {
				_ = purgeConfiguredImages(s, args)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the images' per-image config files")
	return cmd
}

func purgeConfiguredImages(s *session.Session, names []string) error {
	for _, name := range names {
		path, err := imageConfigPath(name)
		if err != nil {
			return err
		}
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

func newDedupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedup",
		Short: "Deduplicate shared blocks across images (btrfs store only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var totalSaved int64
			for _, st := range s.Repository.Stores {
				stats, err := st.Deduplicate(ctx)
				if err != nil {
					return err
				}
				totalSaved += stats.BytesSaved
			}
			fmt.Printf("deduplication saved %s\n", utils.FormatBinaryBytes(totalSaved))
			return nil
		},
	}
}
