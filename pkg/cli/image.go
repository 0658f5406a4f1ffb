package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	yaml "github.com/jesseduffield/yaml"
	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/config"
	"github.com/arpa-simc/monci/pkg/image"
	"github.com/arpa-simc/monci/pkg/monciciness"
	"github.com/arpa-simc/monci/pkg/utils"
)

// newImageCmd builds the `monci image <name> <verb> …` tree (spec.md
// §6): every verb but cat/describe/build-dep edits the per-image config
// file living in the first entry of imageconfdirs.
func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image <name>",
		Short: "Inspect or edit one image's configuration",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// `image <name> <verb> …`: run the verb's subcommand with the
			// image name as its first argument.
			sub, _, err := cmd.Find([]string{args[1]})
			if err != nil || sub == cmd {
				return monciciness.Fail("image: unknown verb %q", args[1])
			}
			subArgs := append([]string{args[0]}, args[2:]...)
			if err := sub.ValidateArgs(subArgs); err != nil {
				return err
			}
			sub.SetContext(cmd.Context())
			return sub.RunE(sub, subArgs)
		},
	}
	cmd.AddCommand(
		newImageDistroCmd(),
		newImageExtendsCmd(),
		newImageSetupCmd(),
		newImageInstallCmd(),
		newImageBuildDepCmd(),
		newImageEditCmd(),
		newImageCatCmd(),
		newImageDescribeCmd(),
	)
	return cmd
}

// imageConfigPath resolves the per-image YAML path this verb writes to,
// creating imageconfdirs[0] on demand (spec.md §6 imageconfdirs).
func imageConfigPath(name string) (string, error) {
	global, err := config.LoadGlobal(flagConfigPath)
	if err != nil {
		return "", monciciness.Fail("load config: %v", err)
	}
	if len(global.ImageConfDirs) == 0 {
		return "", monciciness.Fail("no imageconfdirs configured; set imageconfdirs in the global config")
	}
	dir := global.ImageConfDirs[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".yaml"), nil
}

func loadOrNewImageConfig(path string) (*config.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config.Image{}, nil
		}
		return nil, err
	}
	var img config.Image
	if err := yaml.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: parse %s: %w", path, err)
	}
	return &img, nil
}

func saveImageConfig(path string, img *config.Image) error {
	data, err := yaml.Marshal(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func editImageConfig(name string, mutate func(*config.Image) error) error {
	path, err := imageConfigPath(name)
	if err != nil {
		return err
	}
	img, err := loadOrNewImageConfig(path)
	if err != nil {
		return err
	}
	if err := mutate(img); err != nil {
		return err
	}
	return saveImageConfig(path, img)
}

func newImageDistroCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distro <name> <distro>",
		Short: "Set an image's source distro, clearing extends",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editImageConfig(args[0], func(img *config.Image) error {
				img.Distro = args[1]
				img.Extends = ""
				return nil
			})
		},
	}
}

func newImageExtendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extends <name> <parent>",
		Short: "Set an image's parent image, clearing distro",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editImageConfig(args[0], func(img *config.Image) error {
				img.Extends = args[1]
				img.Distro = ""
				return nil
			})
		},
	}
}

func newImageSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <name> <cmd…>",
		Short: "Append a maintenance-script command to an image",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(args[1:], " ")
			return editImageConfig(args[0], func(img *config.Image) error {
				if img.Maintscript == "" {
					img.Maintscript = line
				} else {
					img.Maintscript += "\n" + line
				}
				return nil
			})
		},
	}
}

func newImageInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <name> <pkgs…>",
		Short: "Append packages to an image's install list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editImageConfig(args[0], func(img *config.Image) error {
				img.Packages = append(img.Packages, args[1:]...)
				return nil
			})
		},
	}
}

func newImageBuildDepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build-dep <name> [source]",
		Short: "Print the build-dependency install command for an image's distro",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			img, err := s.Repository.Image(ctx, args[0])
			if err != nil {
				return err
			}
			d := img.EffectiveDistro()
			if d == nil {
				return monciciness.Fail("image %q has no known distro", args[0])
			}
			srcPath := "."
			if len(args) == 2 {
				srcPath = args[1]
			}
			fmt.Println(strings.Join(d.BuildDepCommand(srcPath), " "))
			return nil
		},
	}
}

func newImageEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <name>",
		Short: "Open an image's config file in $EDITOR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := imageConfigPath(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if _, err := loadOrNewImageConfig(path); err != nil {
					return err
				}
				if err := saveImageConfig(path, &config.Image{}); err != nil {
					return err
				}
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			c := exec.CommandContext(cmd.Context(), editor, path)
			c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
			return c.Run()
		},
	}
}

func newImageCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <name>",
		Short: "Print an image's config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := imageConfigPath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func newImageDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <name>",
		Short: "Print an image's extends chain, packages and installed versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			img, err := s.Repository.Image(ctx, args[0])
			if err != nil {
				return err
			}
			desc, err := img.Describe(ctx)
			if err != nil {
				return err
			}
			printDescription(desc)
			return nil
		},
	}
}

func printDescription(d *image.Description) {
	fmt.Printf("image: %s\n", d.Name)
	if len(d.Chain) > 0 {
		fmt.Println("chain:")
		for _, e := range d.Chain {
			fmt.Printf("  %s (%s)\n", e.Name, e.Distro)
		}
	}
	if len(d.Forward) > 0 {
		fmt.Printf("forward users: %s\n", strings.Join(d.Forward, ", "))
	}
	if len(d.Packages) > 0 {
		fmt.Printf("packages: %s\n", strings.Join(d.Packages, ", "))
	}
	if len(d.Versions) > 0 {
		fmt.Print("versions:", utils.FormatMap(2, d.Versions))
	}
}
