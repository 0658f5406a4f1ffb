package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpa-simc/monci/pkg/build"
	"github.com/arpa-simc/monci/pkg/config"
	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/distro"
	"github.com/arpa-simc/monci/pkg/monciciness"
	"github.com/arpa-simc/monci/pkg/source"
)

// classFor maps a distro/style pair to the build.Class whose build.yaml
// section chain applies (spec.md §6 build YAML, SPEC_FULL.md §3).
func classFor(d *distro.Distro, style source.Style) build.Class {
	if style == source.RPMArpa {
		return build.ClassARPA
	}
	switch d.Family {
	case distro.Debian, distro.Ubuntu:
		return build.ClassDebian
	default:
		return build.ClassRPM
	}
}

// classifySource materialises srcPath as a local working copy and
// classifies it against d's packaging convention (spec.md §4.6).
func classifySource(ctx context.Context, srcPath string, d *distro.Distro) (*source.DistroSource, error) {
	local := source.NewDir(srcPath)
	if fi, err := os.Stat(srcPath); err == nil && !fi.IsDir() {
		local = source.NewFile(srcPath)
	}
	resolved, err := local.CreateLocal(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return source.CreateFromLocal(ctx, resolved, d, "")
}

func newCICmd() *cobra.Command {
	var artifactsDir, buildYAML string
	var overrides []string
	var sourceOnly, shell, linger, quick bool

	cmd := &cobra.Command{
		Use:   "ci <image> [source]",
		Short: "Build a source package inside an image (spec.md build pipeline)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			imageName := args[0]
			srcPath := "."
			if len(args) == 2 {
				srcPath = args[1]
			}

			img, err := s.Repository.Image(ctx, imageName)
			if err != nil {
				return err
			}
			d := img.EffectiveDistro()
			if d == nil {
				return monciciness.Fail("image %q has no known distro", imageName)
			}

			distroSrc, err := classifySource(ctx, srcPath, d)
			if err != nil {
				return err
			}

			cfg, err := config.LoadBuildConfig(buildYAML, classFor(d, distroSrc.Style))
			if err != nil {
				return err
			}
			applyCIOverrides(cfg, overrides)
			if artifactsDir != "" {
				cfg.ArtifactsDir = artifactsDir
			}
			if sourceOnly {
				cfg.SourceOnly = true
			}
			if quick {
				cfg.Quick = true
			}
			if linger {
				cfg.OnSuccess = append(cfg.OnSuccess, "@linger")
				cfg.OnFail = append(cfg.OnFail, "@linger")
			}
			if shell {
				cfg.OnSuccess = append(cfg.OnSuccess, "@shell")
				cfg.OnFail = append(cfg.OnFail, "@shell")
			}

			path, cleanup, err := img.Runnable.Probe(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			rt := container.NewNspawnRuntime(path, s.Log.WithField("image", imageName))

			results, err := build.Run(ctx, rt, d, distroSrc, cfg, imageName)
			if err != nil {
				return err
			}
			if !results.Success {
				return monciciness.Fail("build of %q failed", imageName)
			}
			for _, a := range results.Artifacts {
				fmt.Println(a)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&artifactsDir, "artifacts-dir", "a", "", "directory to collect build artifacts into")
	cmd.Flags().StringVarP(&buildYAML, "build-config", "B", "", "per-invocation build.yaml path")
	cmd.Flags().StringArrayVarP(&overrides, "option", "O", nil, "override a build.yaml key, key=value")
	cmd.Flags().BoolVar(&sourceOnly, "source-only", false, "only build the source package")
	cmd.Flags().BoolVar(&shell, "shell", false, "open a shell in the image after the build")
	cmd.Flags().BoolVar(&linger, "linger", false, "keep the build container alive for inspection")
	cmd.Flags().BoolVar(&quick, "quick", false, "skip expensive steps where the distro plugin supports it")
	return cmd
}

// applyCIOverrides applies -O key=value pairs onto the handful of
// build.Config fields the CLI exposes directly (spec.md §6 "-O
// key=value").
func applyCIOverrides(cfg *build.Config, overrides []string) {
	for _, kv := range overrides {
		key, value, ok := splitKV(kv)
		if !ok {
			continue
		}
		switch key {
		case "source_only":
			cfg.SourceOnly = value == "true"
		case "quick":
			cfg.Quick = value == "true"
		case "artifacts_dir":
			cfg.ArtifactsDir = value
		case "build_profile":
			cfg.BuildProfile = value
		case "include_source":
			cfg.IncludeSource = value == "true"
		}
	}
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func newQuerySourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query-source <image> [source]",
		Short: "Print a JSON description of a classified source",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			srcPath := "."
			if len(args) == 2 {
				srcPath = args[1]
			}
			img, err := s.Repository.Image(ctx, args[0])
			if err != nil {
				return err
			}
			d := img.EffectiveDistro()
			if d == nil {
				return monciciness.Fail("image %q has no known distro", args[0])
			}
			distroSrc, err := classifySource(ctx, srcPath, d)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(querySourceViewOf(distroSrc))
		},
	}
}

// querySourceView is query-source's JSON shape, following the original
// implementation's field set (SPEC_FULL.md §3): style, source kind,
// name, version, dsc filename for Debian, specfile path for RPM.
type querySourceView struct {
	Style       string `json:"style"`
	SourceKind  string `json:"source_kind"`
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	DscFilename string `json:"dsc_filename,omitempty"`
	Specfile    string `json:"specfile,omitempty"`
}

func querySourceViewOf(ds *source.DistroSource) querySourceView {
	v := querySourceView{
		Style:      string(ds.Style),
		SourceKind: string(ds.Local.Kind),
		Specfile:   ds.Specfile,
	}
	if ds.Info != nil {
		v.Name = ds.Info.Name
		v.Version = ds.Info.Version
		v.DscFilename = ds.Info.DscFilename
	}
	return v
}
