// Package config implements monci's two-file YAML configuration model
// (spec.md §6): a single global config file and one per-image config
// file per entry of imageconfdirs.
//
// Grounded on the teacher's pkg/config/app_config.go + user_config.go:
// a DefaultAppConfig() merged with a user-authored partial via mergo,
// decoded with the teacher's own go-yaml fork
// (github.com/jesseduffield/yaml). Unknown keys are ignored: they are
// not treated as an error, and no warning is printed for them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/OpenPeeDeeP/xdg"
	yaml "github.com/jesseduffield/yaml"
)

// Global is the process-wide config file (spec.md §6 "Global config
// file").
type Global struct {
	ImageDir          string   `yaml:"imagedir"`
	ImageConfDirs     []string `yaml:"imageconfdirs"`
	DebCacheDir       string   `yaml:"deb_cache_dir"`
	ExtraPackagesDir  string   `yaml:"extra_packages_dir"`
	Tmpfs             bool     `yaml:"tmpfs"`
	Compression       string   `yaml:"compression"`
	AutoSudo          bool     `yaml:"auto_sudo"`
	BuildArtifactsDir string   `yaml:"build_artifacts_dir"`
}

// DefaultGlobal returns the baseline config every global config file is
// merged onto, matching the teacher's GetDefaultConfig() pattern.
func DefaultGlobal() *Global {
	return &Global{
		ImageDir:    "/var/lib/machines",
		Compression: "zstd",
	}
}

// xdgApp names this application for xdg's config-dir resolution, the
// same role the teacher passes when constructing its own xdg.Paths.
const xdgApp = "monci"

// SearchPath returns the global-config search path: just the explicit
// path when one is given; otherwise $XDG_CONFIG_HOME/monci/config.yaml
// (or platform equivalent), then /etc/monci/config.yaml, in that order
// (spec.md §6 "first found of standard search path").
func SearchPath(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	paths := xdg.New("", xdgApp)
	return []string{
		filepath.Join(paths.ConfigHome(), "config.yaml"),
		"/etc/monci/config.yaml",
	}
}

// LoadGlobal reads the first readable file in SearchPath(explicit) and
// merges it over DefaultGlobal(). A wholly absent config file is not an
// error: the defaults stand alone.
func LoadGlobal(explicit string) (*Global, error) {
	cfg := DefaultGlobal()
	for _, path := range SearchPath(explicit) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var partial Global
		if err := yaml.Unmarshal(data, &partial); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, partial, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", path, err)
		}
		return cfg, nil
	}
	return cfg, nil
}

// Image is one per-image config file (spec.md §6 "Image config file"):
// distro XOR extends name the image's provenance, the rest describe its
// maintenance pipeline.
type Image struct {
	Distro      string   `yaml:"distro"`
	Extends     string   `yaml:"extends"`
	Packages    []string `yaml:"packages"`
	Maintscript string   `yaml:"maintscript"`
	ForwardUser any      `yaml:"forward_user"` // string or []string, spec.md §6
	Backup      bool     `yaml:"backup"`
	Compression string   `yaml:"compression"`
	Tmpfs       bool     `yaml:"tmpfs"`
}

// Validate enforces the distro-XOR-extends invariant.
func (i *Image) Validate(name string) error {
	if (i.Distro == "") == (i.Extends == "") {
		return fmt.Errorf("config: image %q must set exactly one of distro/extends", name)
	}
	return nil
}

// ForwardUsers normalizes ForwardUser to a string slice, accepting
// either a bare string or a list, as spec.md §6 allows.
func (i *Image) ForwardUsers() ([]string, error) {
	switch v := i.ForwardUser.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("config: forward_user entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config: forward_user must be a string or a list of strings")
	}
}

// LoadImages reads every *.yaml file directly under each of dirs,
// keyed by basename without extension, later directories overriding
// earlier ones on name collision (spec.md §6's imageconfdirs list,
// applied in order).
func LoadImages(dirs []string) (map[string]*Image, error) {
	out := map[string]*Image{}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
				continue
			}
			name := e.Name()[:len(e.Name())-len(".yaml")]
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			var img Image
			if err := yaml.Unmarshal(data, &img); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", e.Name(), err)
			}
			if err := img.Validate(name); err != nil {
				return nil, err
			}
			out[name] = &img
		}
	}
	return out, nil
}
