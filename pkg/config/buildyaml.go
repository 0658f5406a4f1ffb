package config

import (
	"fmt"
	"os"

	yaml "github.com/jesseduffield/yaml"

	"github.com/arpa-simc/monci/pkg/build"
)

// LoadBuildConfig reads a build.yaml file (spec.md §6 "Build YAML") and
// decodes it into a build.Config for class, applying only the sections
// in class's inheritance chain via build.ParseConfig. path may be empty,
// in which case class's defaults apply (an all-zero Config).
func LoadBuildConfig(path string, class build.Class) (*build.Config, error) {
	if path == "" {
		return build.ParseConfig(nil, class)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return build.ParseConfig(raw, class)
}
