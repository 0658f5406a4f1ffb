// Package build implements the build pipeline (spec.md §4.7, C7): the
// per-build config, the builder-plugin container pipeline shared by every
// distro family, and the Debian/ARPA RPM build steps themselves.
//
// Grounded on the teacher's command-pipeline shape (pkg/commands/host.go,
// os.go: a single OSCommand boundary composing many small steps) and on
// pkg/container's scopedSteps LIFO pattern for the pipeline's own
// setup/teardown; the Debian/RPM build steps are new domain logic with no
// teacher analogue, written in the same "build a Script, hand it to a
// Container" idiom pkg/image's maintenance pipeline already established.
package build

import (
	"fmt"

	"dario.cat/mergo"
	yaml "github.com/jesseduffield/yaml"
)

// Class names a builder's build.yaml section, and therefore which
// section chain ParseConfig walks (SPEC_FULL.md §3): build.yaml keys are
// only honoured when they belong to the invoking class's own Go-struct-
// embedding inheritance chain, mirroring the original implementation's
// Python MRO walk over class-named YAML sections.
type Class string

const (
	ClassDebian Class = "debian"
	ClassRPM    Class = "rpm"
	ClassARPA   Class = "arpa"
)

// classChains enumerates each class's section-inheritance chain, root
// first: "build" is the common base every class inherits, "rpm" is ARPA's
// immediate parent.
var classChains = map[Class][]string{
	ClassDebian: {"build", "debian"},
	ClassRPM:    {"build", "rpm"},
	ClassARPA:   {"build", "rpm", "arpa"},
}

// Config is the per-build configuration assembled from build.yaml's
// class-chain sections (spec.md §4.7 BuildConfig).
type Config struct {
	ArtifactsDir string   `yaml:"artifacts_dir"`
	SourceOnly   bool     `yaml:"source_only"`
	Quick        bool     `yaml:"quick"`
	OnSuccess    []string `yaml:"on_success"`
	OnFail       []string `yaml:"on_fail"`
	OnEnd        []string `yaml:"on_end"`

	// BuildProfile is Debian-only: the raw DEB_BUILD_OPTIONS/PROFILES
	// keyword string, split by parseBuildProfile before use.
	BuildProfile string `yaml:"build_profile"`
	// IncludeSource is Debian-only: whether to pass -sa to
	// dpkg-buildpackage so the orig tarball is always included.
	IncludeSource bool `yaml:"include_source"`
}

// ParseConfig decodes raw (build.yaml's top-level sections, keyed by
// lowercased class name) into a Config for class, applying only the
// sections in its inheritance chain, root first so a leaf section
// overrides its ancestors.
func ParseConfig(raw map[string]map[string]any, class Class) (*Config, error) {
	chain, ok := classChains[class]
	if !ok {
		return nil, fmt.Errorf("build: unknown class %q", class)
	}
	cfg := &Config{}
	for _, section := range chain {
		node, ok := raw[section]
		if !ok {
			continue
		}
		data, err := yaml.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("build: re-marshal section %q: %w", section, err)
		}
		var partial Config
		if err := yaml.Unmarshal(data, &partial); err != nil {
			return nil, fmt.Errorf("build: decode section %q: %w", section, err)
		}
		if err := mergo.Merge(cfg, partial, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("build: merge section %q: %w", section, err)
		}
	}
	return cfg, nil
}
