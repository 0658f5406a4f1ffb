package source

import (
	"context"
	"fmt"
	"path/filepath"
)

// createRPMSource implements the ARPA RPM convention: a specfile lives
// either at fedora/SPECS/*.spec or at the repository root; exactly one
// must exist (spec.md §4.6 "ARPA RPM convention").
func createRPMSource(_ context.Context, local Source, style Style) (*DistroSource, error) {
	if style == "" {
		style = RPMArpa
	}
	if style != RPMArpa {
		return nil, fmt.Errorf("source: unsupported rpm style %q", style)
	}
	if local.Kind == KindFile {
		return &DistroSource{Local: local, Style: RPMArpa, Specfile: local.Path}, nil
	}

	specfile, err := findARPASpecfile(local.Path)
	if err != nil {
		return nil, err
	}
	return &DistroSource{Local: local, Style: RPMArpa, Specfile: specfile}, nil
}

// findARPASpecfile searches fedora/SPECS/*.spec then the repo root for
// exactly one specfile.
func findARPASpecfile(dir string) (string, error) {
	specs, err := filepath.Glob(filepath.Join(dir, "fedora", "SPECS", "*.spec"))
	if err != nil {
		return "", err
	}
	if len(specs) == 0 {
		specs, err = filepath.Glob(filepath.Join(dir, "*.spec"))
		if err != nil {
			return "", err
		}
	}
	switch len(specs) {
	case 0:
		return "", fmt.Errorf("source: no .spec file found under %s (fedora/SPECS/ or repo root)", dir)
	case 1:
		return specs[0], nil
	default:
		return "", fmt.Errorf("source: multiple .spec files found under %s: %v", dir, specs)
	}
}
