package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// FoundVersion is one (method, value) pair lint reports when several
// version sources disagree (spec.md §4.6 "version finding").
type FoundVersion struct {
	Method  string
	Version string
}

var (
	autoconfInitRE = regexp.MustCompile(`AC_INIT\(\s*\[?[^,]+\]?\s*,\s*\[?([^,\])]+)\]?`)
	mesonVersionRE = regexp.MustCompile(`version\s*:\s*'([^']+)'`)
	cmakeVersionRE = regexp.MustCompile(`set\s*\(\s*PACKAGE_VERSION\s+"?([^")\s]+)"?\s*\)`)
	newsVersionRE  = regexp.MustCompile(`(?i)^#\s*New in version\s+(\S+)`)
)

// FindVersions probes every recognised build-system/metadata file under
// dir and returns every version it could extract, plus the debian
// changelog's upstream/release pair when present. allowExec gates the
// optional `setup.py --version` invocation, which actually runs
// arbitrary project code.
func FindVersions(ctx context.Context, dir string, allowExec bool) ([]FoundVersion, error) {
	var found []FoundVersion

	if v, ok := grepFirstSubmatch(filepath.Join(dir, "configure.ac"), autoconfInitRE); ok {
		found = append(found, FoundVersion{"configure.ac", v})
	}
	if v, ok := grepFirstSubmatch(filepath.Join(dir, "meson.build"), mesonVersionRE); ok {
		found = append(found, FoundVersion{"meson.build", v})
	}
	if v, ok := grepFirstSubmatch(filepath.Join(dir, "CMakeLists.txt"), cmakeVersionRE); ok {
		found = append(found, FoundVersion{"CMakeLists.txt", v})
	}
	if v, ok := newsVersion(filepath.Join(dir, "NEWS.md")); ok {
		found = append(found, FoundVersion{"NEWS.md", v})
	}
	if allowExec {
		if v, ok := setupPyVersion(ctx, dir); ok {
			found = append(found, FoundVersion{"setup.py --version", v})
		}
	}
	if info, err := ParseChangelog(dir); err == nil {
		found = append(found, FoundVersion{"debian-upstream", info.UpstreamVersion})
		found = append(found, FoundVersion{"debian-release", info.Version})
	}
	if v, ok := tagVersion(ctx, dir); ok {
		found = append(found, FoundVersion{"git-tag", v})
	}

	return found, nil
}

func grepFirstSubmatch(path string, re *regexp.Regexp) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	m := re.FindSubmatch(data)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(string(m[1])), true
}

func newsVersion(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := newsVersionRE.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// setupPyVersion runs `python3 setup.py --version` under dir, if a
// setup.py is present. It is the only version-finding method that
// executes project-controlled code, hence the allowExec gate.
func setupPyVersion(ctx context.Context, dir string) (string, bool) {
	if _, err := os.Stat(filepath.Join(dir, "setup.py")); err != nil {
		return "", false
	}
	cmd := exec.CommandContext(ctx, "python3", "setup.py", "--version")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", false
	}
	return v, true
}

// tagVersion derives a version from the nearest reachable git tag, the
// conventional `v1.2.3` or `1.2.3` stripped of its leading `v`.
func tagVersion(ctx context.Context, dir string) (string, bool) {
	out, err := gitOutput(ctx, dir, "describe", "--tags", "--abbrev=0")
	if err != nil || out == "" {
		return "", false
	}
	return strings.TrimPrefix(out, "v"), true
}

// Disagreement reports whether found contains more than one distinct
// version value, the condition lint's version check warns on.
func Disagreement(found []FoundVersion) (bool, string) {
	seen := map[string]bool{}
	for _, f := range found {
		seen[f.Version] = true
	}
	if len(seen) <= 1 {
		return false, ""
	}
	var parts []string
	for _, f := range found {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Method, f.Version))
	}
	return true, strings.Join(parts, ", ")
}
