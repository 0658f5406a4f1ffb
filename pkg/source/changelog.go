package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SourceInfo is what spec.md §4.6 extracts from debian/changelog's first
// entry: the package name, its full version, the derived .dsc/tarball
// names, and whether it is "native" (no upstream/debian-revision split).
type SourceInfo struct {
	Name           string
	Version        string
	UpstreamVersion string
	Native         bool
	DscFilename    string
	TarballStem    string
}

var changelogHeaderRE = regexp.MustCompile(`^(\S+)\s+\(([^)]+)\)\s+(\S+)\s*;`)

// ParseChangelog reads the first stanza of debian/changelog under dir and
// derives a SourceInfo from it.
func ParseChangelog(dir string) (*SourceInfo, error) {
	path := filepath.Join(dir, "debian", "changelog")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		m := changelogHeaderRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return sourceInfoFromVersion(m[1], m[2]), nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("source: %s has no parseable changelog entry", path)
}

func sourceInfoFromVersion(name, version string) *SourceInfo {
	info := &SourceInfo{Name: name, Version: version}

	// A native package's version has no "-debian_revision" suffix and no
	// epoch split strips it either: the whole version string is the
	// upstream version. Non-native versions split on the last hyphen.
	upstream := version
	if epoch := strings.IndexByte(upstream, ':'); epoch >= 0 {
		upstream = upstream[epoch+1:]
	}
	if i := strings.LastIndexByte(upstream, '-'); i >= 0 {
		info.UpstreamVersion = upstream[:i]
		info.Native = false
	} else {
		info.UpstreamVersion = upstream
		info.Native = true
	}

	info.DscFilename = fmt.Sprintf("%s_%s.dsc", name, debianVersionNoEpoch(version))
	info.TarballStem = fmt.Sprintf("%s_%s", name, info.UpstreamVersion)
	return info
}

func debianVersionNoEpoch(version string) string {
	if i := strings.IndexByte(version, ':'); i >= 0 {
		return version[i+1:]
	}
	return version
}

// GBPInfo is what spec.md §4.6 extracts from debian/gbp.conf's [DEFAULT]
// section: the branch names git-buildpackage uses to separate upstream
// history from packaging history.
type GBPInfo struct {
	UpstreamBranch string
	DebianBranch   string
	UpstreamTag    string
}

// defaultGBPInfo matches gbp's own built-in defaults, used when gbp.conf
// is present but omits a key.
func defaultGBPInfo() *GBPInfo {
	return &GBPInfo{
		UpstreamBranch: "upstream",
		DebianBranch:   "master",
		UpstreamTag:    "upstream/%(version)s",
	}
}

// ParseGBPConf reads debian/gbp.conf's [DEFAULT] section under dir.
func ParseGBPConf(dir string) (*GBPInfo, error) {
	path := filepath.Join(dir, "debian", "gbp.conf")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	defer f.Close()

	info := defaultGBPInfo()
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			continue
		}
		if section != "" && section != "default" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "upstream-branch":
			info.UpstreamBranch = value
		case "debian-branch":
			info.DebianBranch = value
		case "upstream-tag":
			info.UpstreamTag = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

// HasGBPConf reports whether dir has a debian/gbp.conf file.
func HasGBPConf(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "debian", "gbp.conf"))
	return err == nil
}

// HasDebianDir reports whether dir has a debian/ subdirectory.
func HasDebianDir(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, "debian"))
	return err == nil && fi.IsDir()
}
