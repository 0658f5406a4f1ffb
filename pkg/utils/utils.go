// Package utils holds small string/formatting helpers shared across the
// CLI, carried from the teacher's pkg/utils/utils.go. Dropped: every
// gocui/color-attribute helper (GetGocuiAttribute, ColoredString,
// WithPadding, Decolorise, ...), since this is a plain CLI with no TUI
// to color; MarshalIntoYaml, since goccy/go-yaml is not part of this
// repo's YAML stack (pkg/config uses jesseduffield/yaml instead).
package utils

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
)

// SplitLines takes a multiline string and splits it on newlines,
// stripping \r's.
func SplitLines(multilineString string) []string {
	multilineString = strings.Replace(multilineString, "\r", "", -1)
	if multilineString == "" || multilineString == "\n" {
		return make([]string, 0)
	}
	lines := strings.Split(multilineString, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	return lines
}

// NormalizeLinefeeds removes all Windows and Mac style line feeds.
func NormalizeLinefeeds(str string) string {
	str = strings.Replace(str, "\r\n", "\n", -1)
	str = strings.Replace(str, "\r", "", -1)
	return str
}

// Max returns the maximum of two integers.
func Max(x, y int) int {
	if x > y {
		return x
	}
	return y
}

type multiErr []error

func (m multiErr) Error() string {
	var b bytes.Buffer
	b.WriteString("encountered multiple errors:")
	for _, err := range m {
		b.WriteString("\n\t... " + err.Error())
	}
	return b.String()
}

// CloseMany closes every closer, collecting every error rather than
// stopping at the first one (grounded on the teacher's container/volume
// cleanup loops, which must not leak a handle just because an earlier
// Close failed).
func CloseMany(closers []io.Closer) error {
	errs := make([]error, 0, len(closers))
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return multiErr(errs)
	}
	return nil
}

// SafeTruncate truncates str to limit bytes, or returns it unchanged if
// it is already shorter.
func SafeTruncate(str string, limit int) string {
	if len(str) > limit {
		return str[0:limit]
	}
	return str
}

// FormatBinaryBytes formats b using binary (1024-based) unit prefixes,
// for reporting btrfs dedup savings and image sizes.
func FormatBinaryBytes(b int64) string {
	n := float64(b)
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}
	for _, unit := range units {
		if n >= 1024 {
			n /= 1024
		} else {
			val := fmt.Sprintf("%.2f%s", n, unit)
			if val == "0.00B" {
				return "0B"
			}
			return val
		}
	}
	return "a lot"
}

// FormatMapItem formats one key/value pair for FormatMap.
func FormatMapItem(padding int, k string, v interface{}) string {
	return fmt.Sprintf("%s%s: %v\n", strings.Repeat(" ", padding), k, v)
}

// FormatMap renders a string-keyed map in sorted key order, one
// "key: value" line per entry (used for `monci image describe`'s
// installed-versions table).
func FormatMap(padding int, m map[string]string) string {
	if len(m) == 0 {
		return "none\n"
	}

	output := "\n"

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		output += FormatMapItem(padding, key, m[key])
	}

	return output
}
