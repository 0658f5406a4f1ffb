// Package script builds POSIX shell scripts line by line and renders them
// for execution inside a container or on the host.
//
// The builder pattern is adapted from the teacher's OSCommand shell-string
// helpers (NewCommandStringWithShell, Quote): where the teacher quotes a
// single command for a single exec.Cmd, Script accumulates many commands
// with structure (indentation, cwd/user scoping, network isolation) and
// renders the whole thing as a `#!/bin/sh -ue` file.
package script

import (
	"fmt"
	"strings"

	"github.com/mgutz/str"
)

// Script is an ordered list of shell lines with metadata describing how it
// should be run.
type Script struct {
	Title string

	// Cwd, when set, is emitted as a leading `cd` before the script body.
	Cwd string

	// User, when set, documents which user the script expects to run as.
	// It does not itself change execution user -- that is the caller's
	// job (RunConfig.User) -- it is carried so callers and logs agree.
	User string

	// DisableNetwork causes the runner to execute this script in a
	// network namespace with only lo brought up.
	DisableNetwork bool

	// Debug enables `sh -uxe` tracing instead of `sh -ue`.
	Debug bool

	lines  []string
	indent int
}

// New creates an empty script with the given title.
func New(title string) *Script {
	return &Script{Title: title}
}

func (s *Script) pad() string {
	return strings.Repeat("    ", s.indent)
}

// Line appends a single raw shell line at the current indent level.
func (s *Script) Line(format string, args ...any) *Script {
	line := fmt.Sprintf(format, args...)
	s.lines = append(s.lines, s.pad()+line)
	return s
}

// Comment appends a `#`-prefixed comment line.
func (s *Script) Comment(format string, args ...any) *Script {
	return s.Line("# "+format, args...)
}

// Setenv appends an `export NAME=value` line, shell-quoting the value.
func (s *Script) Setenv(name, value string) *Script {
	return s.Line("export %s=%s", name, Quote(value))
}

// Run appends argv rendered as a command line, shell-quoting (Quote)
// only the words that are empty or contain characters outside
// [A-Za-z0-9@%+=:,./_-].
func (s *Script) Run(argv ...string) *Script {
	const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789@%+=:,./_-"
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a != "" && strings.Trim(a, safe) == "" {
			quoted[i] = a
		} else {
			quoted[i] = Quote(a)
		}
	}
	return s.Line("%s", strings.Join(quoted, " "))
}

// If opens an `if <cond>; then` block; call End to close it.
func (s *Script) If(cond string) *Script {
	s.Line("if %s; then", cond)
	s.indent++
	return s
}

// Else emits `else` at the enclosing indent and continues the block.
func (s *Script) Else() *Script {
	s.indent--
	s.Line("else")
	s.indent++
	return s
}

// For opens a `for var in items; do` block; call EndFor to close it.
func (s *Script) For(variable string, items ...string) *Script {
	s.Line("for %s in %s; do", variable, strings.Join(items, " "))
	s.indent++
	return s
}

// End closes the innermost If block with `fi`.
func (s *Script) End() *Script {
	s.indent--
	switch {
	case s.indent < 0:
		s.indent = 0
	}
	s.Line("fi")
	return s
}

// EndFor closes the innermost For block with `done`.
func (s *Script) EndFor() *Script {
	s.indent--
	if s.indent < 0 {
		s.indent = 0
	}
	s.Line("done")
	return s
}

// CD emits a `cd` into dir for the remainder of the script.
func (s *Script) CD(dir string) *Script {
	return s.Line("cd %s", Quote(dir))
}

// Fail emits `echo msg >&2; exit 1`.
func (s *Script) Fail(msg string) *Script {
	return s.Line("echo %s >&2; exit 1", Quote(msg))
}

// Lines returns the accumulated body lines, in order, without the shebang.
func (s *Script) Lines() []string {
	return append([]string(nil), s.lines...)
}

// Render produces the full script text, shebang included.
func (s *Script) Render() string {
	var b strings.Builder
	if s.Debug {
		b.WriteString("#!/bin/sh -uxe\n")
	} else {
		b.WriteString("#!/bin/sh -ue\n")
	}
	if s.Title != "" {
		fmt.Fprintf(&b, "# %s\n", s.Title)
	}
	if s.Cwd != "" {
		fmt.Fprintf(&b, "cd %s\n", Quote(s.Cwd))
	}
	for _, l := range s.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

// Argv splits a single already-rendered shell line back into its argv
// words, the reverse of Run, used by tests and logging that need to
// assert against a command's argv rather than its quoted text.
// Grounded on the teacher's pkg/commands/os.go, which uses
// github.com/mgutz/str's ToArgv for exactly this split when turning a
// user-provided command template back into exec.Command arguments.
func Argv(line string) []string {
	return str.ToArgv(line)
}

// Quote shell-quotes a single argument the POSIX way, adapted from the
// teacher's OSCommand.Quote (single-quote wrap, escaping embedded single
// quotes as '\'').
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
