// Package log builds the process-wide *logrus.Entry every other package
// threads through constructors, and the per-build log hook that mirrors
// build events into an artifacts-directory text file.
//
// Grounded on the teacher's pkg/log/log.go NewLogger: a logrus.Entry
// carrying static fields (version, commit, buildDate), JSON-formatted,
// with a debug/production level split. Dropped: the teacher's
// development.log file tail, which only served its TUI "view logs"
// panel; this CLI has no such panel and logs to stderr instead.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields are the static fields stamped onto every log line.
type Fields struct {
	Version   string
	Commit    string
	BuildDate string
}

// New builds the root logger. debug selects DebugLevel on stderr;
// otherwise InfoLevel on stderr. JSON formatting matches the teacher's
// choice of logrus.JSONFormatter for machine-parseable output.
func New(debug bool, f Fields) *logrus.Entry {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.JSONFormatter{}
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l.WithFields(logrus.Fields{
		"version":   f.Version,
		"commit":    f.Commit,
		"buildDate": f.BuildDate,
	})
}

// Discard builds a logger that drops everything, for tests and the
// mock session (grounded on the teacher's newProductionLogger
// io.Discard pattern).
func Discard() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

// BuildLogHook is a logrus.Hook writing one line per event, rendered by
// the logger's own formatter (JSON for loggers built by New), to
// <artifactsDir>/<name>.buildlog (spec.md §7 "every event into
// <artifactsDir>/<name>.buildlog"), the extension point the teacher
// reserves for its own rollrusHook.
type BuildLogHook struct {
	f *os.File
}

// NewBuildLogHook opens (creating/truncating) artifactsDir/name.buildlog.
func NewBuildLogHook(artifactsDir, name string) (*BuildLogHook, error) {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(artifactsDir+"/"+name+".buildlog", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &BuildLogHook{f: f}, nil
}

func (h *BuildLogHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *BuildLogHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		_, werr := fmt.Fprintf(h.f, "%s %s\n", e.Level, e.Message)
		return werr
	}
	_, werr := io.WriteString(h.f, line)
	return werr
}

// Close closes the underlying file.
func (h *BuildLogHook) Close() error { return h.f.Close() }
