// Package testmain is a shared test bootstrap offering a discard logger
// and a scratch image directory (no test in this module imports it),
// carried and adapted from the teacher's test/testmain (there a bare
// main package poking at a deadlocking channel to smoke-test gocui's
// recovery path; there is no gocui layer here, so this is rebuilt as a
// plain helper package instead).
package testmain

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/log"
)

// Logger returns a logrus.Entry that discards everything it logs.
func Logger() *logrus.Entry {
	return log.Discard()
}

// ImageDir returns a fresh scratch directory for a test's image
// repository, removed automatically when t ends.
func ImageDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}
