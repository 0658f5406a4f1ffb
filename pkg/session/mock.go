package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arpa-simc/monci/pkg/container"
	"github.com/arpa-simc/monci/pkg/log"
	"github.com/arpa-simc/monci/pkg/runlog"
)

// MockSession is the Session test double spec.md §4.8 describes: every
// command, script, callable, and forwarded user is recorded into a
// RunLog, and queued CompletedProcess results are replayed by regex
// match against the command's argv instead of any real exec happening.
//
// Grounded on the teacher's runtime_mock.go per-method override fields,
// generalized (as pkg/container/mock.go already generalizes Runtime
// itself) into a regex-keyed reply queue so tests can script "the third
// apt-get call fails" without hand-writing a stateful RunFunc closure
// each time.
type MockSession struct {
	Log     *runlog.RunLog
	Runtime *container.MockRuntime

	replies []reply
}

type reply struct {
	pattern *regexp.Regexp
	result  container.Completed
	err     error
}

// NewMockSession builds a MockSession sharing one RunLog between its
// MockRuntime and the forwarded-user/action recording a Session's own
// callers do directly.
func NewMockSession() *MockSession {
	rt := container.NewMockRuntime()
	m := &MockSession{Log: rt.Log, Runtime: rt}
	rt.ContainerFunc = m.newContainer
	rt.MaintenanceContainerFunc = m.newContainer
	return m
}

func (m *MockSession) newContainer(ctx context.Context, cfg container.Config) (container.Container, error) {
	c := &container.MockContainer{Cfg: cfg, Log: m.Log}
	c.RunFunc = func(ctx context.Context, argv []string, rc container.RunConfig) (container.Completed, error) {
		return m.reply(argv)
	}
	return c, nil
}

// QueueReply registers a canned result for the next Run call whose argv
// (joined with spaces) matches pattern; replies are consumed in FIFO
// order among those that match. Matching calls that have no queued
// reply return a zero Completed and no error.
func (m *MockSession) QueueReply(pattern string, result container.Completed, err error) error {
	re, rerr := regexp.Compile(pattern)
	if rerr != nil {
		return fmt.Errorf("session: bad reply pattern %q: %w", pattern, rerr)
	}
	m.replies = append(m.replies, reply{pattern: re, result: result, err: err})
	return nil
}

func (m *MockSession) reply(argv []string) (container.Completed, error) {
	joined := strings.Join(argv, " ")
	for i, r := range m.replies {
		if r.pattern.MatchString(joined) {
			m.replies = append(m.replies[:i], m.replies[i+1:]...)
			return r.result, r.err
		}
	}
	return container.Completed{}, nil
}

// ForwardUser records a forwarded user the way a real Session's
// container-start path would (spec.md §4.11 appendForwardUser).
func (m *MockSession) ForwardUser(name string) { m.Log.AppendForwardUser(name) }

// Discard returns a logger a MockSession's own callers can pass to
// other constructors without pulling in a real Session, matching
// pkg/log's Discard used throughout the teacher's own test harness.
func (m *MockSession) Discard() *logrus.Entry { return log.Discard() }
