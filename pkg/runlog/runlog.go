// Package runlog implements a deterministic, appendable record of every
// command, script, and action issued by the core, used by the mock
// session (pkg/session) to support property/regression testing without
// real containers.
//
// Grounded on the teacher's runtime_mock.go: MockRuntime there records
// and replays per-method function overrides for a fixed interface.
// RunLog generalizes that one step further into an ordered, poppable
// event list, because this spec's C11 needs to assert *sequences* of
// heterogeneous events (commands, scripts, actions, callables, forwarded
// users) rather than stub out a fixed set of RPC methods.
package runlog

import (
	"fmt"
	"regexp"
	"sync"
)

// EventKind discriminates the shape of a logged event.
type EventKind int

const (
	EventCommand EventKind = iota
	EventAction
	EventScript
	EventCallable
	EventForwardUser
	EventCachedirTag
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventAction:
		return "action"
	case EventScript:
		return "script"
	case EventCallable:
		return "callable"
	case EventForwardUser:
		return "forward-user"
	case EventCachedirTag:
		return "cachedir-tag"
	default:
		return "unknown"
	}
}

// Event is one recorded step.
type Event struct {
	Kind   EventKind
	Argv   []string          // EventCommand
	Kwargs map[string]string // EventCommand: cwd, user, etc, stringified
	Title  string            // EventAction / EventScript title
	Lines  []string          // EventScript body lines
	Name   string            // EventCallable (function name) / EventForwardUser (user name)
}

// String renders an Event the way assertions compare against it:
// "run: [argv]" for commands, the bare title for actions, "script: ",
// "callable: " or "forward-user: " plus title/name, and "cachedir-tag".
func (e Event) String() string {
	switch e.Kind {
	case EventCommand:
		return fmt.Sprintf("run: %v", e.Argv)
	case EventAction:
		return e.Title
	case EventScript:
		return fmt.Sprintf("script: %s", e.Title)
	case EventCallable:
		return fmt.Sprintf("callable: %s", e.Name)
	case EventForwardUser:
		return fmt.Sprintf("forward-user: %s", e.Name)
	case EventCachedirTag:
		return "cachedir-tag"
	}
	return "?"
}

// RunLog is a FIFO queue of Events, safe for concurrent appends.
type RunLog struct {
	mu     sync.Mutex
	events []Event
}

// New creates an empty RunLog.
func New() *RunLog { return &RunLog{} }

// Append records a command invocation.
func (l *RunLog) Append(argv []string, kwargs map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: EventCommand, Argv: argv, Kwargs: kwargs})
}

// AppendAction records a state-transition label, e.g. "test: bootstrap".
func (l *RunLog) AppendAction(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: EventAction, Title: title})
}

// AppendScript records a rendered script by title and body lines.
func (l *RunLog) AppendScript(title string, lines []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: EventScript, Title: title, Lines: lines})
}

// AppendCallable records that a named callable was run inside the container.
func (l *RunLog) AppendCallable(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: EventCallable, Name: name})
}

// AppendForwardUser records a forwarded user.
func (l *RunLog) AppendForwardUser(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: EventForwardUser, Name: name})
}

// AppendCachedirTag records a CACHEDIR.TAG write.
func (l *RunLog) AppendCachedirTag() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Kind: EventCachedirTag})
}

// Len reports how many events remain in the log.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a snapshot of all remaining events, for debugging
// failed assertions.
func (l *RunLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// PopFirstExact asserts the first remaining event's string form equals
// want exactly, then removes it.
func (l *RunLog) PopFirstExact(want string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return fmt.Errorf("runlog: expected %q, log is empty", want)
	}
	got := l.events[0].String()
	if got != want {
		return fmt.Errorf("runlog: expected %q, got %q", want, got)
	}
	l.events = l.events[1:]
	return nil
}

// PopFirstOptional removes the first event if it matches want exactly;
// otherwise it is a no-op (used for events that may or may not occur,
// e.g. an optional keyring download).
func (l *RunLog) PopFirstOptional(want string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return false
	}
	if l.events[0].String() != want {
		return false
	}
	l.events = l.events[1:]
	return true
}

// PopFirstRegex asserts the first remaining event's string form matches
// pattern, then removes it.
func (l *RunLog) PopFirstRegex(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("runlog: bad pattern %q: %w", pattern, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return fmt.Errorf("runlog: expected match for %q, log is empty", pattern)
	}
	got := l.events[0].String()
	if !re.MatchString(got) {
		return fmt.Errorf("runlog: expected match for %q, got %q", pattern, got)
	}
	l.events = l.events[1:]
	return nil
}

// AssertEmpty returns an error describing any events left unconsumed.
func (l *RunLog) AssertEmpty() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) != 0 {
		return fmt.Errorf("runlog: %d unconsumed event(s), first: %s", len(l.events), l.events[0].String())
	}
	return nil
}
