package session

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/daemon"
	"github.com/sidkik/viewsync/pkg/errors"
)

// fakeAgent keeps sessions in memory, and records the commands it runs.
type fakeAgent struct {
	lock     sync.Mutex
	sessions map[string]listedSession
	commands []string
	options  map[string]agent.Options
	listErr  error

	// duplicates are listed after the sessions, even if their name is
	// already taken.
	duplicates []listedSession
}

func newFakeAgent(existing ...listedSession) *fakeAgent {
	f := &fakeAgent{
		sessions: map[string]listedSession{},
		options:  map[string]agent.Options{},
	}
	for _, s := range existing {
		f.sessions[s.Name] = s
	}
	return f
}

func existingSession(viewID, path, version, apiHost string) listedSession {
	s := listedSession{
		Name: Name(viewID),
		Labels: map[string]string{
			labelOwner:     "true",
			labelVersion:   version,
			labelAPIHost:   apiHost,
			labelAPIPrefix: "",
			labelViewID:    viewID,
		},
	}
	s.Alpha.Path = path
	return s
}

func (f *fakeAgent) Run(_ context.Context, opts agent.Options, args ...string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	cmd := strings.Join(args[:2], " ")
	switch cmd {
	case "sync create":
		var s listedSession
		s.Labels = map[string]string{}
		var positional []string
		for i := 2; i < len(args); i++ {
			switch args[i] {
			case "--name":
				i++
				s.Name = args[i]
			case "--label":
				i++
				kv := strings.SplitN(args[i], "=", 2)
				s.Labels[kv[0]] = kv[1]
			case "-c":
				i++
			default:
				if !strings.HasPrefix(args[i], "-") {
					positional = append(positional, args[i])
				}
			}
		}
		s.Alpha.Path = positional[0]
		f.sessions[s.Name] = s
		f.commands = append(f.commands, cmd+" "+s.Name)
		return nil
	case "sync pause", "sync resume", "sync terminate":
		name := args[2]
		f.commands = append(f.commands, cmd+" "+name)
		f.options[cmd+" "+name] = opts
		if _, ok := f.sessions[name]; !ok {
			return errors.CommandError{Command: args, ExitCode: 1}
		}
		if cmd == "sync terminate" {
			delete(f.sessions, name)
		}
		return nil
	}
	return errors.CommandError{Command: args, ExitCode: 1}
}

func (f *fakeAgent) Output(_ context.Context, args ...string) ([]byte, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var names []string
	for name := range f.sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	type wrapped struct {
		Session listedSession `json:"session"`
	}
	var out []wrapped
	for _, name := range names {
		out = append(out, wrapped{f.sessions[name]})
	}
	for _, s := range f.duplicates {
		out = append(out, wrapped{s})
	}
	return json.Marshal(out)
}

// commandsMatching returns the recorded commands that start with `prefix`.
func (f *fakeAgent) commandsMatching(prefix string) (matching []string) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, cmd := range f.commands {
		if strings.HasPrefix(cmd, prefix) {
			matching = append(matching, cmd)
		}
	}
	sort.Strings(matching)
	return matching
}

func (f *fakeAgent) resetCommands() {
	f.lock.Lock()
	f.commands = nil
	f.lock.Unlock()
}

type fakeEvents struct {
	lock      sync.Mutex
	listeners map[int]daemon.Listener
	nextID    int
}

func (e *fakeEvents) Subscribe(l daemon.Listener) func() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.listeners == nil {
		e.listeners = map[int]daemon.Listener{}
	}
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	return func() {
		e.lock.Lock()
		delete(e.listeners, id)
		e.lock.Unlock()
	}
}

func (e *fakeEvents) emit(event daemon.Event) {
	e.lock.Lock()
	var listeners []daemon.Listener
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.lock.Unlock()

	for _, l := range listeners {
		l(event)
	}
}

func (e *fakeEvents) count() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.listeners)
}

func newTestEnv(agent *fakeAgent) (Env, *fakeEvents) {
	events := &fakeEvents{}
	return Env{Agent: agent, Events: events, Log: logrus.New()}, events
}
