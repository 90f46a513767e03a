// Package session manages the agent's sync sessions: one per view, binding a
// local directory to the view's directory on the sync host.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/daemon"
	"github.com/sidkik/viewsync/pkg/errors"
)

// SessionVersion is stored in a label of every session. Sessions created with
// a different version are recreated rather than resumed, which is how changes
// to the session configuration are rolled out.
const SessionVersion = 3

const (
	namePrefix = "view-"

	labelOwner     = "viewsync"
	labelVersion   = "sessionVersion"
	labelAPIProto  = "apiProto"
	labelAPIHost   = "apiHost"
	labelAPIPort   = "apiPort"
	labelAPIPrefix = "apiPrefix"
	labelViewID    = "viewID"

	pauseTimeout = 10 * time.Second
)

// Agent runs agent commands.
type Agent interface {
	Run(ctx context.Context, opts agent.Options, args ...string) error
	Output(ctx context.Context, args ...string) ([]byte, error)
}

// Events is the source of session state transitions.
type Events interface {
	Subscribe(daemon.Listener) (unsubscribe func())
}

// Env holds the collaborators shared by all sessions.
type Env struct {
	Agent  Agent
	Events Events
	Log    logrus.FieldLogger
}

// Session is a handle on a session in the agent. Its state follows the
// transitions reported by the daemon.
type Session struct {
	Name   string
	ViewID string
	Path   string

	version string
	env     Env
	log     logrus.FieldLogger

	lock        sync.Mutex
	state       daemon.SessionState
	unsubscribe func()
}

// Name returns the name of the session for the view.
func Name(viewID string) string {
	return namePrefix + viewID
}

func newSession(env Env, viewID, path, version string) *Session {
	s := &Session{
		Name:    Name(viewID),
		ViewID:  viewID,
		Path:    path,
		version: version,
		env:     env,
		log:     env.Log.WithField("session", Name(viewID)),
		state:   daemon.Unknown,
	}
	s.subscribe()
	return s
}

// Definition is everything needed to create a session.
type Definition struct {
	ViewID     string
	LocalPath  string
	ConfigPath string
	UserID     string
	CodebaseID string

	APIURL   *url.URL
	SyncHost *url.URL
}

func (def Definition) remote() string {
	return fmt.Sprintf("%s@%s:/repos/%s/%s/", def.UserID, def.SyncHost.Host, def.CodebaseID, def.ViewID)
}

func labels(apiURL *url.URL, viewID string) []string {
	values := [][2]string{
		{labelOwner, "true"},
		{labelVersion, strconv.Itoa(SessionVersion)},
		{labelAPIProto, apiURL.Scheme},
		{labelAPIHost, apiURL.Hostname()},
		{labelAPIPort, apiURL.Port()},
		{labelAPIPrefix, strings.Trim(apiURL.Path, "/")},
		{labelViewID, viewID},
	}

	var args []string
	for _, kv := range values {
		args = append(args, "--label", kv[0]+"="+kv[1])
	}
	return args
}

// Create creates a new session in the agent.
func Create(ctx context.Context, env Env, def Definition) (*Session, error) {
	args := []string{
		"sync", "create",
		"--no-global-configuration",
		"-c", def.ConfigPath,
		"--name", Name(def.ViewID),
	}
	args = append(args, labels(def.APIURL, def.ViewID)...)
	args = append(args, "--stage-mode-beta=neighboring", def.LocalPath, def.remote())

	// Subscribe before creating so that transitions that happen while the
	// create command runs aren't missed.
	s := newSession(env, def.ViewID, def.LocalPath, strconv.Itoa(SessionVersion))
	s.log.Info("Creating session")
	if err := env.Agent.Run(ctx, agent.Options{}, args...); err != nil {
		s.Close()
		return nil, errors.WithContext(err, "create session")
	}
	return s, nil
}

// Filter selects the sessions returned by List.
type Filter struct {
	// APIHost is the hostname of the API server the sessions were created
	// for.
	APIHost string
}

type listedSession struct {
	Name  string `json:"name"`
	Alpha struct {
		Path string `json:"path"`
	} `json:"alpha"`
	Labels map[string]string `json:"labels"`
}

// List returns the sessions in the agent that were created by viewsync for
// the API server in `filter`.
func List(ctx context.Context, env Env, filter Filter) ([]*Session, error) {
	out, err := env.Agent.Output(ctx, "sync", "list", "--json")
	if err != nil {
		return nil, errors.WithContext(err, "list sessions")
	}

	listed, err := parseList(out)
	if err != nil {
		return nil, errors.WithContext(err, "parse session list")
	}

	var sessions []*Session
	for _, l := range listed {
		if l.Labels[labelOwner] != "true" || l.Labels[labelAPIHost] != filter.APIHost {
			continue
		}
		if !strings.HasPrefix(l.Name, namePrefix) {
			continue
		}

		viewID := strings.TrimPrefix(l.Name, namePrefix)
		sessions = append(sessions, newSession(env, viewID, l.Alpha.Path, l.Labels[labelVersion]))
	}
	return sessions, nil
}

// parseList parses the output of `sync list --json`. The agent may print
// warnings before the JSON, and prints `null` when there are no sessions.
// Entries are either the session itself, or wrapped in a "session" field.
func parseList(out []byte) ([]listedSession, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 || bytes.HasSuffix(out, []byte("null")) {
		return nil, nil
	}

	entries, err := findJSONArray(out)
	if err != nil {
		return nil, err
	}

	var sessions []listedSession
	for _, entry := range entries {
		var wrapped struct {
			Session *listedSession `json:"session"`
		}
		if err := json.Unmarshal(entry, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Session != nil {
			sessions = append(sessions, *wrapped.Session)
			continue
		}

		var flat listedSession
		if err := json.Unmarshal(entry, &flat); err != nil {
			return nil, err
		}
		sessions = append(sessions, flat)
	}
	return sessions, nil
}

// findJSONArray decodes the first suffix of `out` that starts with '[' and is
// a valid JSON array. Warnings such as "[warn] ..." also start with '['.
func findJSONArray(out []byte) ([]json.RawMessage, error) {
	err := errors.New("no JSON array in output")
	for i := 0; i < len(out); i++ {
		if out[i] != '[' {
			continue
		}

		var entries []json.RawMessage
		if err = json.Unmarshal(out[i:], &entries); err == nil {
			return entries, nil
		}
	}
	return nil, err
}

func (s *Session) subscribe() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.unsubscribe == nil {
		s.unsubscribe = s.env.Events.Subscribe(s.onEvent)
	}
}

// Close stops tracking state transitions. It's safe to call more than once.
func (s *Session) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Session) onEvent(event daemon.Event) {
	if event.Kind != daemon.SessionStateChanged || event.Session != s.Name {
		return
	}

	s.lock.Lock()
	s.state = event.To
	s.lock.Unlock()
	s.log.WithField("from", event.From).WithField("to", event.To).Debug("Session changed state")
}

// State returns the last state reported by the daemon.
func (s *Session) State() daemon.SessionState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// IsRunning returns whether the session is syncing.
func (s *Session) IsRunning() bool {
	return s.State().IsRunning()
}

// IsStale returns whether the session was created with a different
// SessionVersion.
func (s *Session) IsStale() bool {
	return s.version != strconv.Itoa(SessionVersion)
}

// Pause pauses the session in the agent.
func (s *Session) Pause(ctx context.Context) error {
	s.Close()
	s.log.Info("Pausing session")
	err := s.env.Agent.Run(ctx, agent.Options{Timeout: pauseTimeout}, "sync", "pause", s.Name)
	return errors.WithContext(err, "pause session")
}

// Resume resumes the session in the agent.
func (s *Session) Resume(ctx context.Context) error {
	s.subscribe()
	s.log.Info("Resuming session")
	err := s.env.Agent.Run(ctx, agent.Options{}, "sync", "resume", s.Name)
	return errors.WithContext(err, "resume session")
}

// Terminate deletes the session from the agent. The handle can't be used
// afterwards.
func (s *Session) Terminate(ctx context.Context) error {
	s.Close()
	s.log.Info("Terminating session")
	err := s.env.Agent.Run(ctx, agent.Options{}, "sync", "terminate", s.Name)
	return errors.WithContext(err, "terminate session")
}
