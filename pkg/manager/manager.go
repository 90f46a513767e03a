// Package manager runs viewsync: it owns the agent daemon, the SSH key, and
// the sync sessions of the configured views.
package manager

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/analytics"
	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/daemon"
	"github.com/sidkik/viewsync/pkg/errors"
	"github.com/sidkik/viewsync/pkg/session"
	"github.com/sidkik/viewsync/pkg/sshkeys"
	"github.com/sidkik/viewsync/pkg/status"
)

// knownHostsPath is the trust store that the sync host is added to.
const knownHostsPath = "~/.ssh/known_hosts"

// Keys provisions the SSH key used by the sessions.
type Keys interface {
	Ensure(ctx context.Context) (string, error)
	Close()
}

// AlreadyRunningError is returned by Lock when another process manages the
// same data directory.
type AlreadyRunningError struct {
	LockPath string
}

func (err AlreadyRunningError) Error() string {
	return fmt.Sprintf("viewsync is already running (%s is locked)", err.LockPath)
}

// Manager owns one viewsync run. Start, Reload, ForceRestart, CreateView and
// Cleanup are serialized.
type Manager struct {
	exe          *agent.Executable
	daemon       *daemon.Daemon
	backend      backend.Client
	keys         Keys
	configurator *session.Configurator
	status       *status.Aggregator
	lockFile     *flock.Flock
	log          logrus.FieldLogger

	// loadViews returns the views in the user config. It's re-read on every
	// reconcile so that Reload picks up new views.
	loadViews func() ([]config.View, error)

	runLock sync.Mutex

	lock        sync.Mutex
	sessions    []*session.Session
	unsubscribe func()
}

// New creates a Manager for the user config. The daemon's output is appended
// to `agentLog`.
func New(user config.User, agentLog io.Writer, log logrus.FieldLogger) (*Manager, error) {
	apiURL, err := user.APIEndpoint()
	if err != nil {
		return nil, err
	}

	syncHost, err := user.SyncHost()
	if err != nil {
		return nil, err
	}

	knownHosts, err := homedir.Expand(knownHostsPath)
	if err != nil {
		return nil, errors.WithContext(err, "expand known hosts path")
	}

	client := backend.New(apiURL, user.Token)
	exe := agent.New(user.AgentPath, user.AgentDataDir(), agentLog)
	agg := status.New(log)
	keys := sshkeys.New(client, agg, sshkeys.Config{
		Dir:            user.KeyDir(),
		SyncHost:       syncHost,
		KnownHostsPath: knownHosts,
	}, log)

	return newManager(user, apiURL, syncHost, exe, client, keys, agg, log), nil
}

func newManager(user config.User, apiURL, syncHost *url.URL, exe *agent.Executable,
	client backend.Client, keys Keys, agg *status.Aggregator, log logrus.FieldLogger) *Manager {

	d := daemon.New(exe, log)
	env := session.Env{Agent: exe, Events: d, Log: log}
	m := &Manager{
		exe:          exe,
		daemon:       d,
		backend:      client,
		keys:         keys,
		configurator: session.NewConfigurator(env, client, keys, apiURL, syncHost, user.SessionConfigDir()),
		status:       agg,
		lockFile:     flock.New(user.LockPath()),
		log:          log.WithField("component", "manager"),
		loadViews:    loadViews,
	}
	m.unsubscribe = d.Subscribe(m.onDaemonEvent)
	return m
}

func loadViews() ([]config.View, error) {
	user, err := config.ParseUser()
	if err != nil {
		return nil, err
	}
	return user.Views, nil
}

// Status returns the connectivity state of the run.
func (m *Manager) Status() *status.Aggregator {
	return m.status
}

// Sessions returns the sessions of the expected views.
func (m *Manager) Sessions() []*session.Session {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]*session.Session(nil), m.sessions...)
}

// Lock makes sure that no other viewsync process uses the data directory.
// It's released by Close.
func (m *Manager) Lock() error {
	if err := os.MkdirAll(filepath.Dir(m.lockFile.Path()), 0755); err != nil {
		return errors.WithContext(err, "create data directory")
	}

	locked, err := m.lockFile.TryLock()
	if err != nil {
		return errors.WithContext(err, "acquire lock")
	}
	if !locked {
		return AlreadyRunningError{LockPath: m.lockFile.Path()}
	}
	return nil
}

// Start starts the daemon and reconciles the sessions. If that fails, it
// force restarts once before giving up.
func (m *Manager) Start(ctx context.Context) error {
	m.runLock.Lock()
	defer m.runLock.Unlock()

	err := m.start(ctx)
	if err == nil || !retryable(err) {
		return err
	}

	m.log.WithError(err).Warn("Failed to start, force restarting")
	return errors.WithContext(m.forceRestart(ctx), "force restart")
}

// retryable returns whether force restarting the agent could fix `err`.
func retryable(err error) bool {
	if errors.Is(err, errors.ErrAuthentication) || errors.Is(err, context.Canceled) {
		return false
	}
	var friendly errors.FriendlyError
	return !errors.As(err, &friendly)
}

// ForceRestart kills the daemon, deletes all of its state, and starts again.
func (m *Manager) ForceRestart(ctx context.Context) error {
	m.runLock.Lock()
	defer m.runLock.Unlock()
	return m.forceRestart(ctx)
}

func (m *Manager) forceRestart(ctx context.Context) error {
	if err := m.daemon.Kill(); err != nil {
		return errors.WithContext(err, "kill daemon")
	}
	m.setSessions(nil)

	if err := m.daemon.DeleteDataDirectory(); err != nil {
		return errors.WithContext(err, "delete data directory")
	}
	return m.start(ctx)
}

func (m *Manager) start(ctx context.Context) error {
	if m.daemon.IsRunning() {
		m.cleanup(ctx)
	}

	version, err := m.exe.CheckVersion(ctx)
	if err != nil {
		return errors.WithContext(err, "check agent version")
	}
	analytics.SetAgentVersion(version.String())

	expected, err := m.expectedViews(ctx)
	if err != nil {
		return err
	}

	if err := m.daemon.Start(ctx); err != nil {
		return errors.WithContext(err, "start daemon")
	}
	return m.reconcile(ctx, expected)
}

// Reload reconciles the sessions with the current user config. The daemon is
// started if it isn't running.
func (m *Manager) Reload(ctx context.Context) error {
	m.runLock.Lock()
	defer m.runLock.Unlock()

	expected, err := m.expectedViews(ctx)
	if err != nil {
		return err
	}

	if !m.daemon.IsRunning() {
		if err := m.daemon.Start(ctx); err != nil {
			return errors.WithContext(err, "start daemon")
		}
	}
	return m.reconcile(ctx, expected)
}

// expectedViews returns the configured views that the backend knows about,
// with the same mount path.
func (m *Manager) expectedViews(ctx context.Context) ([]config.View, error) {
	userID, err := m.backend.CurrentUserID(ctx)
	if err != nil {
		return nil, errors.WithContext(err, "get current user")
	}
	if userID == "" {
		return nil, errors.ErrAuthentication
	}

	apiViews, err := m.backend.ListExpectedViews(ctx, userID)
	if err != nil {
		return nil, errors.WithContext(err, "list views")
	}

	configured, err := m.loadViews()
	if err != nil {
		return nil, errors.WithContext(err, "read configured views")
	}
	return filterViews(configured, apiViews), nil
}

func filterViews(configured []config.View, apiViews []backend.View) (expected []config.View) {
	mountPaths := map[string]string{}
	for _, view := range apiViews {
		mountPaths[view.ID] = view.MountPath
	}

	for _, view := range configured {
		if mountPath, ok := mountPaths[view.ID]; ok && mountPath == view.Path {
			expected = append(expected, view)
		}
	}
	return expected
}

func (m *Manager) reconcile(ctx context.Context, expected []config.View) error {
	if _, err := m.keys.Ensure(ctx); err != nil {
		return errors.WithContext(err, "ensure ssh key")
	}

	sessions, err := session.Reconcile(ctx, m.log, m.configurator, expected)
	if err != nil {
		return errors.WithContext(err, "reconcile")
	}
	m.setSessions(sessions)

	var names []string
	for _, s := range sessions {
		names = append(names, s.Name)
	}
	m.log.WithField("sessions", names).Info("Reconciled sessions")
	m.status.Reconciled()
	return nil
}

// setSessions replaces the owned sessions, and stops tracking the state of
// the ones that were dropped.
func (m *Manager) setSessions(sessions []*session.Session) {
	m.lock.Lock()
	old := m.sessions
	m.sessions = sessions
	m.lock.Unlock()

	kept := map[*session.Session]bool{}
	for _, s := range sessions {
		kept[s] = true
	}
	for _, s := range old {
		if !kept[s] {
			s.Close()
		}
	}
}

// Cleanup pauses every session and stops the daemon. Failures to pause are
// only logged, so that the daemon is always stopped.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.runLock.Lock()
	defer m.runLock.Unlock()
	return m.cleanup(ctx)
}

func (m *Manager) cleanup(ctx context.Context) error {
	m.lock.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.lock.Unlock()

	var group errgroup.Group
	for _, s := range sessions {
		s := s
		group.Go(func() error {
			if err := s.Pause(ctx); err != nil {
				m.log.WithError(err).WithField("session", s.Name).Warn("Failed to pause session")
			}
			return nil
		})
	}
	group.Wait()

	if err := m.daemon.Stop(); err != nil {
		m.log.WithError(err).Warn("Failed to stop daemon")
		return errors.WithContext(err, "stop daemon")
	}
	return nil
}

// Close releases the resources held by the Manager. The daemon must have
// been stopped by Cleanup.
func (m *Manager) Close() {
	m.unsubscribe()
	m.keys.Close()
	if err := m.lockFile.Unlock(); err != nil {
		m.log.WithError(err).Debug("Failed to release lock")
	}
}

// Abort kills every agent process, including the daemon. It's meant to be
// called when viewsync is exiting and Cleanup didn't finish.
func (m *Manager) Abort() {
	m.exe.Abort()
}

// Agent returns the agent that the Manager runs.
func (m *Manager) Agent() *agent.Executable {
	return m.exe
}
