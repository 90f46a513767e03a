// Package sshkeys provisions the SSH key used by the agent to connect to the
// sync host.
package sshkeys

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/viewsync/pkg/errors"
)

// fs is overridden by afero.NewMemMapFs() in the tests.
var fs = afero.NewOsFs()

var errClosed = errors.New("key manager is closed")

// Backend is the part of the API server used to provision keys.
type Backend interface {
	CurrentUserID(ctx context.Context) (string, error)
	AddPublicKey(ctx context.Context, publicKey string) (string, error)
}

// Observer is notified as a new key is provisioned.
type Observer interface {
	KeyCreationBegin()
	KeyUploadBegin()
	KeyUploadDone()
}

type noopObserver struct{}

func (noopObserver) KeyCreationBegin() {}
func (noopObserver) KeyUploadBegin()   {}
func (noopObserver) KeyUploadDone()    {}

// Config configures a Manager.
type Config struct {
	// Dir holds the private keys.
	Dir string

	// SyncHost is the host the agent connects to, e.g. ssh://sync:22.
	SyncHost *url.URL

	// KnownHostsPath is the trust store that the sync host's keys are
	// added to.
	KnownHostsPath string
}

// Manager makes sure that the current user has a key that's trusted by the
// sync host, and that the sync host is trusted locally. Calls to Ensure are
// executed one at a time, in the order they were made.
type Manager struct {
	backend   Backend
	observer  Observer
	config    Config
	generator KeyGenerator
	keyscan   func(ctx context.Context, host, port string) ([]byte, error)
	log       logrus.FieldLogger

	requests  chan request
	keygen    chan chan<- keygenResult
	stop      chan struct{}
	closeOnce sync.Once
}

type request struct {
	ctx   context.Context
	reply chan<- result
}

type result struct {
	path string
	err  error
}

type keygenResult struct {
	pair KeyPair
	err  error
}

// New creates a Manager. `observer` may be nil.
func New(backend Backend, observer Observer, config Config, log logrus.FieldLogger) *Manager {
	return newManager(backend, observer, config, ed25519Generator{comment: "viewsync"}, keyscan, log)
}

func newManager(backend Backend, observer Observer, config Config, generator KeyGenerator,
	keyscan func(context.Context, string, string) ([]byte, error), log logrus.FieldLogger) *Manager {

	if observer == nil {
		observer = noopObserver{}
	}

	m := &Manager{
		backend:   backend,
		observer:  observer,
		config:    config,
		generator: generator,
		keyscan:   keyscan,
		log:       log.WithField("component", "sshkeys"),
		requests:  make(chan request),
		keygen:    make(chan chan<- keygenResult),
		stop:      make(chan struct{}),
	}
	go m.serve()
	go m.runKeygen()
	return m
}

// Close stops the Manager. Pending and future calls to Ensure fail.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.stop) })
}

// KeyPath returns where the private key of `userID` is stored.
func (m *Manager) KeyPath(userID string) string {
	return filepath.Join(m.config.Dir, "private-key-"+userID+".pem")
}

// Ensure makes sure that the current user's key exists and is authorized by
// the backend, and returns the path to the private key.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	select {
	case <-m.stop:
		return "", errClosed
	default:
	}

	reply := make(chan result, 1)
	select {
	case m.requests <- request{ctx, reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.stop:
		return "", errClosed
	}

	res := <-reply
	return res.path, res.err
}

// serve handles the Ensure requests one at a time.
func (m *Manager) serve() {
	for {
		select {
		case req := <-m.requests:
			path, err := m.ensure(req.ctx)
			req.reply <- result{path, err}
		case <-m.stop:
			return
		}
	}
}

// runKeygen generates keys on its own goroutine so that the CPU work never
// holds up anything else.
func (m *Manager) runKeygen() {
	for {
		select {
		case reply := <-m.keygen:
			pair, err := m.generator.Generate()
			reply <- keygenResult{pair, err}
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) ensure(ctx context.Context) (string, error) {
	userID, err := m.backend.CurrentUserID(ctx)
	if err != nil {
		return "", errors.WithContext(err, "get current user")
	}
	if userID == "" {
		return "", errors.ErrAuthentication
	}

	if err := m.trustSyncHost(ctx); err != nil {
		return "", errors.WithContext(err, "trust sync host")
	}

	path := m.KeyPath(userID)
	info, err := fs.Stat(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return "", errors.WithContext(err, "stat key")
	case info.Size() == 0:
		m.log.WithField("path", path).Info("Found empty key file, regenerating")
	default:
		m.repairMode(path, info.Mode())
		return path, nil
	}

	if err := m.createKey(ctx, path); err != nil {
		return "", errors.WithContext(err, "create key")
	}
	return path, nil
}

func (m *Manager) createKey(ctx context.Context, path string) error {
	m.observer.KeyCreationBegin()
	pair, err := m.generate(ctx)
	if err != nil {
		return errors.WithContext(err, "generate")
	}

	m.observer.KeyUploadBegin()
	if _, err := m.backend.AddPublicKey(ctx, pair.AuthorizedKey); err != nil {
		return errors.WithContext(err, "upload public key")
	}

	if err := fs.MkdirAll(m.config.Dir, 0700); err != nil {
		return errors.WithContext(err, "create key directory")
	}

	// Write to a temporary file first so that a concurrent reader never sees
	// a partially written key.
	tmp := path + ".tmp"
	if err := writePrivate(tmp, pair.PrivatePEM); err != nil {
		fs.Remove(tmp)
		return errors.WithContext(err, "write")
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return errors.WithContext(err, "rename")
	}

	m.log.WithField("path", path).Info("Created SSH key")
	m.observer.KeyUploadDone()
	return nil
}

func writePrivate(path string, contents []byte) error {
	if err := afero.WriteFile(fs, path, contents, 0600); err != nil {
		return err
	}

	// WriteFile only applies the mode when creating the file.
	return fs.Chmod(path, 0600)
}

func (m *Manager) generate(ctx context.Context) (KeyPair, error) {
	reply := make(chan keygenResult, 1)
	select {
	case m.keygen <- reply:
	case <-ctx.Done():
		return KeyPair{}, ctx.Err()
	case <-m.stop:
		return KeyPair{}, errClosed
	}

	select {
	case res := <-reply:
		return res.pair, res.err
	case <-ctx.Done():
		return KeyPair{}, ctx.Err()
	}
}

func (m *Manager) repairMode(path string, mode os.FileMode) {
	if mode.Perm() == 0600 {
		return
	}

	log := m.log.WithField("path", path).WithField("mode", mode.Perm())
	if err := fs.Chmod(path, 0600); err != nil {
		log.WithError(err).Warn("Failed to repair key file mode")
		return
	}
	log.Info("Repaired key file mode")
}
