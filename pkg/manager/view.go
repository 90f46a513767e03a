package manager

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/viewsync/pkg/analytics"
	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
)

var (
	// fs is overridden by afero.NewMemMapFs() in the tests.
	fs = afero.NewOsFs()

	// Mocked out for unit testing.
	hostname   = os.Hostname
	updateUser = config.UpdateUser
)

// CreateView creates a view of the workspace on the backend, mounted at
// `path` on this machine, and adds it to the user config. It returns the id of
// the new view. The session isn't started; a running Manager picks the view up
// when it reloads.
func CreateView(ctx context.Context, client backend.Client, workspaceID, path string) (string, error) {
	if err := checkMountPath(path); err != nil {
		return "", err
	}

	host, err := hostname()
	if err != nil {
		return "", errors.WithContext(err, "get hostname")
	}

	viewID, err := client.CreateView(ctx, workspaceID, path, host)
	if err != nil {
		return "", errors.WithContext(err, "create view")
	}
	if viewID == "" {
		return "", errors.New("failed to create view")
	}

	err = updateUser(func(user *config.User) {
		user.AddView(viewID, path)
	})
	if err != nil {
		return "", errors.WithContext(err, "save view")
	}

	analytics.Log.WithFields(logrus.Fields{
		"view":      viewID,
		"workspace": workspaceID,
	}).Info("Created view")
	return viewID, nil
}

// checkMountPath makes sure that creating a view at `path` won't mix the
// view's files with existing ones.
func checkMountPath(path string) error {
	info, err := fs.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	if !info.IsDir() {
		return errors.DirectoryNotEmpty{Path: path}
	}

	empty, err := afero.IsEmpty(fs, path)
	if err != nil {
		return errors.WithContext(err, "read directory")
	}
	if !empty {
		return errors.DirectoryNotEmpty{Path: path}
	}
	return nil
}

// CreateView creates a view of the workspace mounted at `path`, and starts
// syncing it.
func (m *Manager) CreateView(ctx context.Context, workspaceID, path string) (string, error) {
	m.runLock.Lock()
	defer m.runLock.Unlock()

	viewID, err := CreateView(ctx, m.backend, workspaceID, path)
	if err != nil {
		return "", err
	}

	s, err := m.configurator.ConfigureAndStart(ctx, viewID, path)
	if err != nil {
		return "", errors.WithContext(err, "start session")
	}

	m.lock.Lock()
	m.sessions = append(m.sessions, s)
	m.lock.Unlock()
	return viewID, nil
}
