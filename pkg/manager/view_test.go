package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/backend/mocks"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
)

func TestCheckMountPath(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	require.NoError(t, fs.MkdirAll("/code/empty", 0755))
	require.NoError(t, afero.WriteFile(fs, "/code/full/main.go", []byte("package main"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/code/file", []byte("contents"), 0644))

	tests := []struct {
		name     string
		path     string
		expError error
	}{
		{
			name: "Missing",
			path: "/code/missing",
		},
		{
			name: "EmptyDirectory",
			path: "/code/empty",
		},
		{
			name:     "NonEmptyDirectory",
			path:     "/code/full",
			expError: errors.DirectoryNotEmpty{Path: "/code/full"},
		},
		{
			name:     "File",
			path:     "/code/file",
			expError: errors.DirectoryNotEmpty{Path: "/code/file"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expError, checkMountPath(test.path))
		})
	}
}

func mockUpdateUser(t *testing.T) *config.User {
	var user config.User
	updateUser = func(update func(*config.User)) error {
		update(&user)
		return nil
	}
	hostname = func() (string, error) { return "laptop", nil }
	t.Cleanup(func() {
		updateUser = config.UpdateUser
		hostname = os.Hostname
	})
	return &user
}

func TestCreateViewRegistersView(t *testing.T) {
	user := mockUpdateUser(t)
	path := filepath.Join(t.TempDir(), "code")

	client := &mocks.Client{}
	client.On("CreateView", mock.Anything, "workspace", path, "laptop").Return("view", nil)

	viewID, err := CreateView(context.Background(), client, "workspace", path)
	require.NoError(t, err)
	assert.Equal(t, "view", viewID)
	assert.Equal(t, []config.View{{ID: "view", Path: path}}, user.Views)
	client.AssertExpectations(t)
}

func TestCreateViewBackendError(t *testing.T) {
	user := mockUpdateUser(t)

	client := &mocks.Client{}
	client.On("CreateView", mock.Anything, "workspace", "/tmp/viewsync-missing", "laptop").
		Return("", errors.New("graphql: workspace not found"))

	_, err := CreateView(context.Background(), client, "workspace", "/tmp/viewsync-missing")
	assert.EqualError(t, err, "create view: graphql: workspace not found")
	assert.Empty(t, user.Views)
}

func TestManagerCreateView(t *testing.T) {
	user := mockUpdateUser(t)
	tm := newTestManager(t, nil)
	tm.mockUser()
	path := filepath.Join(tm.dir, "code")
	tm.client.On("CreateView", mock.Anything, "workspace", path, "laptop").Return("new", nil)
	tm.client.On("ViewDetails", mock.Anything, "new").Return(backend.ViewDetails{CodebaseID: "cb"}, nil)

	require.NoError(t, tm.Start(context.Background()))
	defer tm.Cleanup(context.Background())

	viewID, err := tm.CreateView(context.Background(), "workspace", path)
	require.NoError(t, err)
	assert.Equal(t, "new", viewID)
	assert.Equal(t, []string{"view-new"}, tm.sessionNames())
	assert.Equal(t, []config.View{{ID: "new", Path: path}}, user.Views)
	assert.DirExists(t, path)

	creates := tm.commands(t, "sync create")
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0], "--name view-new")
}
