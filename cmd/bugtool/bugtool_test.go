package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/version"
)

type file struct {
	path, contents string
}

func TestCopyFile(t *testing.T) {
	tests := []struct {
		name      string
		src, dst  string
		mockFiles []file
		expFiles  []file
		expError  error
	}{
		{
			name:      "Log exists",
			src:       "data/viewsync.log",
			dst:       "root/viewsync.log",
			mockFiles: []file{{"data/viewsync.log", "log contents"}},
			expFiles:  []file{{"root/viewsync.log", "log contents"}},
		},
		{
			name:     "Log doesn't exist",
			src:      "data/agent.log",
			dst:      "root/agent.log",
			expError: errors.New("open log: open data/agent.log: file does not exist"),
		},
	}

	for _, test := range tests {
		fs = afero.NewMemMapFs()
		assert.NoError(t, setupFiles(test.mockFiles))
		err := copyFile(test.src, test.dst)
		if test.expError == nil {
			assert.NoError(t, err, test.name)
		} else {
			assert.EqualError(t, err, test.expError.Error(), test.name)
		}
		assertFiles(t, test.expFiles, test.name)
	}
}

func TestSetupUserConfig(t *testing.T) {
	fs = afero.NewMemMapFs()
	userConfig := config.User{
		APIURL:      "https://api.example.com",
		SyncHostURL: "ssh://sync.example.com:22",
		Token:       "secret",
		Views:       []config.View{{ID: "view", Path: "/code"}},
	}
	assert.NoError(t, setupUserConfig("root", userConfig))

	expFiles := []file{
		{
			"root/config.yaml",
			`apiURL: https://api.example.com
syncHostURL: ssh://sync.example.com:22
token: REDACTED
views:
- id: view
  path: /code
`,
		},
	}
	assertFiles(t, expFiles, "setupUserConfig should redact the token")
}

func TestSetupSessionsAndVersion(t *testing.T) {
	fs = afero.NewMemMapFs()
	agentOutput = func(_ context.Context, _ config.User, args ...string) ([]byte, error) {
		if args[0] == "version" {
			return []byte("0.12.0\n"), nil
		}
		return []byte(`[{"name": "view-a", "alpha": {"path": "/code/a"}}]`), nil
	}
	version.Version = "1.2.3"
	defer func() { version.Version = version.EmptyValue }()

	ctx := context.Background()
	assert.NoError(t, setupSessions(ctx, "root", config.User{}))
	assert.NoError(t, setupVersion(ctx, "root", config.User{}))

	expFiles := []file{
		{
			"root/sessions.yaml",
			`- alpha:
    path: /code/a
  name: view-a
`,
		},
		{"root/version/local", "local version: 1.2.3\n"},
		{"root/version/agent", "0.12.0\n"},
	}
	assertFiles(t, expFiles, "setupSessions and setupVersion should create files")
}

func TestTarDirectory(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, setupFiles([]file{
		{"root/viewsync.log", "log"},
		{"root/version/local", "local version: 1.2.3\n"},
	}))
	require.NoError(t, tarDirectory("root", "out.tar.gz"))

	archive, err := fs.Open("out.tar.gz")
	require.NoError(t, err)
	defer archive.Close()

	gzr, err := gzip.NewReader(archive)
	require.NoError(t, err)
	tr := tar.NewReader(gzr)

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"viewsync-bug-info",
		"viewsync-bug-info/version",
		"viewsync-bug-info/version/local",
		"viewsync-bug-info/viewsync.log",
	}, names)
}

func setupFiles(files []file) error {
	for _, f := range files {
		if err := afero.WriteFile(fs, f.path, []byte(f.contents), 0644); err != nil {
			return err
		}
	}
	return nil
}

func assertFiles(t *testing.T, files []file, msg string) {
	for _, f := range files {
		contents, err := afero.ReadFile(fs, f.path)
		assert.NoError(t, err, msg)
		assert.Equal(t, f.contents, string(contents), msg)
	}
}
