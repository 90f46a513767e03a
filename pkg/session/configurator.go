package session

import (
	"context"
	"net/url"
	"path/filepath"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/errors"
)

// fs is overridden by afero.NewMemMapFs() in the tests.
var fs = afero.NewOsFs()

// baselineIgnores are never synced, whatever the view says.
var baselineIgnores = []string{"node_modules", ".DS_Store", "*.swp"}

// Backend is the part of the API server used to configure sessions.
type Backend interface {
	CurrentUserID(ctx context.Context) (string, error)
	ViewDetails(ctx context.Context, viewID string) (backend.ViewDetails, error)
}

// Keys provisions the SSH key used by sessions.
type Keys interface {
	Ensure(ctx context.Context) (string, error)
}

// Configurator turns views into session definitions.
type Configurator struct {
	env       Env
	backend   Backend
	keys      Keys
	apiURL    *url.URL
	syncHost  *url.URL
	configDir string
}

// NewConfigurator creates a Configurator that writes session configuration
// files into `configDir`.
func NewConfigurator(env Env, backend Backend, keys Keys, apiURL, syncHost *url.URL,
	configDir string) *Configurator {
	return &Configurator{
		env:       env,
		backend:   backend,
		keys:      keys,
		apiURL:    apiURL,
		syncHost:  syncHost,
		configDir: configDir,
	}
}

// Env returns the environment sessions are created in.
func (c *Configurator) Env() Env {
	return c.env
}

// Filter selects the sessions that belong to the configured API server.
func (c *Configurator) Filter() Filter {
	return Filter{APIHost: c.apiURL.Hostname()}
}

type sessionConfig struct {
	Sync struct {
		Defaults syncDefaults `json:"defaults"`
	} `json:"sync"`
}

type syncDefaults struct {
	Mode              string `json:"mode"`
	SSHPrivateKeyPath string `json:"sshPrivateKeyPath"`
	Ignore            struct {
		Paths []string `json:"paths"`
		VCS   bool     `json:"vcs"`
	} `json:"ignore"`
}

// Configure prepares everything needed to sync `localPath` with the view: the
// SSH key, the session configuration file, and the local directory itself.
func (c *Configurator) Configure(ctx context.Context, viewID, localPath string) (Definition, error) {
	details, err := c.backend.ViewDetails(ctx, viewID)
	if err != nil {
		return Definition{}, errors.WithContext(err, "get view details")
	}
	if details.CodebaseID == "" {
		return Definition{}, errors.ViewNotFound{ViewID: viewID}
	}

	userID, err := c.backend.CurrentUserID(ctx)
	if err != nil {
		return Definition{}, errors.WithContext(err, "get current user")
	}
	if userID == "" {
		return Definition{}, errors.ErrAuthentication
	}

	keyPath, err := c.keys.Ensure(ctx)
	if err != nil {
		return Definition{}, errors.WithContext(err, "ensure ssh key")
	}

	var cfg sessionConfig
	cfg.Sync.Defaults.Mode = "two-way-resolved"
	cfg.Sync.Defaults.SSHPrivateKeyPath = keyPath
	cfg.Sync.Defaults.Ignore.Paths = ignorePaths(details.IgnoredPaths)
	cfg.Sync.Defaults.Ignore.VCS = true

	configPath := filepath.Join(c.configDir, viewID+".yaml")
	if err := writeConfig(configPath, cfg); err != nil {
		return Definition{}, errors.WithContext(err, "write session config")
	}

	if err := fs.MkdirAll(localPath, 0755); err != nil {
		return Definition{}, errors.WithContext(err, "create local directory")
	}

	return Definition{
		ViewID:     viewID,
		LocalPath:  localPath,
		ConfigPath: configPath,
		UserID:     userID,
		CodebaseID: details.CodebaseID,
		APIURL:     c.apiURL,
		SyncHost:   c.syncHost,
	}, nil
}

// ConfigureAndStart configures the view, and creates its session.
func (c *Configurator) ConfigureAndStart(ctx context.Context, viewID, localPath string) (*Session, error) {
	def, err := c.Configure(ctx, viewID, localPath)
	if err != nil {
		return nil, errors.WithContext(err, "configure")
	}
	return Create(ctx, c.env, def)
}

func ignorePaths(fromBackend []string) []string {
	set := map[string]struct{}{}
	for _, paths := range [][]string{baselineIgnores, fromBackend} {
		for _, path := range paths {
			if path != "" {
				set[path] = struct{}{}
			}
		}
	}

	var paths []string
	for path := range set {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func writeConfig(path string, cfg sessionConfig) error {
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create directory")
	}
	return afero.WriteFile(fs, path, yamlBytes, 0644)
}
