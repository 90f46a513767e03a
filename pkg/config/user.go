package config

import (
	"net/url"
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/viewsync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the viewsync user config.
	UserConfigPath = "~/.viewsync.yaml"

	// InitialUserConfigVersion is the first version of the user config.
	// Config files that do not specify a version default to it.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the version of the user config understood
	// by this binary.
	SupportedUserConfigVersion = "v1alpha1"

	// DefaultAgentPath is the agent binary used when none is configured. It's
	// resolved through $PATH.
	DefaultAgentPath = "mutagen"

	// DefaultDataDir holds everything viewsync persists.
	DefaultDataDir = "~/.viewsync"
)

// User is the configuration of the local user: how to reach the backend, and
// which local directories should be synced to which views.
type User struct {
	Version     string `json:"version,omitempty"`
	APIURL      string `json:"apiURL"`
	SyncHostURL string `json:"syncHostURL"`
	Token       string `json:"token,omitempty"`
	AgentPath   string `json:"agentPath,omitempty"`
	DataDir     string `json:"dataDir,omitempty"`
	Views       []View `json:"views,omitempty"`
}

// View binds a local directory to a view on the backend.
type View struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

func (u User) getVersion() string {
	return u.Version
}

// AgentDataDir is the data directory handed to the agent.
func (u User) AgentDataDir() string {
	return filepath.Join(u.DataDir, "agent")
}

// SessionConfigDir holds one session configuration file per view.
func (u User) SessionConfigDir() string {
	return filepath.Join(u.DataDir, "sessions")
}

// KeyDir holds the private keys used to reach the sync host.
func (u User) KeyDir() string {
	return filepath.Join(u.DataDir, "keys")
}

// LogPath is where `viewsync run` writes its own logs.
func (u User) LogPath() string {
	return filepath.Join(u.DataDir, "viewsync.log")
}

// AgentLogPath is the log sink shared by all agent processes.
func (u User) AgentLogPath() string {
	return filepath.Join(u.DataDir, "agent.log")
}

// LockPath guards against two supervisors sharing a data directory.
func (u User) LockPath() string {
	return filepath.Join(u.DataDir, "viewsync.lock")
}

// APIEndpoint parses the configured backend URL.
func (u User) APIEndpoint() (*url.URL, error) {
	return parseURL("apiURL", u.APIURL)
}

// SyncHost parses the configured sync host URL, e.g. ssh://sync.example.com:22.
func (u User) SyncHost() (*url.URL, error) {
	return parseURL("syncHostURL", u.SyncHostURL)
}

func parseURL(field, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.MissingFieldError{Field: field}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.WithContext(err, "parse "+field)
	}
	if u.Hostname() == "" {
		return nil, errors.New("%s %q has no host", field, raw)
	}
	return u, nil
}

// homedirExpand is overridden in the tests.
var homedirExpand = homedir.Expand

// ParseUser parses the user config at the default path, and fills in the
// defaults for unset fields. Paths in the returned config are absolute.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config, err := readUser(path)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{}, errors.NewFriendlyError("The viewsync user config "+
				"file doesn't exist at %q. Please run `viewsync login` to "+
				"create it.", path)
		}
		return User{}, errors.WithContext(err, "parse")
	}

	if config.AgentPath == "" {
		config.AgentPath = DefaultAgentPath
	}
	if config.DataDir == "" {
		config.DataDir = DefaultDataDir
	}

	if config.DataDir, err = expandPath(path, config.DataDir); err != nil {
		return User{}, errors.WithContext(err, "expand data directory")
	}

	for i, view := range config.Views {
		config.Views[i].Path, err = expandPath(path, view.Path)
		if err != nil {
			return User{}, errors.WithContext(err, "expand view path")
		}
	}
	return config, nil
}

func readUser(path string) (User, error) {
	config := User{Version: InitialUserConfigVersion}
	if err := parseConfig(path, &config, SupportedUserConfigVersion); err != nil {
		return User{}, err
	}
	return config, nil
}

// expandPath expands `~`, and evaluates relative paths relative to the
// config file.
func expandPath(configPath, path string) (string, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}

	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(configPath), path)
	}
	return filepath.Clean(path), nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	// The config holds the backend token.
	if err := afero.WriteFile(fs, path, yamlBytes, 0600); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// UpdateUser applies `update` to the config on disk. The config is read
// without defaults so that only the fields touched by `update` change. A
// missing config file is treated as empty.
func UpdateUser(update func(*User)) error {
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	cfg, err := readUser(path)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return errors.WithContext(err, "parse")
		}
		cfg = User{}
	}

	update(&cfg)
	return WriteUser(cfg)
}

// AddView records that `path` should be synced with `viewID`. An existing
// entry for the same view is replaced.
func (u *User) AddView(viewID, path string) {
	for i, view := range u.Views {
		if view.ID == viewID {
			u.Views[i].Path = path
			return
		}
	}
	u.Views = append(u.Views, View{ID: viewID, Path: path})
}

// GetUserConfigPath returns the expanded path to the user config.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
