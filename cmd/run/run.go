package run

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/pkg/analytics"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
	"github.com/sidkik/viewsync/pkg/fswatch"
	"github.com/sidkik/viewsync/pkg/manager"
	"github.com/sidkik/viewsync/pkg/status"
)

type options struct {
	agentPath string
	dataDir   string
	logToFile bool
}

// New creates a new `run` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync agent, and keep the configured views in sync",
		Long: "Start the sync agent, and keep a sync session running for every view " +
			"in the user config.\nThe sessions are paused when viewsync exits.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := main(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&opts.agentPath, "agent", "",
		"Path to the sync agent binary. Overrides agentPath in the user config.")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "",
		"Directory for viewsync's state. Overrides dataDir in the user config.")
	cmd.Flags().BoolVar(&opts.logToFile, "log-file", false,
		"Write logs to viewsync.log in the data directory rather than stderr.")
	return cmd
}

// loadUser reads the user config, and applies the command line overrides.
func loadUser(opts options) (config.User, error) {
	user, err := config.ParseUser()
	if err != nil {
		return config.User{}, errors.WithContext(err, "read config")
	}

	if opts.agentPath != "" {
		user.AgentPath = opts.agentPath
	}
	if opts.dataDir != "" {
		dataDir, err := homedir.Expand(opts.dataDir)
		if err != nil {
			return config.User{}, errors.WithContext(err, "expand data directory")
		}
		user.DataDir = dataDir
	}
	return user, nil
}

func openLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func main(opts options) error {
	user, err := loadUser(opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(user.DataDir, 0755); err != nil {
		return errors.WithContext(err, "create data directory")
	}

	if opts.logToFile {
		logFile, err := openLog(user.LogPath())
		if err != nil {
			return errors.WithContext(err, "open log file")
		}
		defer logFile.Close()

		log.SetOutput(logFile)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	log.AddHook(analytics.NewLogHook())

	agentLog, err := openLog(user.AgentLogPath())
	if err != nil {
		return errors.WithContext(err, "open agent log")
	}
	defer agentLog.Close()

	m, err := manager.New(user, agentLog, log.StandardLogger())
	if err != nil {
		return errors.WithContext(err, "create manager")
	}

	if err := m.Lock(); err != nil {
		var alreadyRunning manager.AlreadyRunningError
		if errors.As(err, &alreadyRunning) {
			return errors.NewFriendlyError("Another viewsync process is already "+
				"running with the data directory %s.", user.DataDir)
		}
		return errors.WithContext(err, "lock data directory")
	}
	defer m.Close()

	m.Status().Subscribe(func(state status.State) {
		log.WithField("status", state).Info("Status changed")
	})

	changes, watcher := watchConfig()
	if watcher != nil {
		defer watcher.Close()
	}
	return supervise(m, changes)
}

// watchConfig returns a channel that receives an event whenever the user
// config changes. If the config can't be watched, the channel is nil.
func watchConfig() (<-chan struct{}, io.Closer) {
	path, err := config.GetUserConfigPath()
	if err != nil {
		log.WithError(err).Warn("Failed to get user config path. Changes won't be picked up.")
		return nil, nil
	}

	changes, watcher, err := fswatch.Watch(path)
	if err != nil {
		log.WithError(err).Warn("Failed to watch user config. Changes won't be picked up.")
		return nil, nil
	}
	return changes, watcher
}

// supervise runs the manager until it fails to start, or viewsync is
// interrupted.
func supervise(m *manager.Manager, configChanges <-chan struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	started := make(chan error, 1)
	go func() {
		started <- m.Start(ctx)
	}()

	for {
		select {
		case err := <-started:
			if err != nil {
				shutdown(m, signals)
				return errors.WithContext(err, "start")
			}
			log.Info("Started")

		case <-configChanges:
			log.Info("User config changed. Reloading.")
			go func() {
				if err := m.Reload(ctx); err != nil {
					log.WithError(err).Warn("Failed to reload")
				}
			}()

		case sig := <-signals:
			log.WithField("signal", sig).Info("Shutting down")
			cancel()
			shutdown(m, signals)
			return nil
		}
	}
}

// shutdown pauses the sessions and stops the daemon. A second signal kills
// everything immediately.
func shutdown(m *manager.Manager, signals <-chan os.Signal) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-signals:
			log.Warn("Interrupted again. Killing the sync agent.")
			m.Abort()
		case <-done:
		}
	}()

	if err := m.Cleanup(context.Background()); err != nil {
		log.WithError(err).Warn("Failed to clean up")
	}
	m.Abort()
}
