package createview

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
	"github.com/sidkik/viewsync/pkg/manager"
)

// New creates a new `create-view` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "create-view WORKSPACE_ID PATH",
		Short: "Create a view of a workspace, and sync it to a local directory",
		Long: "Create a view of a workspace, mounted at PATH on this machine.\n" +
			"PATH must not exist, or be an empty directory.",
		Args: cobra.ExactArgs(2),
		Run: func(_ *cobra.Command, args []string) {
			if err := main(args[0], args[1]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func main(workspaceID, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return errors.WithContext(err, "get absolute path")
	}

	user, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	m, err := manager.New(user, ioutil.Discard, log.StandardLogger())
	if err != nil {
		return errors.WithContext(err, "create manager")
	}
	defer m.Close()

	ctx := context.Background()
	err = m.Lock()
	var alreadyRunning manager.AlreadyRunningError
	switch {
	case errors.As(err, &alreadyRunning):
		// The running supervisor starts the session once it notices the
		// new view in the user config.
		viewID, err := createViewWithoutSession(ctx, user, workspaceID, path)
		if err != nil {
			return err
		}
		fmt.Printf("Created view %s at %s.\n", viewID, path)
		fmt.Println("The running viewsync process will start syncing it.")
		return nil
	case err != nil:
		return errors.WithContext(err, "lock data directory")
	}

	if err := m.Start(ctx); err != nil {
		m.Abort()
		return errors.WithContext(err, "start")
	}

	viewID, err := m.CreateView(ctx, workspaceID, path)
	if cleanupErr := m.Cleanup(ctx); cleanupErr != nil {
		log.WithError(cleanupErr).Warn("Failed to stop the sync agent")
	}
	if err != nil {
		return err
	}

	fmt.Printf("Created view %s at %s.\n", viewID, path)
	fmt.Println("Run `viewsync run` to keep it in sync.")
	return nil
}

func createViewWithoutSession(ctx context.Context, user config.User, workspaceID, path string) (string, error) {
	apiURL, err := user.APIEndpoint()
	if err != nil {
		return "", err
	}
	return manager.CreateView(ctx, backend.New(apiURL, user.Token), workspaceID, path)
}
