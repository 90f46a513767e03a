package version

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
	"github.com/sidkik/viewsync/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of viewsync and of the sync agent.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run() error {
	fmt.Printf("local version: %s\n", version.Version)

	user, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	exe := agent.New(user.AgentPath, user.AgentDataDir(), ioutil.Discard)
	agentVersion, err := exe.Version(context.Background())
	if err != nil {
		return errors.WithContext(err, "get agent version")
	}

	fmt.Printf("agent version: %s\n", agentVersion)
	return nil
}
