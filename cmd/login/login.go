package login

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/pkg/backend"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	parseUserConfig           = config.ParseUser
	updateUser                = config.UpdateUser
	newClient                 = backend.New
)

// New creates a new `login` command.
func New() *cobra.Command {
	var cliOpts config.User
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the credentials used to reach the API server",
		Run: func(_ *cobra.Command, _ []string) {
			if err := Main(cliOpts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Token, "token", "",
		"API token. Optional: If not set, `viewsync login` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.APIURL, "api-url", "",
		"URL of the API server. Optional: If not set, `viewsync login` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.SyncHostURL, "sync-host", "",
		"URL of the sync host, e.g. ssh://sync.example.com:22. "+
			"Optional: If not set, `viewsync login` will interactively prompt.")
	return cmd
}

// Main prompts for the missing credentials, checks that they're valid, and
// saves them into the user config.
func Main(cliOpts config.User) error {
	creds, err := generateCredentials(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	apiURL, err := creds.APIEndpoint()
	if err != nil {
		return err
	}
	if _, err := creds.SyncHost(); err != nil {
		return err
	}

	userID, err := newClient(apiURL, creds.Token).CurrentUserID(context.Background())
	if err != nil {
		return errors.WithContext(err, "check token")
	}
	if userID == "" {
		return errors.NewFriendlyError("The token was rejected by %s.", apiURL)
	}

	err = updateUser(func(user *config.User) {
		user.APIURL = creds.APIURL
		user.SyncHostURL = creds.SyncHostURL
		user.Token = creds.Token
	})
	if err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Logged in as %s.\nWrote config to %s\n", userID, path)
	return nil
}

type prompt struct {
	helpString, prompt, currAnswer string
	field                          *string
}

// generateCredentials interacts with the user to fill in the fields that
// weren't set on the command line. The current values are offered as
// choices.
func generateCredentials(cliOpts config.User) (config.User, error) {
	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	creds := cliOpts
	var prompts []prompt
	if cliOpts.APIURL == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the URL of the API server.",
			prompt:     "API URL",
			currAnswer: currConfig.APIURL,
			field:      &creds.APIURL,
		})
	}

	if cliOpts.SyncHostURL == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the URL of the sync host that views are synced with.\n" +
				"It usually looks like ssh://<host>:22.",
			prompt:     "Sync host URL",
			currAnswer: currConfig.SyncHostURL,
			field:      &creds.SyncHostURL,
		})
	}

	if cliOpts.Token == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter your API token.\n" +
				"It can be created from the settings page of the web application.",
			prompt:     "API token",
			currAnswer: currConfig.Token,
			field:      &creds.Token,
		})
	}

	stdinReader := bufio.NewReader(stdin)
	for _, prompt := range prompts {
		resp, err := promptUser(stdinReader, prompt.helpString, prompt.prompt, "", prompt.currAnswer)
		if err != nil {
			return config.User{}, errors.WithContext(err, "read response")
		}
		*prompt.field = resp
	}

	return creds, nil
}
