package cmd

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/bugtool"
	"github.com/sidkik/viewsync/cmd/createview"
	"github.com/sidkik/viewsync/cmd/login"
	"github.com/sidkik/viewsync/cmd/run"
	"github.com/sidkik/viewsync/cmd/sessions"
	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/cmd/version"
	"github.com/sidkik/viewsync/pkg/analytics"
	"github.com/sidkik/viewsync/pkg/config"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "VIEWSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "viewsync",
		Short:        "Keep local directories in sync with remote views",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors:    true,
		PersistentPreRun: setupAnalytics,
	}
	rootCmd.AddCommand(
		bugtool.New(),
		createview.New(),
		login.New(),
		run.New(),
		sessions.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

// setupAnalytics sends analytics to the API server in the user config, if
// there is one.
func setupAnalytics(cmd *cobra.Command, _ []string) {
	analytics.SetSource(cmd.CalledAs())

	userConfig, err := config.ParseUser()
	if err != nil {
		log.WithError(err).Debug("Failed to parse user config for analytics")
		return
	}

	apiURL, err := userConfig.APIEndpoint()
	if err != nil {
		log.WithError(err).Debug("No API server for analytics")
		return
	}
	analytics.SetEndpoint(strings.TrimSuffix(apiURL.String(), "/") + "/analytics")
}
