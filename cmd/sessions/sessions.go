package sessions

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"text/tabwriter"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/daemon"
	"github.com/sidkik/viewsync/pkg/errors"
	"github.com/sidkik/viewsync/pkg/session"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `sessions` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List the sync sessions managed by viewsync",
		Run: func(_ *cobra.Command, _ []string) {
			if err := main(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func main() error {
	user, err := config.ParseUser()
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	apiURL, err := user.APIEndpoint()
	if err != nil {
		return err
	}

	exe := agent.New(user.AgentPath, user.AgentDataDir(), ioutil.Discard)
	env := session.Env{
		Agent:  exe,
		Events: daemon.New(exe, log.StandardLogger()),
		Log:    log.StandardLogger(),
	}
	sessions, err := session.List(context.Background(), env, session.Filter{APIHost: apiURL.Hostname()})
	if err != nil {
		log.WithError(err).Debug("Failed to list sessions")
		return errors.NewFriendlyError("Failed to list sessions. " +
			"Is `viewsync run` running?")
	}
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	printSessions(stdout, sessions)
	return nil
}

func printSessions(w io.Writer, sessions []*session.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return
	}

	out := tabwriter.NewWriter(w, 0, 10, 5, ' ', 0)
	defer out.Flush()

	fmt.Fprintln(out, "SESSION\tVIEW\tPATH\tCONFIGURATION")
	for _, s := range sessions {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.Name, s.ViewID, s.Path, configurationString(s))
	}
}

func configurationString(s *session.Session) string {
	if s.IsStale() {
		return goterm.Color("Outdated", goterm.YELLOW)
	}
	return goterm.Color("Current", goterm.GREEN)
}
