// Package util contains helpers shared by the CLI commands.
package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/viewsync/pkg/analytics"
	"github.com/sidkik/viewsync/pkg/errors"
)

// Mocked for unit testing.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// HandleFatalError handles errors that are severe enough to terminate the
// program. Friendly errors are printed as is, everything else is printed
// along with its context.
func HandleFatalError(err error) {
	analytics.Log.WithError(err).Error("Fatal error")

	var friendly errors.FriendlyError
	if errors.As(err, &friendly) {
		fmt.Fprintln(stderr, friendly.Error())
	} else {
		log.WithError(err).Debug("Fatal error")
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	exit(1)
}

// HandlePanic records panics before letting them crash the program. It must
// be deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		analytics.Log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
		panic(r)
	}
}
