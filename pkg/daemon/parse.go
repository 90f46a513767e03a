package daemon

import (
	"regexp"
	"strings"
)

const (
	readyMarker             = "Session manager initialized"
	connectMarker           = "connect to host"
	connectionRefusedMarker = "Connection refused"
)

// transitionPattern matches lines such as
// "[sync] view-abc123: Watching -> Scanning: ...".
var transitionPattern = regexp.MustCompile(`([a-z0-9-]+): ([A-Za-z]+) -> ([A-Za-z]+):`)

// ParseLine converts a line of daemon output into an event. The boolean is
// false for lines that don't mean anything to us.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	if strings.Contains(line, readyMarker) {
		return Event{Kind: Ready}, true
	}

	if strings.Contains(line, connectMarker) && strings.Contains(line, connectionRefusedMarker) {
		return Event{Kind: ConnectionDropped}, true
	}

	if match := transitionPattern.FindStringSubmatch(line); match != nil {
		return Event{
			Kind:    SessionStateChanged,
			Session: match[1],
			From:    SessionState(match[2]),
			To:      SessionState(match[3]),
		}, true
	}
	return Event{}, false
}
