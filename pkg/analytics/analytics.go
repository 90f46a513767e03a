package analytics

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/viewsync/pkg/version"
)

var (
	// Log is the global analytics logger. Log events created via this object are
	// automatically pushed into our analytics system.
	Log = newAnalyticsLogger()

	// runID identifies all events sent by this process.
	runID = uuid.New().String()

	// Optional values for automatically enriching the analytics metadata.
	tagsLock     sync.Mutex
	source       string
	agentVersion string
	endpoint     string

	// Mocked out for unit testing.
	httpPost = http.Post
)

func newAnalyticsLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	// Don't actually publish analytics if we weren't compiled from `make`
	// (i.e. we're most likely being called from `go test`), or if we're
	// running a development copy of viewsync.
	if version.IsRelease() {
		logger.AddHook(&hook{logrus.AllLevels, analyticsStream})
	}

	return logger
}

const (
	contentType = "application/json"

	analyticsStream = "analytics"
	loggingStream   = "logging"
)

// formatter renames the standard fields to the names the log intake expects.
var formatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "message",
	},
}

// NewLogHook creates a new hook that forwards warnings and errors to the
// analytics system.
func NewLogHook() logrus.Hook {
	levels := []logrus.Level{logrus.WarnLevel, logrus.ErrorLevel}
	return &hook{levels, loggingStream}
}

// SetEndpoint sets the URL that events are posted to. Events are dropped
// until it's set.
func SetEndpoint(url string) {
	tagsLock.Lock()
	defer tagsLock.Unlock()
	endpoint = url
}

// SetSource sets the source that is automatically added to analytics
// events.
func SetSource(s string) {
	tagsLock.Lock()
	defer tagsLock.Unlock()
	source = s
}

// SetAgentVersion sets the version of the sync agent that is automatically
// added to analytics events.
func SetAgentVersion(v string) {
	tagsLock.Lock()
	defer tagsLock.Unlock()
	agentVersion = v
}

type hook struct {
	levels     []logrus.Level
	streamType string
}

func (h *hook) Levels() []logrus.Level {
	return h.levels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	tagsLock.Lock()
	url, src, agentV := endpoint, source, agentVersion
	tagsLock.Unlock()

	if url == "" {
		return nil
	}

	tags := []string{
		fmt.Sprintf("stream:%s", h.streamType),
		fmt.Sprintf("viewsync-version:%s", version.Version),
		fmt.Sprintf("run-id:%s", runID),
	}
	if agentV != "" {
		tags = append(tags, fmt.Sprintf("agent-version:%s", agentV))
	}

	dataCopy := map[string]interface{}{
		"ddsource": src,
		"ddtags":   strings.Join(tags, ","),
	}
	for k, v := range entry.Data {
		dataCopy[k] = v
	}

	// Copy the entry so that we don't modify the caller's Data.
	entryCopy := *entry
	entryCopy.Data = dataCopy

	// The intake doesn't have a concept of "panic" level, so we treat panics
	// as fatal errors.
	if entry.Level == logrus.PanicLevel {
		entryCopy.Level = logrus.FatalLevel
	}

	jsonBytes, err := formatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Debug("Failed to marshal log entry for analytics")
		return nil
	}

	resp, err := httpPost(url, contentType, bytes.NewReader(jsonBytes))
	if err != nil {
		logrus.WithError(err).Debug("Failed to update analytics")
	} else {
		// Close the body to avoid leaking resources.
		resp.Body.Close()
	}

	// Never return an error because doing so causes the error to be printed
	// directly to `stderr`.
	return nil
}
