package fswatch

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, ".viewsync.yaml")
	other := filepath.Join(dir, "other")

	changes, closer, err := Watch(config)
	require.NoError(t, err)
	defer closer.Close()

	// Changes to other files in the directory are ignored.
	require.NoError(t, ioutil.WriteFile(other, []byte("unrelated"), 0644))
	select {
	case <-changes:
		t.Fatal("unexpected event for unwatched file")
	case <-time.After(200 * time.Millisecond):
	}

	// Creating the file triggers an event, even though it didn't exist when
	// the watch started.
	require.NoError(t, ioutil.WriteFile(config, []byte("views: []"), 0644))
	assertEvent(t, changes)

	// So does replacing it.
	tmp := config + ".tmp"
	require.NoError(t, ioutil.WriteFile(tmp, []byte("views: [{}]"), 0644))
	drain(changes)
	require.NoError(t, os.Rename(tmp, config))
	assertEvent(t, changes)
}

func TestWatchMissingDirectory(t *testing.T) {
	_, _, err := Watch(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.Error(t, err)
}

func TestCombineUpdates(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event, 1024)
	addEvents := func(num int) {
		for i := 0; i < num; i++ {
			updates <- fsnotify.Event{}
		}
	}

	// Seed with events.
	numUpdates := 100
	addEvents(numUpdates)
	combined := combineUpdates(updates)

	// Assert that the events are being combined.
	numCombined := countEvents(combined)
	assert.True(t, numCombined < numUpdates,
		"expected less combined events (%d) than %d", numCombined, numUpdates)

	// Closing the input closes the output.
	close(updates)
	for range combined {
	}
}

func assertEvent(t *testing.T, c <-chan struct{}) {
	select {
	case <-c:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func drain(c <-chan struct{}) {
	for {
		select {
		case <-c:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func countEvents(c chan struct{}) (n int) {
	// Block until the first event.
	<-c
	n++

	// Count the number of events until there hasn't been any new events in 500
	// milliseconds.
	for {
		select {
		case <-c:
			n++
		case <-time.After(500 * time.Millisecond):
			return n
		}
	}
}
