package agent

import (
	"bytes"
	"context"
	"io/ioutil"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/viewsync/pkg/agent/agenttest"
	"github.com/sidkik/viewsync/pkg/errors"
)

const fakeAgent = `
case "$1" in
env)
	echo "$MUTAGEN_DATA_DIRECTORY $MUTAGEN_DISABLE_AUTOSTART"
	;;
noisy)
	echo "to stdout"
	echo "to stderr" >&2
	;;
fail)
	exit 3
	;;
sleep)
	sleep 30
	;;
version)
	echo "$FAKE_AGENT_VERSION"
	;;
esac
`

func newTestExecutable(t *testing.T) (*Executable, *bytes.Buffer) {
	var log bytes.Buffer
	return New(agenttest.Script(t, fakeAgent), "/tmp/viewsync-data", &log), &log
}

func TestEnvironment(t *testing.T) {
	// The agent variables win over the ones inherited from the parent.
	t.Setenv(DataDirEnv, "/somewhere/else")
	t.Setenv(DisableAutostartEnv, "0")

	exe, _ := newTestExecutable(t)
	out, err := exe.Output(context.Background(), "env")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/viewsync-data 1\n", string(out))
}

func TestUnpipedOutputGoesToLog(t *testing.T) {
	exe, log := newTestExecutable(t)
	require.NoError(t, exe.Run(context.Background(), Options{}, "noisy"))

	assert.Contains(t, log.String(), "to stdout\n")
	assert.Contains(t, log.String(), "to stderr\n")
}

func TestPipedStderr(t *testing.T) {
	exe, log := newTestExecutable(t)
	p, err := exe.Spawn([]string{"noisy"}, Options{Stdio: Stdio{Stderr: Pipe}})
	require.NoError(t, err)
	assert.Nil(t, p.Stdout)

	stderr, err := ioutil.ReadAll(p.Stderr)
	require.NoError(t, err)
	require.NoError(t, p.Wait())

	assert.Equal(t, "to stderr\n", string(stderr))
	assert.Equal(t, "to stdout\n", log.String())
}

func TestExitCode(t *testing.T) {
	exe, _ := newTestExecutable(t)
	err := exe.Run(context.Background(), Options{}, "fail")
	assert.Equal(t, errors.CommandError{
		Command:  []string{"fail"},
		ExitCode: 3,
	}, err)
	assert.Equal(t, 0, exe.Running())
}

func TestMissingBinary(t *testing.T) {
	exe := New("/does/not/exist", "/tmp/viewsync-data", nil)
	_, err := exe.Spawn([]string{"version"}, Options{})
	assert.Error(t, err)
	assert.Equal(t, 0, exe.Running())
}

func TestTimeout(t *testing.T) {
	exe, _ := newTestExecutable(t)
	clock := clockwork.NewFakeClock()
	exe.clock = clock

	p, err := exe.Execute(context.Background(), []string{"sleep"}, Options{Timeout: 10 * time.Second})
	require.NoError(t, err)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	err = p.Wait()
	var cmdErr errors.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.True(t, cmdErr.TimedOut)
}

func TestContextCancel(t *testing.T) {
	exe, _ := newTestExecutable(t)
	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error)
	go func() {
		errChan <- exe.Run(ctx, Options{}, "sleep")
	}()

	assert.Eventually(t, func() bool { return exe.Running() == 1 },
		5*time.Second, 10*time.Millisecond)
	cancel()
	assert.Equal(t, context.Canceled, <-errChan)
}

func TestAbort(t *testing.T) {
	exe, _ := newTestExecutable(t)

	var procs []*Process
	for i := 0; i < 3; i++ {
		p, err := exe.Spawn([]string{"sleep"}, Options{})
		require.NoError(t, err)
		procs = append(procs, p)
	}
	assert.Equal(t, 3, exe.Running())

	exe.Abort()
	for _, p := range procs {
		assert.Error(t, p.Wait())
		assert.Equal(t, -1, p.ExitCode())
	}
	assert.Equal(t, 0, exe.Running())

	// Aborting with nothing running is fine.
	exe.Abort()
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		expError bool
	}{
		{"Current", "0.17.2", false},
		{"Minimum", MinimumVersion, false},
		{"TooOld", "0.11.8", true},
		{"Garbage", "not-a-version", true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Setenv("FAKE_AGENT_VERSION", test.version)

			exe, _ := newTestExecutable(t)
			_, err := exe.CheckVersion(context.Background())
			if test.expError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
