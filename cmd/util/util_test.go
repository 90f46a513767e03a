package util

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/viewsync/pkg/errors"
)

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expOut string
	}{
		{
			name:   "FriendlyError",
			err:    errors.NewFriendlyError("Please run `viewsync login` first."),
			expOut: "Please run `viewsync login` first.\n",
		},
		{
			name:   "WrappedFriendlyError",
			err:    errors.WithContext(errors.NewFriendlyError("friendly"), "start"),
			expOut: "friendly\n",
		},
		{
			name:   "PlainError",
			err:    errors.WithContext(errors.New("exec: not found"), "start daemon"),
			expOut: "Error: start daemon: exec: not found\n",
		},
	}

	defer func() {
		stderr = os.Stderr
		exit = os.Exit
	}()
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			var exitCode int
			stderr = &out
			exit = func(code int) { exitCode = code }

			HandleFatalError(test.err)
			assert.Equal(t, test.expOut, out.String())
			assert.Equal(t, 1, exitCode)
		})
	}
}

func TestHandlePanic(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() {
		defer HandlePanic()
		panic("boom")
	})
}
