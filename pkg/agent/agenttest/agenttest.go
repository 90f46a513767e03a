// Package agenttest builds fake agent binaries for tests.
package agenttest

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

// Script writes a shell script with the given body to a temporary directory
// and returns its path. The script receives the agent arguments as "$@".
func Script(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agent")
	if err := ioutil.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write fake agent: %s", err)
	}
	return path
}
