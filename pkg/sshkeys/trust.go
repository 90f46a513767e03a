package sshkeys

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/viewsync/pkg/errors"
)

const defaultSSHPort = "22"

// keyscan fetches the host keys of the given host.
func keyscan(ctx context.Context, host, port string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "ssh-keyscan", "-p", port, host).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, errors.New("ssh-keyscan exited with status %d: %s",
				exitErr.ExitCode(), bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, errors.WithContext(err, "run ssh-keyscan")
	}
	return out, nil
}

func (m *Manager) trustSyncHost(ctx context.Context) error {
	port := m.config.SyncHost.Port()
	if port == "" {
		port = defaultSSHPort
	}

	out, err := m.keyscan(ctx, m.config.SyncHost.Hostname(), port)
	if err != nil {
		return err
	}
	return m.addKnownHosts(hostKeyLines(out))
}

// hostKeyLines returns the host keys in the output of ssh-keyscan.
func hostKeyLines(out []byte) (lines []string) {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// addKnownHosts appends the lines that aren't in the known hosts file yet.
func (m *Manager) addKnownHosts(lines []string) error {
	path := m.config.KnownHostsPath
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "create directory")
	}

	existing, err := afero.ReadFile(fs, path)
	if err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "read")
	}

	present := map[string]struct{}{}
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = struct{}{}
	}

	var toAdd bytes.Buffer
	if len(existing) != 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		toAdd.WriteString("\n")
	}

	var added int
	for _, line := range lines {
		if _, ok := present[line]; ok {
			continue
		}
		present[line] = struct{}{}
		toAdd.WriteString(line + "\n")
		added++
	}

	if added != 0 {
		if err := appendFile(path, toAdd.Bytes()); err != nil {
			return errors.WithContext(err, "append")
		}
		m.log.WithField("count", added).Info("Added sync host keys to known hosts")
	}

	m.stripGroupWrite(dir)
	m.stripGroupWrite(path)
	return nil
}

func appendFile(path string, contents []byte) error {
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// stripGroupWrite removes the group and world write bits, which make ssh
// refuse to use the file.
func (m *Manager) stripGroupWrite(path string) {
	info, err := fs.Stat(path)
	if err != nil {
		m.log.WithError(err).WithField("path", path).Debug("Failed to stat")
		return
	}

	mode := info.Mode().Perm()
	if mode&0022 == 0 {
		return
	}

	if err := fs.Chmod(path, mode&^0022); err != nil {
		m.log.WithError(err).WithField("path", path).Warn("Failed to fix file mode")
	}
}
