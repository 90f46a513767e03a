package agent

import (
	"io"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/sidkik/viewsync/pkg/errors"
)

// Process is a running agent process.
type Process struct {
	// Stdout and Stderr are only set for piped streams.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	args     []string
	cmd      *exec.Cmd
	timedOut atomic.Bool

	done     chan struct{}
	exitCode int
	err      error
}

// Done is closed once the process exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits. It returns nil if the process exited
// with status 0, and a CommandError otherwise.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// ExitCode returns the exit code of the process, or -1 if it hasn't exited or
// was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Signal sends `sig` to the process and all of its children. It's a no-op if
// the process already exited.
func (p *Process) Signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// Kill forcefully stops the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

func (p *Process) finish(waitErr error) {
	p.exitCode = -1
	if state := p.cmd.ProcessState; state != nil {
		p.exitCode = state.ExitCode()
	}

	switch {
	case p.timedOut.Load() || p.exitCode != 0:
		p.err = errors.CommandError{
			Command:  p.args,
			ExitCode: p.exitCode,
			TimedOut: p.timedOut.Load(),
		}
	case waitErr != nil:
		p.err = errors.WithContext(waitErr, "wait")
	}
}
