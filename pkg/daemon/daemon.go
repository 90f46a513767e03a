// Package daemon manages the agent's long-running daemon process, and turns
// its output into events.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/errors"
)

// fs is overridden by afero.NewMemMapFs() in the tests.
var fs = afero.NewOsFs()

const (
	// minDataDirLength guards DeleteDataDirectory against wiping something
	// like "/" or "~" because of a configuration mistake.
	minDataDirLength = 10

	// drainTimeout bounds how long we wait for buffered output after the
	// daemon exits. Children of the daemon may keep the pipes open.
	drainTimeout = time.Second

	maxLineLength = 1024 * 1024
)

// Daemon controls the agent daemon. At most one daemon process runs at a
// time.
type Daemon struct {
	listeners

	exe *agent.Executable
	log logrus.FieldLogger

	lock    sync.Mutex
	current *run
}

// run is a single daemon process.
type run struct {
	proc    *agent.Process
	ready   chan struct{}
	drained chan struct{}
	exited  chan struct{}

	// err is set before exited is closed.
	err error
}

// processExited returns whether the daemon process is gone. Its output may
// still be draining.
func (r *run) processExited() bool {
	select {
	case <-r.proc.Done():
		return true
	default:
		return false
	}
}

func (r *run) isReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// New creates a stopped Daemon.
func New(exe *agent.Executable, log logrus.FieldLogger) *Daemon {
	return &Daemon{
		exe: exe,
		log: log.WithField("component", "daemon"),
	}
}

// Start starts the daemon, and blocks until it's ready to accept commands.
// If the daemon is already starting or running, it just waits for it to be
// ready.
func (d *Daemon) Start(ctx context.Context) error {
	d.lock.Lock()
	r := d.current
	for r != nil && r.processExited() {
		// The previous daemon is dead, but its exit hasn't been reported
		// yet. Wait for that so that its events don't interleave with the
		// new daemon's.
		d.lock.Unlock()
		select {
		case <-r.exited:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.lock.Lock()
		r = d.current
	}

	if r == nil {
		var err error
		r, err = d.spawn()
		if err != nil {
			d.lock.Unlock()
			return errors.WithContext(err, "spawn daemon")
		}
		d.current = r
	}
	d.lock.Unlock()

	select {
	case <-r.ready:
		return nil
	case <-r.exited:
		if r.isReady() {
			return nil
		}
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) spawn() (*run, error) {
	d.log.Info("Starting daemon")
	proc, err := d.exe.Spawn([]string{"daemon", "run"}, agent.Options{
		Stdio: agent.Stdio{Stdout: agent.Pipe, Stderr: agent.Pipe},
	})
	if err != nil {
		return nil, err
	}

	r := &run{
		proc:    proc,
		ready:   make(chan struct{}),
		drained: make(chan struct{}),
		exited:  make(chan struct{}),
	}

	lines := make(chan string, 64)
	var readers sync.WaitGroup
	for _, stream := range []io.ReadCloser{proc.Stdout, proc.Stderr} {
		readers.Add(1)
		go func(stream io.ReadCloser) {
			defer readers.Done()
			d.readLines(stream, lines)
		}(stream)
	}
	go func() {
		readers.Wait()
		close(lines)
	}()

	go d.dispatch(r, lines)
	go d.watch(r)
	return r, nil
}

func (d *Daemon) readLines(stream io.ReadCloser, lines chan<- string) {
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		d.log.WithError(err).Warn("Failed to read daemon output")
	}
}

// dispatch mirrors the daemon's output to the log sink, and emits the events
// it contains.
func (d *Daemon) dispatch(r *run, lines <-chan string) {
	defer close(r.drained)

	for line := range lines {
		fmt.Fprintln(d.exe.Log(), line)

		event, ok := ParseLine(line)
		if !ok {
			continue
		}

		if event.Kind == Ready {
			// Listeners hear about the daemon before Start returns.
			if !r.isReady() {
				d.log.Info("Daemon is ready")
				d.emit(event)
				d.emit(Event{Kind: RunningChanged, Running: true})
				close(r.ready)
			}
			continue
		}
		d.emit(event)
	}
}

func (d *Daemon) watch(r *run) {
	r.proc.Wait()

	select {
	case <-r.drained:
	case <-time.After(drainTimeout):
		d.log.Debug("Timed out waiting for daemon output to drain")
	}

	d.lock.Lock()
	if d.current == r {
		d.current = nil
	}
	d.lock.Unlock()

	if r.isReady() {
		d.log.WithField("exitCode", r.proc.ExitCode()).Info("Daemon exited")
		d.emit(Event{Kind: RunningChanged, Running: false})
	} else {
		r.err = errors.DaemonStartError{ExitCode: r.proc.ExitCode()}
		d.log.WithError(r.err).Warn("Daemon exited before it was ready")
		d.emit(Event{Kind: FailedToStart, Err: r.err})
	}
	close(r.exited)
}

// Stop gracefully stops the daemon, and waits for it to exit. It's a no-op
// if the daemon isn't running.
func (d *Daemon) Stop() error {
	return d.signal(syscall.SIGTERM)
}

// Kill forcefully stops the daemon, and waits for it to exit.
func (d *Daemon) Kill() error {
	return d.signal(syscall.SIGKILL)
}

func (d *Daemon) signal(sig syscall.Signal) error {
	d.lock.Lock()
	r := d.current
	d.lock.Unlock()

	if r == nil {
		return nil
	}

	d.log.WithField("signal", sig).Info("Stopping daemon")
	if err := r.proc.Signal(sig); err != nil {
		return errors.WithContext(err, "signal")
	}
	<-r.exited
	return nil
}

// Restart stops the daemon and starts it again.
func (d *Daemon) Restart(ctx context.Context) error {
	if err := d.Stop(); err != nil {
		return errors.WithContext(err, "stop")
	}
	return d.Start(ctx)
}

// IsRunning returns whether a daemon process exists.
func (d *Daemon) IsRunning() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.current != nil && !d.current.processExited()
}

// DeleteDataDirectory removes all state persisted by the daemon. The daemon
// must be stopped.
func (d *Daemon) DeleteDataDirectory() error {
	if d.IsRunning() {
		return errors.New("refusing to delete data directory while the daemon is running")
	}

	dir := d.exe.DataDir()
	if len(dir) < minDataDirLength {
		return errors.ErrDataDirTooShort
	}

	d.log.WithField("path", dir).Info("Deleting daemon data directory")
	if err := fs.RemoveAll(dir); err != nil {
		return errors.WithContext(err, "remove")
	}
	return nil
}
