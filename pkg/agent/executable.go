// Package agent runs the external sync agent binary. Every process started
// through an Executable shares the same agent data directory and log sink, and
// is tracked so that it can be killed on shutdown.
package agent

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/jonboulle/clockwork"

	"github.com/sidkik/viewsync/pkg/errors"
)

const (
	// DataDirEnv points the agent at its data directory.
	DataDirEnv = "MUTAGEN_DATA_DIRECTORY"

	// DisableAutostartEnv stops agent commands from starting their own daemon.
	// The only daemon should be the one started by viewsync.
	DisableAutostartEnv = "MUTAGEN_DISABLE_AUTOSTART"

	// MinimumVersion is the oldest agent release that supports everything
	// viewsync relies on.
	MinimumVersion = "0.12.0"
)

// StreamMode controls where an output stream of a child process goes.
type StreamMode int

const (
	// Ignore sends the stream to the shared log sink.
	Ignore StreamMode = iota

	// Pipe makes the stream readable through the Process.
	Pipe
)

// Stdio selects the mode of each output stream.
type Stdio struct {
	Stdout, Stderr StreamMode
}

// Options configure a single agent invocation.
type Options struct {
	Stdio Stdio

	// Timeout kills the process if it runs longer. Zero means no timeout.
	Timeout time.Duration
}

// Executable is a handle on the agent binary.
type Executable struct {
	path    string
	dataDir string
	log     io.Writer
	clock   clockwork.Clock

	lock    sync.Mutex
	running map[*Process]struct{}
}

// New creates an Executable for the agent at `path`. Output that isn't piped
// is appended to `log`, which may be nil.
func New(path, dataDir string, log io.Writer) *Executable {
	if log == nil {
		log = ioutil.Discard
	}
	return &Executable{
		path:    path,
		dataDir: dataDir,
		log:     &syncWriter{w: log},
		clock:   clockwork.NewRealClock(),
		running: map[*Process]struct{}{},
	}
}

// DataDir returns the agent's data directory.
func (e *Executable) DataDir() string {
	return e.dataDir
}

// Log returns the log sink shared by all processes of this Executable. It's
// safe for concurrent use.
func (e *Executable) Log() io.Writer {
	return e.log
}

// Spawn starts the agent with the given arguments. The caller is responsible
// for reading any piped streams until EOF, and closing them.
func (e *Executable) Spawn(args []string, opts Options) (*Process, error) {
	cmd := exec.Command(e.path, args...)
	cmd.Env = e.environ()

	// Keep the agent out of our process group so that a Ctrl-C in the
	// terminal doesn't kill it before we get to clean up.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Process{
		args: args,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var parentEnds, childEnds []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			f.Close()
		}
	}
	stream := func(mode StreamMode) (*os.File, io.Writer, error) {
		if mode != Pipe {
			return nil, e.log, nil
		}

		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		parentEnds = append(parentEnds, r)
		childEnds = append(childEnds, w)
		return r, w, nil
	}

	stdout, childStdout, err := stream(opts.Stdio.Stdout)
	if err != nil {
		return nil, errors.WithContext(err, "create stdout pipe")
	}
	stderr, childStderr, err := stream(opts.Stdio.Stderr)
	if err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		return nil, errors.WithContext(err, "create stderr pipe")
	}
	cmd.Stdout = childStdout
	cmd.Stderr = childStderr

	if err := cmd.Start(); err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		return nil, errors.WithContext(err, "start")
	}

	// The child has its own copies now. Ours have to be closed, otherwise the
	// readers never see EOF.
	closeAll(childEnds)
	if stdout != nil {
		p.Stdout = stdout
	}
	if stderr != nil {
		p.Stderr = stderr
	}

	e.track(p)
	go func() {
		p.finish(cmd.Wait())
		e.untrack(p)
		close(p.done)
	}()
	return p, nil
}

// Execute starts the agent, and kills it if `ctx` is cancelled or the
// timeout in `opts` expires before it exits.
func (e *Executable) Execute(ctx context.Context, args []string, opts Options) (*Process, error) {
	p, err := e.Spawn(args, opts)
	if err != nil {
		return nil, err
	}

	go func() {
		var timeout <-chan time.Time
		if opts.Timeout > 0 {
			timeout = e.clock.After(opts.Timeout)
		}

		select {
		case <-p.done:
		case <-ctx.Done():
			p.Kill()
		case <-timeout:
			p.timedOut.Store(true)
			p.Kill()
		}
	}()
	return p, nil
}

// Run executes the agent and waits for it to exit. Output goes to the log
// sink unless `opts` pipes it, in which case it's discarded.
func (e *Executable) Run(ctx context.Context, opts Options, args ...string) error {
	p, err := e.Execute(ctx, args, opts)
	if err != nil {
		return err
	}

	for _, r := range []io.ReadCloser{p.Stdout, p.Stderr} {
		if r != nil {
			go func(r io.ReadCloser) {
				io.Copy(ioutil.Discard, r)
				r.Close()
			}(r)
		}
	}

	if err := p.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Output executes the agent and returns its stdout. Stderr goes to the log
// sink.
func (e *Executable) Output(ctx context.Context, args ...string) ([]byte, error) {
	p, err := e.Execute(ctx, args, Options{Stdio: Stdio{Stdout: Pipe}})
	if err != nil {
		return nil, err
	}

	out, readErr := ioutil.ReadAll(p.Stdout)
	p.Stdout.Close()
	if err := p.Wait(); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, err
	}
	if readErr != nil {
		return out, errors.WithContext(readErr, "read stdout")
	}
	return out, nil
}

// Abort kills every process that's still running.
func (e *Executable) Abort() {
	e.lock.Lock()
	defer e.lock.Unlock()

	for p := range e.running {
		p.Kill()
	}
}

// Running returns the number of processes that haven't exited yet.
func (e *Executable) Running() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.running)
}

func (e *Executable) track(p *Process) {
	e.lock.Lock()
	e.running[p] = struct{}{}
	e.lock.Unlock()
}

func (e *Executable) untrack(p *Process) {
	e.lock.Lock()
	delete(e.running, p)
	e.lock.Unlock()
}

// environ returns the parent's environment with the agent variables appended.
// exec keeps the last value of duplicated keys, so ours take precedence over
// inherited ones.
func (e *Executable) environ() []string {
	return append(os.Environ(),
		DataDirEnv+"="+e.dataDir,
		DisableAutostartEnv+"=1")
}

// Version returns the version reported by the agent.
func (e *Executable) Version(ctx context.Context) (*goversion.Version, error) {
	out, err := e.Output(ctx, "version")
	if err != nil {
		return nil, errors.WithContext(err, "run version")
	}

	version, err := goversion.NewVersion(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, errors.WithContext(err, "parse version")
	}
	return version, nil
}

// CheckVersion returns the agent's version, or an error if it's older than
// MinimumVersion.
func (e *Executable) CheckVersion(ctx context.Context) (*goversion.Version, error) {
	version, err := e.Version(ctx)
	if err != nil {
		return nil, err
	}

	if version.LessThan(goversion.Must(goversion.NewVersion(MinimumVersion))) {
		return nil, errors.NewFriendlyError("The sync agent at %q is too old "+
			"(version %s). Please upgrade it to at least %s.",
			e.path, version, MinimumVersion)
	}
	return version, nil
}

type syncWriter struct {
	lock sync.Mutex
	w    io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.w.Write(p)
}
