// Package status reduces daemon, key and session events into a single
// connectivity state that can be shown to the user.
package status

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// State is the overall connectivity state.
type State string

const (
	// Offline means that the daemon isn't running, or can't reach the sync
	// host.
	Offline State = "offline"

	// Starting means that sessions are being set up, or aren't all running.
	Starting State = "starting"

	// CreatingKey means that the SSH key is being generated.
	CreatingKey State = "creating-ssh-key"

	// UploadingKey means that the SSH key is being authorized.
	UploadingKey State = "uploading-ssh-key"

	// Online means that every session is syncing.
	Online State = "online"
)

// Runner is anything that can tell whether it's making progress.
type Runner interface {
	IsRunning() bool
}

// Aggregator tracks the current State. Its methods are safe to call from any
// goroutine.
type Aggregator struct {
	log logrus.FieldLogger

	lock      sync.Mutex
	state     State
	observers map[int]func(State)
	nextID    int
}

// New creates an Aggregator in the Starting state.
func New(log logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		log:       log.WithField("component", "status"),
		state:     Starting,
		observers: map[int]func(State){},
	}
}

// State returns the current state.
func (a *Aggregator) State() State {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.state
}

// Subscribe calls `fn` on every state change until the returned function is
// called.
func (a *Aggregator) Subscribe(fn func(State)) (unsubscribe func()) {
	a.lock.Lock()
	defer a.lock.Unlock()

	id := a.nextID
	a.nextID++
	a.observers[id] = fn
	return func() {
		a.lock.Lock()
		delete(a.observers, id)
		a.lock.Unlock()
	}
}

func (a *Aggregator) set(state State) {
	a.lock.Lock()
	if a.state == state {
		a.lock.Unlock()
		return
	}

	a.log.WithField("from", a.state).WithField("to", state).Debug("Status changed")
	a.state = state
	observers := make([]func(State), 0, len(a.observers))
	for _, fn := range a.observers {
		observers = append(observers, fn)
	}
	a.lock.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

// DaemonReady is called when the daemon finished starting.
func (a *Aggregator) DaemonReady() { a.set(Starting) }

// DaemonFailedToStart is called when the daemon crashed while starting.
func (a *Aggregator) DaemonFailedToStart(err error) {
	a.log.WithError(err).Debug("Daemon failed to start")
	a.set(Offline)
}

// DaemonStopped is called when the daemon exits.
func (a *Aggregator) DaemonStopped() { a.set(Offline) }

// ConnectionDropped is called when the sync host refused a connection.
func (a *Aggregator) ConnectionDropped() { a.set(Offline) }

// KeyCreationBegin is called when a new SSH key is being generated.
func (a *Aggregator) KeyCreationBegin() { a.set(CreatingKey) }

// KeyUploadBegin is called when the new SSH key is being uploaded.
func (a *Aggregator) KeyUploadBegin() { a.set(UploadingKey) }

// KeyUploadDone is called once the new SSH key is usable.
func (a *Aggregator) KeyUploadDone() { a.set(Starting) }

// Reconciled is called once the sessions match the configuration.
func (a *Aggregator) Reconciled() { a.set(Online) }

// SessionsChanged is called with every session whenever one of them changes
// state. An empty set says nothing about connectivity, so it's ignored.
func (a *Aggregator) SessionsChanged(sessions []Runner) {
	if len(sessions) == 0 {
		return
	}

	for _, s := range sessions {
		if !s.IsRunning() {
			a.set(Starting)
			return
		}
	}
	a.set(Online)
}
