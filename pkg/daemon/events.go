package daemon

import "sync"

// EventKind identifies what happened in the daemon.
type EventKind int

const (
	// Ready is emitted once the daemon finished initializing.
	Ready EventKind = iota + 1

	// FailedToStart is emitted when the daemon exits before becoming ready.
	// Event.Err holds the DaemonStartError.
	FailedToStart

	// RunningChanged is emitted when a ready daemon starts or stops running.
	RunningChanged

	// ConnectionDropped is emitted when the sync host refuses connections.
	ConnectionDropped

	// SessionStateChanged is emitted when a session transitions between
	// states.
	SessionStateChanged
)

func (k EventKind) String() string {
	switch k {
	case Ready:
		return "ready"
	case FailedToStart:
		return "failed-to-start"
	case RunningChanged:
		return "running-changed"
	case ConnectionDropped:
		return "connection-dropped"
	case SessionStateChanged:
		return "session-state-changed"
	}
	return "unknown"
}

// Event is something that happened in the daemon.
type Event struct {
	Kind EventKind

	// Session, From and To are set for SessionStateChanged.
	Session  string
	From, To SessionState

	// Running is set for RunningChanged.
	Running bool

	// Err is set for FailedToStart.
	Err error
}

// Listener receives daemon events. Listeners are called synchronously from
// the goroutine reading the daemon's output, one event at a time, and must
// not block.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

type listeners struct {
	lock    sync.Mutex
	entries []listenerEntry
	nextID  int
}

// Subscribe registers `fn` for all future events. The returned function
// removes it again, and may be called more than once.
func (l *listeners) Subscribe(fn Listener) (unsubscribe func()) {
	l.lock.Lock()
	id := l.nextID
	l.nextID++
	l.entries = append(l.entries, listenerEntry{id, fn})
	l.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.lock.Lock()
			defer l.lock.Unlock()
			for i, entry := range l.entries {
				if entry.id == id {
					l.entries = append(l.entries[:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

// emit calls the listeners in the order they subscribed. The lock isn't held
// while calling them so that they can unsubscribe themselves.
func (l *listeners) emit(event Event) {
	l.lock.Lock()
	entries := make([]listenerEntry, len(l.entries))
	copy(entries, l.entries)
	l.lock.Unlock()

	for _, entry := range entries {
		entry.fn(event)
	}
}

func (l *listeners) count() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.entries)
}
