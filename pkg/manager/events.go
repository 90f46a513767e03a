package manager

import (
	"github.com/sidkik/viewsync/pkg/analytics"
	"github.com/sidkik/viewsync/pkg/daemon"
	"github.com/sidkik/viewsync/pkg/status"
)

func (m *Manager) onDaemonEvent(ev daemon.Event) {
	switch ev.Kind {
	case daemon.Ready:
		m.status.DaemonReady()
	case daemon.FailedToStart:
		analytics.Log.WithError(ev.Err).Error("Daemon failed to start")
		m.status.DaemonFailedToStart(ev.Err)
	case daemon.RunningChanged:
		if !ev.Running {
			m.status.DaemonStopped()
		}
	case daemon.ConnectionDropped:
		m.status.ConnectionDropped()
	case daemon.SessionStateChanged:
		m.status.SessionsChanged(m.statesAfter(ev))
	}
}

type runner bool

func (r runner) IsRunning() bool {
	return bool(r)
}

// statesAfter returns the sessions as they are once `ev` is applied. The
// sessions may not have received the event yet, so the new state of the
// session it names is taken from the event itself.
func (m *Manager) statesAfter(ev daemon.Event) []status.Runner {
	m.lock.Lock()
	defer m.lock.Unlock()

	runners := make([]status.Runner, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Name == ev.Session {
			runners = append(runners, runner(ev.To.IsRunning()))
		} else {
			runners = append(runners, s)
		}
	}
	return runners
}
