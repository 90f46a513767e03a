package daemon

// SessionState is the state of a sync session, as reported by the agent.
type SessionState string

// The states a session goes through. Unknown is used until the first
// transition is observed.
const (
	Unknown                SessionState = "Unknown"
	Disconnected           SessionState = "Disconnected"
	ConnectingAlpha        SessionState = "ConnectingAlpha"
	ConnectingBeta         SessionState = "ConnectingBeta"
	Watching               SessionState = "Watching"
	Scanning               SessionState = "Scanning"
	WaitingForRescan       SessionState = "WaitingForRescan"
	Reconciling            SessionState = "Reconciling"
	StagingAlpha           SessionState = "StagingAlpha"
	StagingBeta            SessionState = "StagingBeta"
	Transitioning          SessionState = "Transitioning"
	Saving                 SessionState = "Saving"
	HaltedOnRootEmptied    SessionState = "HaltedOnRootEmptied"
	HaltedOnRootDeletion   SessionState = "HaltedOnRootDeletion"
	HaltedOnRootTypeChange SessionState = "HaltedOnRootTypeChange"
)

// IsRunning returns whether a session in this state is making progress.
func (s SessionState) IsRunning() bool {
	switch s {
	case Unknown, Disconnected, ConnectingAlpha, ConnectingBeta,
		HaltedOnRootEmptied, HaltedOnRootDeletion, HaltedOnRootTypeChange:
		return false
	}
	return true
}
