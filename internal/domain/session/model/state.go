package model

// LifecycleState is the session lifecycle state machine.
//
//	Initializing -> Active          driver ready
//	Active <-> Paused               StartManual / ResumeAutomation
//	Active -> Idle                  advisory, sweeper-driven
//	{Active, Idle, Paused} -> Terminating -> Terminated
type LifecycleState string

const (
	StateInitializing LifecycleState = "initializing"
	StateActive       LifecycleState = "active"
	StateIdle         LifecycleState = "idle"
	StatePaused       LifecycleState = "paused"
	StateTerminating  LifecycleState = "terminating"
	StateTerminated   LifecycleState = "terminated"
)

// IsTerminal reports whether the state admits no further transitions.
func (s LifecycleState) IsTerminal() bool {
	return s == StateTerminated
}

// CanDispatch reports whether page operations may reach the driver. Idle
// sessions are revived by the dispatch itself, so they count too.
func (s LifecycleState) CanDispatch() bool {
	switch s {
	case StateActive, StateIdle, StatePaused:
		return true
	default:
		return false
	}
}

// ReasonCode explains why a lifecycle transition happened.
type ReasonCode string

const (
	RNone             ReasonCode = ""
	RClientRelease    ReasonCode = "client_release"
	RHeartbeatTimeout ReasonCode = "heartbeat_timeout"
	RIdleTimeout      ReasonCode = "idle_timeout"
	RExpired          ReasonCode = "expired"
	RShutdown         ReasonCode = "shutdown"
	RDriverFailed     ReasonCode = "driver_failed"
)
