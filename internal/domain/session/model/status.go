package model

import "time"

// SessionStatus is a point-in-time snapshot for admin reads and the sweeper.
type SessionStatus struct {
	Key           Key            `json:"key"`
	State         LifecycleState `json:"state"`
	ManualMode    bool           `json:"manual_mode"`
	Priority      Priority       `json:"priority"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at,omitzero"`
	LastActivity  time.Time      `json:"last_activity"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	ManualSince   time.Time      `json:"manual_since,omitzero"`
	Clients       []string       `json:"clients,omitempty"`
	Plugins       []string       `json:"plugins,omitempty"`
	Headless      bool           `json:"headless"`
}

// HeartbeatAck is the response contract for a heartbeat.
type HeartbeatAck struct {
	ServerTime    time.Time      `json:"server_time"`
	NextInterval  time.Duration  `json:"next_interval"`
	ActiveClients int            `json:"active_clients"`
	State         LifecycleState `json:"state"`
}

// ManualRequest asks for interactive control of a session.
type ManualRequest struct {
	Priority    Priority      `json:"priority"`
	Reason      string        `json:"reason,omitempty"`
	EstDuration time.Duration `json:"estimated_duration,omitempty"`
}

// ManualResult reports the outcome of StartManual.
type ManualResult struct {
	Granted  bool      `json:"granted"`
	Priority Priority  `json:"priority"`
	Since    time.Time `json:"since"`
}

// ResumeRequest asks to return a session to autonomous operation.
type ResumeRequest struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResumeResult reports the outcome of ResumeAutomation.
type ResumeResult struct {
	Resumed  bool          `json:"resumed"`
	Duration time.Duration `json:"manual_duration"`
}

// PoolStats aggregates pool-wide counts for the admin surface.
type PoolStats struct {
	Total          int                    `json:"total"`
	ByState        map[LifecycleState]int `json:"by_state"`
	ManualSessions int                    `json:"manual_sessions"`
	Clients        int                    `json:"clients"`
	SweepInterval  time.Duration          `json:"sweep_interval"`
}
