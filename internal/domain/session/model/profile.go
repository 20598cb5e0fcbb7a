package model

import (
	"encoding/json"
	"time"
)

// Profile is the fingerprint snapshot a session binds at creation. The
// Descriptor blob is consumed verbatim by the browser driver.
type Profile struct {
	ID            ProfileID       `json:"id"`
	Tenant        TenantID        `json:"tenant_id"`
	Platform      string          `json:"platform"`
	BrowserFamily string          `json:"browser_family"`
	ViewportW     int             `json:"viewport_w"`
	ViewportH     int             `json:"viewport_h"`
	Locale        string          `json:"locale"`
	Timezone      string          `json:"timezone"`
	Proxy         string          `json:"proxy,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	Descriptor    json.RawMessage `json:"descriptor,omitempty"`
}

// CleanupPolicy bounds how long an unobserved session may live.
type CleanupPolicy struct {
	MaxIdle        time.Duration `json:"max_idle"`
	MaxNoHeartbeat time.Duration `json:"max_no_heartbeat"`
	SweepInterval  time.Duration `json:"sweep_interval"`
}

// DefaultCleanupPolicy returns the production defaults.
func DefaultCleanupPolicy() CleanupPolicy {
	return CleanupPolicy{
		MaxIdle:        30 * time.Minute,
		MaxNoHeartbeat: 60 * time.Second,
		SweepInterval:  5 * time.Minute,
	}
}

// Normalize fills zero fields from the defaults.
func (p CleanupPolicy) Normalize() CleanupPolicy {
	def := DefaultCleanupPolicy()
	if p.MaxIdle <= 0 {
		p.MaxIdle = def.MaxIdle
	}
	if p.MaxNoHeartbeat <= 0 {
		p.MaxNoHeartbeat = def.MaxNoHeartbeat
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = def.SweepInterval
	}
	return p
}
