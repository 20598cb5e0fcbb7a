// Package model defines the core entities of the browser session domain:
// session keys, lifecycle states, priorities, plugin configurations and the
// command vocabulary shared by the pool, dispatcher and transport layers.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TenantID scopes every other identifier. It is minted by the transport
// layer's auth, never by the core.
type TenantID int64

// ProfileID identifies a fingerprint profile within a tenant.
type ProfileID int64

// Key identifies at most one live browser session at any time.
type Key struct {
	Tenant  TenantID  `json:"tenant"`
	Profile ProfileID `json:"profile"`
}

// String renders the key in its canonical "tenant:profile" form.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Tenant, k.Profile)
}

// ParseKey parses the canonical "tenant:profile" form.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Key{}, fmt.Errorf("invalid session key %q", s)
	}
	tenant, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid tenant in key %q: %w", s, err)
	}
	profile, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid profile in key %q: %w", s, err)
	}
	return Key{Tenant: TenantID(tenant), Profile: ProfileID(profile)}, nil
}
