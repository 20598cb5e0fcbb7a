// Package store persists fingerprint profiles and plugin configurations.
// The session core itself persists nothing; these are its read-side
// collaborators, backed by SQLite in production and memory in tests.
package store

import (
	"fmt"

	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// Store combines the two persistent collaborators of the session domain.
type Store interface {
	ports.FingerprintStore
	ports.PluginConfigStore
	Close() error
}

// Open creates a Store for the configured backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
