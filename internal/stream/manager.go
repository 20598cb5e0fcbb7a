// Package stream owns the live viewing surfaces: the registry tracking which
// session is being watched over which transport, the MJPEG multipart producer
// and the frame capture they share. Stream frames bypass the plugin chain so
// watching a session never advances its pacing or retry counters.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
)

// Kind names a streaming transport.
type Kind string

const (
	KindMJPEG  Kind = "mjpeg"
	KindWebRTC Kind = "webrtc"
)

// Entry is one registered viewer. Cancel tears the producer down.
type Entry struct {
	Key      model.Key
	Kind     Kind
	Started  time.Time
	LastBeat time.Time

	cancel func()
}

// Manager tracks at most one entry per transport per session. Entries are
// kept alive by session heartbeats and by frame production; the sweeper
// expires the rest.
type Manager struct {
	mu      sync.Mutex
	entries map[model.Key]map[Kind]*Entry

	alive  func(model.Key) bool
	clock  func() time.Time
	logger zerolog.Logger
}

// NewManager builds the registry and subscribes it to pool lifecycle events:
// a released session drops its entries, a heartbeat refreshes them.
func NewManager(p *pool.Pool, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{
		entries: map[model.Key]map[Kind]*Entry{},
		alive:   p.Has,
		clock:   clock,
		logger:  log.WithComponent("stream"),
	}
	p.OnRelease(m.DropAll)
	p.OnHeartbeat(m.Touch)
	return m
}

// Register records a viewer for key over kind. A previous entry on the same
// transport is cancelled and replaced; the newest viewer wins.
func (m *Manager) Register(key model.Key, kind Kind, cancel func()) *Entry {
	now := m.clock()
	e := &Entry{Key: key, Kind: kind, Started: now, LastBeat: now, cancel: cancel}

	m.mu.Lock()
	byKind := m.entries[key]
	if byKind == nil {
		byKind = map[Kind]*Entry{}
		m.entries[key] = byKind
	}
	old := byKind[kind]
	byKind[kind] = e
	m.mu.Unlock()

	if old != nil {
		m.logger.Info().
			Str(log.FieldSessionKey, key.String()).
			Str(log.FieldStreamKind, string(kind)).
			Msg("replacing live-stream entry")
		old.stop()
	}
	m.refreshGauges()
	return e
}

// Unregister removes one entry. Removing an already replaced or absent entry
// is a no-op.
func (m *Manager) Unregister(key model.Key, kind Kind) {
	m.mu.Lock()
	var old *Entry
	if byKind := m.entries[key]; byKind != nil {
		old = byKind[kind]
		delete(byKind, kind)
		if len(byKind) == 0 {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()

	if old != nil {
		old.stop()
	}
	m.refreshGauges()
}

// Remove drops e only if it is still the registered entry, so a producer
// shutting down cannot evict the viewer that replaced it.
func (m *Manager) Remove(e *Entry) {
	m.mu.Lock()
	if byKind := m.entries[e.Key]; byKind != nil && byKind[e.Kind] == e {
		delete(byKind, e.Kind)
		if len(byKind) == 0 {
			delete(m.entries, e.Key)
		}
	}
	m.mu.Unlock()

	e.stop()
	m.refreshGauges()
}

// DropAll removes every entry for key.
func (m *Manager) DropAll(key model.Key) {
	m.mu.Lock()
	byKind := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()

	for _, e := range byKind {
		e.stop()
	}
	if len(byKind) > 0 {
		m.refreshGauges()
	}
}

// Touch refreshes the heartbeat on every entry for key.
func (m *Manager) Touch(key model.Key) {
	now := m.clock()
	m.mu.Lock()
	for _, e := range m.entries[key] {
		e.LastBeat = now
	}
	m.mu.Unlock()
}

// Expire drops entries whose owning session is gone or whose heartbeat is
// older than timeout. The sweeper calls this once per pass.
func (m *Manager) Expire(now time.Time, timeout time.Duration) int {
	var victims []*Entry

	m.mu.Lock()
	for key, byKind := range m.entries {
		dead := !m.alive(key)
		for kind, e := range byKind {
			if dead || (timeout > 0 && now.Sub(e.LastBeat) > timeout) {
				victims = append(victims, e)
				delete(byKind, kind)
			}
		}
		if len(byKind) == 0 {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()

	for _, e := range victims {
		m.logger.Info().
			Str(log.FieldSessionKey, e.Key.String()).
			Str(log.FieldStreamKind, string(e.Kind)).
			Msg("expiring live-stream entry")
		e.stop()
	}
	if len(victims) > 0 {
		m.refreshGauges()
	}
	return len(victims)
}

// Snapshot lists the registered entries for the admin surface.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, byKind := range m.entries {
		for _, e := range byKind {
			out = append(out, *e)
		}
	}
	return out
}

func (m *Manager) refreshGauges() {
	counts := map[Kind]int{KindMJPEG: 0, KindWebRTC: 0}
	m.mu.Lock()
	for _, byKind := range m.entries {
		for kind := range byKind {
			counts[kind]++
		}
	}
	m.mu.Unlock()
	for kind, n := range counts {
		metrics.StreamsActive.WithLabelValues(string(kind)).Set(float64(n))
	}
}

func (e *Entry) stop() {
	if e.cancel != nil {
		e.cancel()
	}
}
