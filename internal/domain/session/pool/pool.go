package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
	"github.com/helmwind/browserpilot/internal/plugin"
)

// Options wires the pool's collaborators and policies.
type Options struct {
	Driver       ports.BrowserDriver
	Fingerprints ports.FingerprintStore
	Plugins      ports.PluginConfigStore
	Notifier     ports.NotificationDispatcher

	Policy        model.CleanupPolicy
	OpenTimeout   time.Duration // driver open bound, default 60s
	ReleaseGrace  time.Duration // in-flight wait on non-forced release, default 30s
	HeartbeatHint time.Duration // interval suggested to clients, default 30s

	// MaxProfiles caps fingerprint profiles per tenant; 0 disables the
	// create precheck.
	MaxProfiles int

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// CreateOptions shape one session.
type CreateOptions struct {
	Headless  bool
	Policy    *model.CleanupPolicy
	ExpiresIn time.Duration
}

// Pool is the authoritative registry of live sessions.
type Pool struct {
	mu       sync.RWMutex
	sessions map[model.Key]*Session
	closed   bool

	group singleflight.Group
	opts  Options

	obsMu       sync.RWMutex
	onRelease   []func(model.Key)
	onHeartbeat []func(model.Key)
}

// New builds an empty pool.
func New(opts Options) *Pool {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 60 * time.Second
	}
	if opts.ReleaseGrace <= 0 {
		opts.ReleaseGrace = 30 * time.Second
	}
	if opts.HeartbeatHint <= 0 {
		opts.HeartbeatHint = 30 * time.Second
	}
	opts.Policy = opts.Policy.Normalize()
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	return &Pool{
		sessions: map[model.Key]*Session{},
		opts:     opts,
	}
}

// OnRelease registers a callback fired after a session leaves the pool.
// Stream and WebRTC registries subscribe to tear their entries down.
func (p *Pool) OnRelease(fn func(model.Key)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onRelease = append(p.onRelease, fn)
}

// OnHeartbeat registers a callback fired after every accepted heartbeat.
func (p *Pool) OnHeartbeat(fn func(model.Key)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onHeartbeat = append(p.onHeartbeat, fn)
}

// Create builds the session for key, or returns the existing one. Concurrent
// creates for the same key collapse into a single driver open; nobody races
// past Initializing.
func (p *Pool) Create(ctx context.Context, key model.Key, opts CreateOptions) (*Session, error) {
	if s, err := p.lookup(key); err == nil {
		return s, nil
	}

	v, err, _ := p.group.Do(key.String(), func() (any, error) {
		// Re-check under the flight: a racing create may have won.
		if s, err := p.lookup(key); err == nil {
			return s, nil
		}
		return p.create(ctx, key, opts)
	})
	if err != nil {
		metrics.SessionCreates.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SessionCreates.WithLabelValues("ok").Inc()
	p.refreshGauges()
	return v.(*Session), nil
}

func (p *Pool) create(ctx context.Context, key model.Key, opts CreateOptions) (*Session, error) {
	logger := log.WithComponent("pool").With().
		Str(log.FieldSessionKey, key.String()).
		Logger()

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("pool shut down: %w", model.ErrSessionTerminated)
	}

	if p.opts.MaxProfiles > 0 {
		n, err := p.opts.Fingerprints.Count(ctx, key.Tenant)
		if err != nil {
			return nil, fmt.Errorf("profile quota check: %w", err)
		}
		if n > p.opts.MaxProfiles {
			return nil, fmt.Errorf("tenant %d holds %d profiles: %w", key.Tenant, n, model.ErrFingerprintLimit)
		}
	}

	profile, err := p.opts.Fingerprints.Load(ctx, key.Tenant, key.Profile)
	if err != nil {
		return nil, err
	}

	specs, err := p.opts.Plugins.LoadPlugins(ctx, key.Tenant, key.Profile)
	if err != nil {
		return nil, fmt.Errorf("load plugin configs: %w", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, p.opts.OpenTimeout)
	handle, err := p.opts.Driver.Open(openCtx, profile, opts.Headless)
	cancel()
	if err != nil {
		// No session is retained on driver failure.
		return nil, fmt.Errorf("%w: %v", model.ErrDriverOpenFailed, err)
	}

	policy := p.opts.Policy
	if opts.Policy != nil {
		policy = opts.Policy.Normalize()
	}

	now := p.opts.Clock()
	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		key:           key,
		profile:       profile,
		handle:        handle,
		specs:         specs,
		headless:      opts.Headless,
		policy:        policy,
		logger:        logger,
		clock:         p.opts.Clock,
		ctx:           sessCtx,
		cancel:        sessCancel,
		state:         model.StateInitializing,
		priority:      model.PriorityNormal,
		createdAt:     now,
		lastActivity:  now,
		lastHeartbeat: now,
		clients:       map[string]time.Time{},
	}
	if opts.ExpiresIn > 0 {
		s.expiresAt = now.Add(opts.ExpiresIn)
	}

	chain, err := plugin.Materialize(specs, plugin.Deps{
		Key:      key,
		Handle:   handle,
		Logger:   logger,
		Notifier: p.opts.Notifier,
	})
	if err != nil {
		sessCancel()
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
		_ = handle.Close(closeCtx)
		cancelClose()
		return nil, fmt.Errorf("materialize plugins: %w", err)
	}
	s.chain = chain

	s.mu.Lock()
	s.state = model.StateActive
	s.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = s.terminate(context.Background(), true, model.RShutdown)
		return nil, fmt.Errorf("pool shut down: %w", model.ErrSessionTerminated)
	}
	p.sessions[key] = s
	p.mu.Unlock()

	logger.Info().
		Bool("headless", opts.Headless).
		Strs("plugins", chain.Names()).
		Msg("session created")
	return s, nil
}

func (p *Pool) lookup(key model.Key) (*Session, error) {
	p.mu.RLock()
	s, ok := p.sessions[key]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", key, model.ErrSessionNotFound)
	}
	return s, nil
}

// Has reports whether a live session exists for key without bumping its
// activity clock.
func (p *Pool) Has(key model.Key) bool {
	_, err := p.lookup(key)
	return err == nil
}

// Get returns the live session for key and bumps lastActivity.
func (p *Pool) Get(key model.Key) (*Session, error) {
	s, err := p.lookup(key)
	if err != nil {
		return nil, err
	}
	s.Touch()
	return s, nil
}

// GetOrCreate collapses Get and Create.
func (p *Pool) GetOrCreate(ctx context.Context, key model.Key, opts CreateOptions) (*Session, error) {
	if s, err := p.lookup(key); err == nil {
		s.Touch()
		return s, nil
	}
	return p.Create(ctx, key, opts)
}

// Heartbeat registers a client beat. It never creates sessions.
func (p *Pool) Heartbeat(key model.Key, clientID string) (model.HeartbeatAck, error) {
	s, err := p.lookup(key)
	if err != nil {
		return model.HeartbeatAck{}, err
	}
	ack := s.Heartbeat(clientID, p.opts.HeartbeatHint)
	metrics.Heartbeats.Inc()

	p.obsMu.RLock()
	observers := p.onHeartbeat
	p.obsMu.RUnlock()
	for _, fn := range observers {
		fn(key)
	}
	return ack, nil
}

// Release terminates the session and removes it from the pool. force skips
// the in-flight wait.
func (p *Pool) Release(ctx context.Context, key model.Key, force bool, reason model.ReasonCode) error {
	s, err := p.lookup(key)
	if err != nil {
		return err
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if !force {
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.ReleaseGrace)
		defer cancel()
	}
	termErr := s.terminate(waitCtx, force, reason)

	p.mu.Lock()
	delete(p.sessions, key)
	p.mu.Unlock()

	metrics.SessionReleases.WithLabelValues(string(reason)).Inc()
	p.refreshGauges()

	p.obsMu.RLock()
	observers := p.onRelease
	p.obsMu.RUnlock()
	for _, fn := range observers {
		fn(key)
	}

	// Close failures are logged inside terminate; the entry is gone either
	// way to avoid orphan state.
	return termErr
}

// Snapshot returns a status snapshot of every live session.
func (p *Pool) Snapshot() []model.SessionStatus {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	out := make([]model.SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Stats aggregates pool-wide counts.
func (p *Pool) Stats() model.PoolStats {
	snap := p.Snapshot()
	stats := model.PoolStats{
		Total:         len(snap),
		ByState:       map[model.LifecycleState]int{},
		SweepInterval: p.opts.Policy.SweepInterval,
	}
	for _, s := range snap {
		stats.ByState[s.State]++
		if s.ManualMode {
			stats.ManualSessions++
		}
		stats.Clients += len(s.Clients)
	}
	return stats
}

// Shutdown force-releases every session and refuses new creates.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	keys := make([]model.Key, 0, len(p.sessions))
	for key := range p.sessions {
		keys = append(keys, key)
	}
	p.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := p.Release(ctx, key, true, model.RShutdown); err != nil &&
			!errors.Is(err, model.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) refreshGauges() {
	counts := map[model.LifecycleState]int{
		model.StateInitializing: 0,
		model.StateActive:       0,
		model.StateIdle:         0,
		model.StatePaused:       0,
		model.StateTerminating:  0,
	}
	p.mu.RLock()
	for _, s := range p.sessions {
		counts[s.State()]++
	}
	p.mu.RUnlock()
	for state, n := range counts {
		metrics.ActiveSessions.WithLabelValues(string(state)).Set(float64(n))
	}
}

type nopNotifier struct{}

func (nopNotifier) Push(context.Context, model.TenantID, model.ProfileID, string, string) error {
	return nil
}
