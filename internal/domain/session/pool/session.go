// Package pool owns the live browser sessions: one BrowserSession per
// (tenant, profile) key, their lifecycle state machine, client registry,
// manual-mode arbitration and the sweeper that reclaims them.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/plugin"
)

// Session is one live browser bound to a fingerprint profile. All mutable
// state is guarded by mu; page operations additionally serialize through
// cmdMu so commands on one session run in FIFO order.
type Session struct {
	key      model.Key
	profile  model.Profile
	handle   ports.Handle
	chain    *plugin.Chain
	specs    []model.PluginSpec
	headless bool
	policy   model.CleanupPolicy
	logger   zerolog.Logger
	clock    func() time.Time

	// ctx is cancelled on Terminating; stream producers and in-flight
	// operations bound to the session observe it.
	ctx    context.Context
	cancel context.CancelFunc

	cmdMu    sync.Mutex
	inflight sync.WaitGroup

	mu            sync.RWMutex
	state         model.LifecycleState
	manualMode    bool
	priority      model.Priority
	manualStart   time.Time
	createdAt     time.Time
	expiresAt     time.Time
	lastActivity  time.Time
	lastHeartbeat time.Time
	clients       map[string]time.Time
}

// Key returns the immutable session key.
func (s *Session) Key() model.Key { return s.key }

// Profile returns the profile snapshot bound at creation.
func (s *Session) Profile() model.Profile { return s.profile }

// Handle returns the driver handle.
func (s *Session) Handle() ports.Handle { return s.handle }

// Context is cancelled when the session enters Terminating.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Session) State() model.LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ManualMode reports manual-mode state and the held priority.
func (s *Session) ManualMode() (bool, model.Priority) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manualMode, s.priority
}

// Touch advances lastActivity.
func (s *Session) Touch() {
	now := s.clock()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// Heartbeat registers a client beat and returns the ack contract.
func (s *Session) Heartbeat(clientID string, hint time.Duration) model.HeartbeatAck {
	now := s.clock()
	s.mu.Lock()
	s.clients[clientID] = now
	s.lastHeartbeat = now
	s.lastActivity = now
	active := len(s.clients)
	state := s.state
	s.mu.Unlock()

	return model.HeartbeatAck{
		ServerTime:    now,
		NextInterval:  hint,
		ActiveClients: active,
		State:         state,
	}
}

// DropStaleClients removes registrations older than maxAge and returns the
// number of remaining clients.
func (s *Session) DropStaleClients(maxAge time.Duration) int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, beat := range s.clients {
		if now.Sub(beat) > maxAge {
			delete(s.clients, id)
		}
	}
	return len(s.clients)
}

// StartManual pauses automation for interactive control. While manual mode
// is held, only a strictly higher priority may take over. The effective
// priority is never below High.
func (s *Session) StartManual(req model.ManualRequest) (model.ManualResult, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CanDispatch() {
		return model.ManualResult{}, fmt.Errorf("session %s: %w", s.key, model.ErrSessionTerminated)
	}

	requested := req.Priority
	if requested < model.PriorityHigh {
		requested = model.PriorityHigh
	}

	if s.manualMode && requested <= s.priority {
		return model.ManualResult{}, &model.PriorityConflictError{Requested: req.Priority, Current: s.priority}
	}

	s.manualMode = true
	s.priority = requested
	s.manualStart = now
	s.state = model.StatePaused
	s.chain.SetPaused(true)
	s.lastActivity = now

	s.logger.Info().
		Str(log.FieldPriority, requested.String()).
		Str(log.FieldReason, req.Reason).
		Msg("manual mode started")

	return model.ManualResult{Granted: true, Priority: requested, Since: now}, nil
}

// InterruptAutomation is the dispatcher's interrupt_automation path: it takes
// manual mode without a conflict check (the dispatcher has already verified
// manual mode is off).
func (s *Session) InterruptAutomation(priority model.Priority) {
	now := s.clock()
	if priority < model.PriorityHigh {
		priority = model.PriorityHigh
	}
	s.mu.Lock()
	s.manualMode = true
	s.priority = priority
	s.manualStart = now
	s.state = model.StatePaused
	s.mu.Unlock()
	s.chain.SetPaused(true)
}

// ResumeAutomation returns the session to autonomous operation.
func (s *Session) ResumeAutomation(req model.ResumeRequest) (model.ResumeResult, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.manualMode {
		if req.Force {
			return model.ResumeResult{Resumed: false}, nil
		}
		return model.ResumeResult{}, fmt.Errorf("session %s: %w", s.key, model.ErrNotManualMode)
	}

	duration := now.Sub(s.manualStart)
	s.manualMode = false
	s.priority = model.PriorityNormal
	s.manualStart = time.Time{}
	if s.state == model.StatePaused {
		s.state = model.StateActive
	}
	s.chain.SetPaused(false)
	s.lastActivity = now

	s.logger.Info().
		Dur("manual_duration", duration).
		Str(log.FieldReason, req.Reason).
		Msg("automation resumed")

	return model.ResumeResult{Resumed: true, Duration: duration}, nil
}

// Execute runs one page operation through the plugin chain, serialized FIFO
// with other commands on this session.
func (s *Session) Execute(ctx context.Context, name string, op plugin.Operation) (any, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	now := s.clock()
	s.mu.Lock()
	if !s.state.CanDispatch() {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s in state %s: %w", s.key, state, model.ErrSessionTerminated)
	}
	if s.state == model.StateIdle {
		s.state = model.StateActive
	}
	s.lastActivity = now
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	// A Terminating transition cancels the session context; bind the
	// operation to both it and the caller's deadline.
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	defer cancel()

	res, err := s.chain.Execute(opCtx, name, op)
	return res, model.UpgradePageClosed(err)
}

// markIdle transitions Active -> Idle (sweeper advisory).
func (s *Session) markIdle() {
	s.mu.Lock()
	if s.state == model.StateActive {
		s.state = model.StateIdle
	}
	s.mu.Unlock()
}

// terminate drives Terminating -> Terminated. Safe to call more than once;
// only the first call does work.
func (s *Session) terminate(ctx context.Context, force bool, reason model.ReasonCode) error {
	s.mu.Lock()
	if s.state == model.StateTerminating || s.state == model.StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = model.StateTerminating
	s.mu.Unlock()

	s.cancel()

	if !force {
		done := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn().Msg("in-flight operations still running at release deadline")
		}
	}

	var closeErr error
	if s.handle != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		closeErr = s.handle.Close(closeCtx)
		cancel()
	}

	s.mu.Lock()
	s.state = model.StateTerminated
	s.clients = map[string]time.Time{}
	s.manualMode = false
	s.mu.Unlock()

	if closeErr != nil {
		s.logger.Error().Err(closeErr).Str(log.FieldReason, string(reason)).Msg("browser close failed")
	} else {
		s.logger.Info().Str(log.FieldReason, string(reason)).Msg("session terminated")
	}
	return closeErr
}

// Status snapshots the session for admin reads and the sweeper.
func (s *Session) Status() model.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]string, 0, len(s.clients))
	for id := range s.clients {
		clients = append(clients, id)
	}

	return model.SessionStatus{
		Key:           s.key,
		State:         s.state,
		ManualMode:    s.manualMode,
		Priority:      s.priority,
		CreatedAt:     s.createdAt,
		ExpiresAt:     s.expiresAt,
		LastActivity:  s.lastActivity,
		LastHeartbeat: s.lastHeartbeat,
		ManualSince:   s.manualStart,
		Clients:       clients,
		Plugins:       s.chain.Names(),
		Headless:      s.headless,
	}
}
