package pool

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
)

// StreamRegistry is the sweeper's view of the live-stream manager.
type StreamRegistry interface {
	// Expire drops entries whose owning session is gone or whose own
	// heartbeat is older than timeout, returning how many were dropped.
	Expire(now time.Time, timeout time.Duration) int
}

// SweeperConfig bounds one sweep pass.
type SweeperConfig struct {
	Interval          time.Duration
	LiveStreamTimeout time.Duration
}

// Sweeper enforces the lifecycle policies on a fixed interval. Errors during
// reclaim are logged and suppressed; the entry is dropped regardless.
type Sweeper struct {
	Pool    *Pool
	Streams StreamRegistry // optional
	Conf    SweeperConfig

	logger zerolog.Logger
}

// NewSweeper wires a sweeper to the pool.
func NewSweeper(p *Pool, streams StreamRegistry, conf SweeperConfig) *Sweeper {
	return &Sweeper{
		Pool:    p,
		Streams: streams,
		Conf:    conf,
		logger:  log.WithComponent("sweeper"),
	}
}

// Run executes sweep passes until ctx ends. Deployments running under the
// scheduler call SweepOnce from a job instead.
func (sw *Sweeper) Run(ctx context.Context) {
	interval := sw.Conf.Interval
	if interval <= 0 {
		interval = sw.Pool.opts.Policy.SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.SweepOnce(ctx)
		}
	}
}

// SweepOnce walks the pool and the stream registry exactly once.
func (sw *Sweeper) SweepOnce(ctx context.Context) {
	now := sw.Pool.opts.Clock()

	type reclaim struct {
		key    model.Key
		reason model.ReasonCode
	}
	var toRelease []reclaim

	for _, status := range sw.Pool.Snapshot() {
		if status.State.IsTerminal() || status.State == model.StateTerminating {
			continue
		}

		s, err := sw.Pool.lookup(status.Key)
		if err != nil {
			continue
		}
		policy := s.policy

		remaining := s.DropStaleClients(policy.MaxNoHeartbeat)

		if remaining == 0 {
			beatAge := now.Sub(status.LastHeartbeat)

			// A manual operator who stopped beating forfeits control.
			if status.ManualMode && beatAge > policy.MaxNoHeartbeat {
				if _, err := s.ResumeAutomation(model.ResumeRequest{Force: true, Reason: "operator heartbeat lost"}); err != nil {
					sw.logger.Warn().Err(err).
						Str(log.FieldSessionKey, status.Key.String()).
						Msg("forced resume failed")
				}
			}

			switch {
			case beatAge > policy.MaxNoHeartbeat:
				// Unified reclaim: Idle or Active makes no difference once
				// the heartbeat is stale.
				toRelease = append(toRelease, reclaim{status.Key, model.RHeartbeatTimeout})
				continue
			case status.State == model.StateIdle && now.Sub(status.LastActivity) > policy.MaxIdle:
				toRelease = append(toRelease, reclaim{status.Key, model.RIdleTimeout})
				continue
			case status.State == model.StateActive && now.Sub(status.LastActivity) > policy.MaxIdle/3:
				s.markIdle()
			}
		}

		if !status.ExpiresAt.IsZero() && now.After(status.ExpiresAt) {
			toRelease = append(toRelease, reclaim{status.Key, model.RExpired})
		}
	}

	for _, r := range toRelease {
		sw.logger.Info().
			Str(log.FieldSessionKey, r.key.String()).
			Str(log.FieldReason, string(r.reason)).
			Msg("sweeper reclaiming session")
		metrics.SweepReclaims.WithLabelValues(string(r.reason)).Inc()
		if err := sw.Pool.Release(ctx, r.key, true, r.reason); err != nil {
			sw.logger.Warn().Err(err).
				Str(log.FieldSessionKey, r.key.String()).
				Msg("sweeper release failed")
		}
	}

	if sw.Streams != nil {
		if dropped := sw.Streams.Expire(now, sw.Conf.LiveStreamTimeout); dropped > 0 {
			sw.logger.Info().Int("dropped", dropped).Msg("expired live-stream entries")
		}
	}
}
