package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/metrics"
)

// retryPlugin is the outermost chain member. The chain drives its control
// flow directly; the hook methods only maintain the attempt counter.
type retryPlugin struct {
	baseHooks
	spec     model.RetrySpec
	notifier ports.NotificationDispatcher
	logger   zerolog.Logger
	attempt  int

	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryPlugin(spec model.RetrySpec, notifier ports.NotificationDispatcher, logger zerolog.Logger) *retryPlugin {
	return &retryPlugin{
		spec:     spec,
		notifier: notifier,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func (p *retryPlugin) Kind() model.PluginKind { return model.PluginRetry }

func (p *retryPlugin) OnSuccess(*OpContext) error {
	p.attempt = 0
	return nil
}

func (p *retryPlugin) reset() { p.attempt = 0 }

// backoff is called by the chain between attempts. It returns an error only
// when the context is cancelled mid-delay.
func (p *retryPlugin) backoff(ctx context.Context, key model.Key, op string, attempt int, cause error) error {
	p.attempt = attempt
	metrics.PluginRetries.Inc()

	p.logger.Info().
		Err(cause).
		Str("op", op).
		Int("attempt", attempt).
		Int("max_attempts", p.spec.Attempts).
		Msg("retrying operation")

	if p.spec.NotifyOnError && p.notifier != nil {
		title := fmt.Sprintf("operation %s failed", op)
		body := fmt.Sprintf("session %s attempt %d/%d: %v", key, attempt, p.spec.Attempts, cause)
		if err := p.notifier.Push(ctx, key.Tenant, key.Profile, title, body); err != nil {
			p.logger.Warn().Err(err).Msg("retry notification failed")
		}
	}

	return p.sleep(ctx, p.spec.Delay)
}
