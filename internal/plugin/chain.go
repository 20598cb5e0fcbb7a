package plugin

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// Operation is one page-level action executed under the chain.
type Operation func(ctx context.Context) (any, error)

// Chain runs an operation through the ordered hook sequence:
//
//	BeforeExec, OnExec (declared order)
//	op
//	OnSuccess / OnError (declared order)
//	AfterExec (reverse order, always)
//
// Retry sits outermost: a retried attempt re-runs the full hook sequence.
// While the owning session is paused the chain short-circuits and the
// operation goes straight to the driver; no counters advance.
type Chain struct {
	plugins []Plugin
	retry   *retryPlugin
	paused  atomic.Bool
	key     model.Key
	handle  ports.Handle
	logger  zerolog.Logger
}

// SetPaused toggles the manual-mode short circuit.
func (c *Chain) SetPaused(p bool) { c.paused.Store(p) }

// Paused reports whether the chain is short-circuiting.
func (c *Chain) Paused() bool { return c.paused.Load() }

// Names lists the materialized plugin kinds in execution order.
func (c *Chain) Names() []string {
	out := make([]string, 0, len(c.plugins)+1)
	for _, p := range c.plugins {
		out = append(out, string(p.Kind()))
	}
	if c.retry != nil {
		out = append(out, string(c.retry.Kind()))
	}
	return out
}

// Execute runs op under the chain.
func (c *Chain) Execute(ctx context.Context, name string, op Operation) (any, error) {
	if c.paused.Load() {
		return op(ctx)
	}

	attempts := 0
	if c.retry != nil {
		attempts = c.retry.spec.Attempts
	}

	var lastErr error
	calls := 0
	for attempt := 0; ; attempt++ {
		res, err := c.runOnce(ctx, name, op)
		calls++
		if err == nil {
			if c.retry != nil {
				c.retry.reset()
			}
			return res, nil
		}
		lastErr = err

		if c.retry == nil || attempt >= attempts {
			break
		}
		if rerr := c.retry.backoff(ctx, c.key, name, attempt+1, err); rerr != nil {
			// Context cancelled mid-delay; surface the operation error.
			break
		}
	}

	if calls > 1 {
		return nil, fmt.Errorf("after %d attempts: %w", calls, lastErr)
	}
	return nil, lastErr
}

func (c *Chain) runOnce(ctx context.Context, name string, op Operation) (res any, err error) {
	opCtx := &OpContext{
		Ctx:     ctx,
		Op:      name,
		Key:     c.key,
		Handle:  c.handle,
		Logger:  c.logger,
		Started: time.Now(),
	}

	defer func() {
		for i := len(c.plugins) - 1; i >= 0; i-- {
			c.hook(opCtx, "after_exec", c.plugins[i].AfterExec)
		}
	}()

	for _, p := range c.plugins {
		c.hook(opCtx, "before_exec", p.BeforeExec)
	}
	for _, p := range c.plugins {
		c.hook(opCtx, "on_exec", p.OnExec)
	}

	res, err = op(ctx)
	if err != nil {
		for _, p := range c.plugins {
			plugin := p
			c.hook(opCtx, "on_error", func(o *OpContext) error { return plugin.OnError(o, err) })
		}
		return nil, err
	}

	for _, p := range c.plugins {
		c.hook(opCtx, "on_success", p.OnSuccess)
	}
	return res, nil
}

// hook invokes one plugin callback; failures are logged and swallowed.
func (c *Chain) hook(op *OpContext, phase string, fn func(*OpContext) error) {
	if err := fn(op); err != nil {
		c.logger.Warn().
			Err(err).
			Str("phase", phase).
			Str("op", op.Op).
			Msg("plugin hook failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
