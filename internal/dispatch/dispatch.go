// Package dispatch routes client commands to sessions: it arbitrates manual
// mode against priorities, decodes per-kind parameters, applies the safety
// check to evaluate payloads and runs the page operation through the
// session's plugin chain.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
	"github.com/helmwind/browserpilot/internal/plugin"
	"github.com/helmwind/browserpilot/internal/safety"
)

// Config bounds command execution.
type Config struct {
	CommandTimeout    time.Duration // default 30s
	ScreenshotTimeout time.Duration // default 60s
	EvaluateTimeout   time.Duration // default 30s
	StrictSafety      bool
}

func (c Config) normalize() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.ScreenshotTimeout <= 0 {
		c.ScreenshotTimeout = 60 * time.Second
	}
	if c.EvaluateTimeout <= 0 {
		c.EvaluateTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher executes commands against pool sessions.
type Dispatcher struct {
	pool   *pool.Pool
	conf   Config
	logger zerolog.Logger
}

// New builds a dispatcher over the pool.
func New(p *pool.Pool, conf Config) *Dispatcher {
	return &Dispatcher{
		pool:   p,
		conf:   conf.normalize(),
		logger: log.WithComponent("dispatch"),
	}
}

// ScreenshotData is the evaluate-facing payload of a screenshot command.
// Image marshals as base64 on the wire.
type ScreenshotData struct {
	Image    []byte `json:"image"`
	FullPage bool   `json:"full_page"`
}

// EvaluateData carries a script result plus the safety verdict it passed.
type EvaluateData struct {
	Result any            `json:"result"`
	Safety safety.Verdict `json:"safety"`
}

// Dispatch runs one command against the session for key.
//
// Arbitration order: unknown kind, session lookup, manual-mode gate,
// priority conflict, then interrupt_automation. A command addressed to a
// session held in manual mode runs only when it carries a strictly higher
// priority or arrives on the manual channel itself (require_manual_mode).
func (d *Dispatcher) Dispatch(ctx context.Context, key model.Key, cmd model.Command) (model.CommandResult, error) {
	if !model.KnownCommand(cmd.Kind) {
		return model.CommandResult{}, fmt.Errorf("%w: %q", model.ErrUnknownCommand, cmd.Kind)
	}

	s, err := d.pool.Get(key)
	if err != nil {
		return model.CommandResult{}, err
	}

	manual, current := s.ManualMode()
	switch {
	case cmd.RequireManual && !manual:
		return model.CommandResult{}, fmt.Errorf("session %s: %w", key, model.ErrManualModeRequired)
	case manual && !cmd.RequireManual && cmd.Priority <= current:
		return model.CommandResult{}, &model.PriorityConflictError{Requested: cmd.Priority, Current: current}
	case !manual && cmd.InterruptAutomation:
		s.InterruptAutomation(cmd.Priority)
	}

	op, verdict, err := d.operation(s, cmd)
	if err != nil {
		metrics.Commands.WithLabelValues(string(cmd.Kind), "rejected").Inc()
		return model.CommandResult{}, err
	}

	start := time.Now()
	data, err := s.Execute(ctx, string(cmd.Kind), op)
	elapsed := time.Since(start)
	metrics.CommandDuration.WithLabelValues(string(cmd.Kind)).Observe(elapsed.Seconds())

	if err != nil {
		metrics.Commands.WithLabelValues(string(cmd.Kind), "error").Inc()
		d.logger.Warn().Err(err).
			Str(log.FieldSessionKey, key.String()).
			Str(log.FieldCommand, string(cmd.Kind)).
			Msg("command failed")
		return model.CommandResult{}, err
	}

	if verdict != nil {
		data = EvaluateData{Result: data, Safety: *verdict}
	}
	metrics.Commands.WithLabelValues(string(cmd.Kind), "ok").Inc()
	return model.CommandResult{Kind: cmd.Kind, Data: data, Duration: elapsed}, nil
}

// operation decodes cmd into a chain operation. For evaluate commands the
// returned verdict is attached to the result.
func (d *Dispatcher) operation(s *pool.Session, cmd model.Command) (plugin.Operation, *safety.Verdict, error) {
	switch cmd.Kind {
	case model.CmdClick:
		var p model.ClickParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		if p.Selector == "" && (p.X == nil || p.Y == nil) {
			return nil, nil, fmt.Errorf("%w: click needs a selector or both x and y", model.ErrInvalidParams)
		}
		timeout := d.timeout(p.Timeout, d.conf.CommandTimeout)
		return d.pageOp(s, timeout, func(ctx context.Context, page ports.Page) (any, error) {
			if p.Selector != "" {
				return nil, page.Click(ctx, p.Selector)
			}
			// Coordinates are viewport-relative in [0,1].
			w, h := page.Viewport()
			return nil, page.ClickAt(ctx, int(*p.X*float64(w)), int(*p.Y*float64(h)))
		}), nil, nil

	case model.CmdFill:
		var p model.FillParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		if p.Selector == "" {
			return nil, nil, fmt.Errorf("%w: fill needs a selector", model.ErrInvalidParams)
		}
		timeout := d.timeout(p.Timeout, d.conf.CommandTimeout)
		return d.pageOp(s, timeout, func(ctx context.Context, page ports.Page) (any, error) {
			return nil, page.Fill(ctx, p.Selector, p.Value)
		}), nil, nil

	case model.CmdScroll:
		var p model.ScrollParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		return d.pageOp(s, d.conf.CommandTimeout, func(ctx context.Context, page ports.Page) (any, error) {
			return nil, page.Scroll(ctx, p.DeltaX, p.DeltaY)
		}), nil, nil

	case model.CmdScreenshot:
		var p model.ScreenshotParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		return d.pageOp(s, d.conf.ScreenshotTimeout, func(ctx context.Context, page ports.Page) (any, error) {
			img, err := page.Screenshot(ctx, ports.ScreenshotOptions{FullPage: p.FullPage, Quality: p.Quality})
			if err != nil {
				return nil, err
			}
			return ScreenshotData{Image: img, FullPage: p.FullPage}, nil
		}), nil, nil

	case model.CmdEvaluate:
		var p model.EvaluateParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		if p.Code == "" {
			return nil, nil, fmt.Errorf("%w: evaluate needs code", model.ErrInvalidParams)
		}
		verdict := safety.Check(p.Code, d.conf.StrictSafety)
		if !verdict.SafeToRun {
			metrics.ScriptsBlocked.WithLabelValues(string(verdict.Level)).Inc()
			d.logger.Warn().
				Str(log.FieldSessionKey, s.Key().String()).
				Str("level", string(verdict.Level)).
				Int("score", verdict.Score).
				Msg("script rejected")
			return nil, nil, fmt.Errorf("%w: risk %s, score %d", model.ErrScriptUnsafe, verdict.Level, verdict.Score)
		}
		op := d.pageOp(s, d.conf.EvaluateTimeout, func(ctx context.Context, page ports.Page) (any, error) {
			return page.Evaluate(ctx, p.Code)
		})
		return op, &verdict, nil

	case model.CmdWait:
		var p model.WaitParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		if p.Selector == "" {
			return nil, nil, fmt.Errorf("%w: wait needs a selector", model.ErrInvalidParams)
		}
		state := p.State
		if state == "" {
			state = "visible"
		}
		timeout := d.timeout(p.Timeout, d.conf.CommandTimeout)
		return d.pageOp(s, timeout, func(ctx context.Context, page ports.Page) (any, error) {
			return nil, page.WaitForSelector(ctx, p.Selector, state)
		}), nil, nil

	case model.CmdNavigate:
		var p model.NavigateParams
		if err := cmd.DecodeParams(&p); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrInvalidParams, err)
		}
		if p.URL == "" {
			return nil, nil, fmt.Errorf("%w: navigate needs a url", model.ErrInvalidParams)
		}
		timeout := d.timeout(p.Timeout, d.conf.CommandTimeout)
		return d.pageOp(s, timeout, func(ctx context.Context, page ports.Page) (any, error) {
			return nil, page.Navigate(ctx, p.URL)
		}), nil, nil

	case model.CmdBrowserInfo:
		return d.pageOp(s, d.conf.CommandTimeout, func(ctx context.Context, page ports.Page) (any, error) {
			url, err := page.URL(ctx)
			if err != nil {
				return nil, err
			}
			title, err := page.Title(ctx)
			if err != nil {
				return nil, err
			}
			w, h := page.Viewport()
			return model.BrowserInfo{
				URL:       url,
				Title:     title,
				ViewportW: w,
				ViewportH: h,
				PageCount: len(s.Handle().Pages()),
				State:     string(s.State()),
			}, nil
		}), nil, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", model.ErrUnknownCommand, cmd.Kind)
}

// pageOp resolves the active page and runs fn under a per-command deadline.
func (d *Dispatcher) pageOp(s *pool.Session, timeout time.Duration, fn func(context.Context, ports.Page) (any, error)) plugin.Operation {
	return func(ctx context.Context) (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		page, err := s.Handle().ActivePage(opCtx)
		if err != nil {
			return nil, err
		}
		return fn(opCtx, page)
	}
}

func (d *Dispatcher) timeout(wire model.Seconds, fallback time.Duration) time.Duration {
	if t := wire.Duration(); t > 0 {
		return t
	}
	return fallback
}
