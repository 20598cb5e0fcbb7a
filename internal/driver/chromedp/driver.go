// Package chromedp implements the browser driver on headless Chrome via the
// DevTools protocol. Each session gets its own exec allocator so fingerprint
// profiles map to isolated browser processes.
package chromedp

import (
	"context"
	"fmt"

	cdp "github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/log"
)

// Options configures the driver globally; per-session settings come from the
// fingerprint profile.
type Options struct {
	ExecPath  string // empty resolves Chrome from PATH
	NoSandbox bool   // required in most containers
}

// Driver opens Chrome processes for session profiles.
type Driver struct {
	opts   Options
	logger zerolog.Logger
}

// New builds the driver.
func New(opts Options) *Driver {
	return &Driver{opts: opts, logger: log.WithComponent("chromedp")}
}

// Open launches a browser shaped by profile. The returned handle owns the
// process; cancelling ctx after Open returns does not affect it.
func (d *Driver) Open(ctx context.Context, profile model.Profile, headless bool) (ports.Handle, error) {
	allocCtx, allocCancel := cdp.NewExecAllocator(context.Background(), d.allocatorOptions(profile, headless)...)
	browserCtx, browserCancel := cdp.NewContext(allocCtx)

	teardown := func() {
		browserCancel()
		allocCancel()
	}

	// Run with no actions starts the process; bound by the caller's ctx.
	started := make(chan error, 1)
	go func() { started <- cdp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			teardown()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		teardown()
		return nil, ctx.Err()
	}

	d.logger.Info().
		Str(log.FieldTenantID, fmt.Sprint(profile.Tenant)).
		Str(log.FieldProfileID, fmt.Sprint(profile.ID)).
		Bool("headless", headless).
		Msg("browser started")

	h := &handle{
		profile:       profile,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}
	// The browser context doubles as the first tab.
	h.pages = append(h.pages, &page{
		ctx:       browserCtx,
		viewportW: viewportOr(profile.ViewportW, defaultViewportW),
		viewportH: viewportOr(profile.ViewportH, defaultViewportH),
	})
	return h, nil
}

const (
	defaultViewportW = 1280
	defaultViewportH = 800
)

func viewportOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (d *Driver) allocatorOptions(profile model.Profile, headless bool) []cdp.ExecAllocatorOption {
	opts := []cdp.ExecAllocatorOption{
		cdp.NoFirstRun,
		cdp.NoDefaultBrowserCheck,
		cdp.Flag("disable-gpu", true),
		cdp.Flag("disable-dev-shm-usage", true),
		cdp.Flag("disable-background-networking", true),
		cdp.WindowSize(
			viewportOr(profile.ViewportW, defaultViewportW),
			viewportOr(profile.ViewportH, defaultViewportH),
		),
	}
	if headless {
		opts = append(opts, cdp.Headless)
	}
	if d.opts.NoSandbox {
		opts = append(opts, cdp.NoSandbox)
	}
	if d.opts.ExecPath != "" {
		opts = append(opts, cdp.ExecPath(d.opts.ExecPath))
	}
	if profile.UserAgent != "" {
		opts = append(opts, cdp.UserAgent(profile.UserAgent))
	}
	if profile.Proxy != "" {
		opts = append(opts, cdp.ProxyServer(profile.Proxy))
	}
	if profile.Locale != "" {
		opts = append(opts, cdp.Flag("lang", profile.Locale))
	}
	if profile.Timezone != "" {
		opts = append(opts, cdp.Env("TZ="+profile.Timezone))
	}
	return opts
}
