// Package ports declares the outbound contracts the session domain depends
// on. Implementations live at the edges (driver, store, notify); the domain
// only sees these interfaces.
package ports

import (
	"context"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

// ScreenshotOptions controls a page capture.
type ScreenshotOptions struct {
	FullPage bool
	Quality  int // JPEG quality 1..100, 0 means driver default
}

// Page is one tab inside a browser context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y int) error
	Fill(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	Press(ctx context.Context, selector, key string) error
	Scroll(ctx context.Context, deltaX, deltaY int) error
	Evaluate(ctx context.Context, script string) (any, error)
	WaitForSelector(ctx context.Context, selector, state string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Viewport() (w, h int)
	IsClosed() bool
	Close(ctx context.Context) error
}

// Handle is one open browser context bound to a fingerprint profile.
type Handle interface {
	// ActivePage returns the page current operations target, opening the
	// first page lazily.
	ActivePage(ctx context.Context) (Page, error)
	Pages() []Page
	Close(ctx context.Context) error
}

// BrowserDriver opens browser contexts. Open may block for seconds; it must
// honor ctx cancellation.
type BrowserDriver interface {
	Open(ctx context.Context, profile model.Profile, headless bool) (Handle, error)
}

// FingerprintStore loads persisted fingerprint profiles.
type FingerprintStore interface {
	Load(ctx context.Context, tenant model.TenantID, profile model.ProfileID) (model.Profile, error)
	Count(ctx context.Context, tenant model.TenantID) (int, error)
}

// PluginConfigStore resolves the plugin set for a profile, merging tenant
// defaults with per-profile overrides.
type PluginConfigStore interface {
	LoadPlugins(ctx context.Context, tenant model.TenantID, profile model.ProfileID) ([]model.PluginSpec, error)
}

// NotificationDispatcher delivers best-effort push messages. Implementations
// must never block domain progress.
type NotificationDispatcher interface {
	Push(ctx context.Context, tenant model.TenantID, profile model.ProfileID, title, body string) error
}
