package chromedp

import (
	"context"
	"sync"

	cdp "github.com/chromedp/chromedp"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// handle owns one Chrome process and its tabs.
type handle struct {
	profile       model.Profile
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu     sync.Mutex
	pages  []*page
	closed bool
}

func (h *handle) ActivePage(ctx context.Context) (ports.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, model.ErrPageClosed
	}
	// The most recently opened live tab is the active one.
	for i := len(h.pages) - 1; i >= 0; i-- {
		if !h.pages[i].IsClosed() {
			return h.pages[i], nil
		}
	}

	// Every tab is gone; open a fresh one off the browser context.
	tabCtx, tabCancel := cdp.NewContext(h.browserCtx)
	if err := cdp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, err
	}
	p := &page{
		ctx:       tabCtx,
		cancel:    tabCancel,
		viewportW: viewportOr(h.profile.ViewportW, defaultViewportW),
		viewportH: viewportOr(h.profile.ViewportH, defaultViewportH),
	}
	h.pages = append(h.pages, p)
	return p, nil
}

func (h *handle) Pages() []ports.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ports.Page, 0, len(h.pages))
	for _, p := range h.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// Close shuts the browser process down. Graceful shutdown is bounded by ctx;
// the process is killed regardless once the allocator is cancelled.
func (h *handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for _, p := range h.pages {
		p.markClosed()
	}
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- cdp.Cancel(h.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	h.browserCancel()
	h.allocCancel()
	return err
}
