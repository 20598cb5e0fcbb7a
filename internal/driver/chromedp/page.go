package chromedp

import (
	"context"
	"fmt"
	"sync"

	cdppage "github.com/chromedp/cdproto/page"
	cdp "github.com/chromedp/chromedp"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// page is one DevTools target. The caller's per-command deadline is bound to
// the tab context on every run.
type page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	viewportW int
	viewportH int

	mu     sync.Mutex
	closed bool
}

func (p *page) run(call context.Context, actions ...cdp.Action) error {
	if p.IsClosed() {
		return model.ErrPageClosed
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	if dl, ok := call.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, dl)
	}
	defer cancel()
	stop := context.AfterFunc(call, cancel)
	defer stop()

	return model.UpgradePageClosed(cdp.Run(runCtx, actions...))
}

func (p *page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, cdp.Navigate(url))
}

func (p *page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, cdp.Click(selector, cdp.ByQuery))
}

func (p *page) ClickAt(ctx context.Context, x, y int) error {
	return p.run(ctx, cdp.MouseClickXY(float64(x), float64(y)))
}

func (p *page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, cdp.SetValue(selector, value, cdp.ByQuery))
}

func (p *page) Hover(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { throw new Error("no element matches selector"); }
		el.scrollIntoView({block: "center"});
		el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true}));
	})()`, selector)
	return p.run(ctx, cdp.Evaluate(script, nil))
}

func (p *page) Press(ctx context.Context, selector, key string) error {
	return p.run(ctx, cdp.Focus(selector, cdp.ByQuery), cdp.KeyEvent(key))
}

func (p *page) Scroll(ctx context.Context, deltaX, deltaY int) error {
	script := fmt.Sprintf("window.scrollBy(%d, %d)", deltaX, deltaY)
	return p.run(ctx, cdp.Evaluate(script, nil))
}

func (p *page) Evaluate(ctx context.Context, script string) (any, error) {
	var res any
	if err := p.run(ctx, cdp.Evaluate(script, &res)); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *page) WaitForSelector(ctx context.Context, selector, state string) error {
	var action cdp.Action
	switch state {
	case "", "visible":
		action = cdp.WaitVisible(selector, cdp.ByQuery)
	case "attached":
		action = cdp.WaitReady(selector, cdp.ByQuery)
	case "hidden":
		action = cdp.WaitNotVisible(selector, cdp.ByQuery)
	default:
		return fmt.Errorf("%w: unknown wait state %q", model.ErrInvalidParams, state)
	}
	return p.run(ctx, action)
}

func (p *page) Screenshot(ctx context.Context, opts ports.ScreenshotOptions) ([]byte, error) {
	quality := opts.Quality
	if quality <= 0 {
		quality = 80
	}

	var buf []byte
	action := cdp.ActionFunc(func(ctx context.Context) error {
		params := cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality))
		if opts.FullPage {
			params = params.WithCaptureBeyondViewport(true)
		}
		data, err := params.Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *page) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, cdp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, cdp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *page) Viewport() (int, int) { return p.viewportW, p.viewportH }

func (p *page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return true
	}
	return p.ctx.Err() != nil
}

func (p *page) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Close detaches the tab. The browser's root tab has no own cancel func and
// is only marked closed; the handle owns its lifetime.
func (p *page) Close(context.Context) error {
	p.markClosed()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
