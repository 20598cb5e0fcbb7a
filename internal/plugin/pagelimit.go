package plugin

import (
	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

// pageLimitPlugin caps the number of open pages in the browser context by
// closing the oldest page before an operation would exceed the limit.
type pageLimitPlugin struct {
	baseHooks
	maxPages  int
	pageCount int
}

func newPageLimitPlugin(spec model.PageLimitSpec) *pageLimitPlugin {
	return &pageLimitPlugin{maxPages: spec.MaxPages}
}

func (p *pageLimitPlugin) Kind() model.PluginKind { return model.PluginPageLimit }

func (p *pageLimitPlugin) BeforeExec(op *OpContext) error {
	if op.Handle == nil {
		return nil
	}
	pages := op.Handle.Pages()
	p.pageCount = len(pages)
	if p.pageCount < p.maxPages {
		return nil
	}
	// Oldest first; skip pages already gone.
	for _, page := range pages {
		if page.IsClosed() {
			continue
		}
		if err := page.Close(op.Ctx); err != nil {
			op.Logger.Warn().Err(err).Msg("page limit: close oldest page failed")
		} else {
			p.pageCount--
			op.Logger.Debug().
				Int("max_pages", p.maxPages).
				Msg("page limit: closed oldest page")
		}
		break
	}
	return nil
}

func (p *pageLimitPlugin) OnSuccess(op *OpContext) error {
	p.refresh(op)
	return nil
}

func (p *pageLimitPlugin) OnError(op *OpContext, _ error) error {
	p.refresh(op)
	return nil
}

func (p *pageLimitPlugin) refresh(op *OpContext) {
	if op.Handle != nil {
		p.pageCount = len(op.Handle.Pages())
	}
}
