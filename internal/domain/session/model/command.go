package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKind enumerates the remote operations a client may dispatch.
type CommandKind string

const (
	CmdClick       CommandKind = "click"
	CmdFill        CommandKind = "fill"
	CmdScroll      CommandKind = "scroll"
	CmdScreenshot  CommandKind = "screenshot"
	CmdEvaluate    CommandKind = "evaluate"
	CmdWait        CommandKind = "wait"
	CmdNavigate    CommandKind = "navigate"
	CmdBrowserInfo CommandKind = "get_browser_info"
)

// KnownCommand reports whether k is part of the command vocabulary.
func KnownCommand(k CommandKind) bool {
	switch k {
	case CmdClick, CmdFill, CmdScroll, CmdScreenshot, CmdEvaluate, CmdWait, CmdNavigate, CmdBrowserInfo:
		return true
	}
	return false
}

// Seconds is a wire-level duration expressed as fractional seconds.
type Seconds float64

// Duration converts to time.Duration; zero or negative yields 0.
func (s Seconds) Duration() time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(float64(s) * float64(time.Second))
}

// Command is the dispatcher input. Params is decoded per kind by the
// dispatcher; the envelope stays opaque to the transport.
type Command struct {
	Kind                CommandKind     `json:"type"`
	Params              json.RawMessage `json:"params,omitempty"`
	Priority            Priority        `json:"priority"`
	RequireManual       bool            `json:"require_manual_mode,omitempty"`
	InterruptAutomation bool            `json:"interrupt_automation,omitempty"`
}

// ClickParams targets either a selector or viewport-relative coordinates
// (X, Y in [0,1], scaled by the live viewport at dispatch).
type ClickParams struct {
	Selector string   `json:"selector,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Timeout  Seconds  `json:"timeout,omitempty"`
}

// FillParams types a value into the element matching the selector.
type FillParams struct {
	Selector string  `json:"selector"`
	Value    string  `json:"value"`
	Timeout  Seconds `json:"timeout,omitempty"`
}

// ScrollParams scrolls the page by pixel deltas.
type ScrollParams struct {
	DeltaX int `json:"delta_x,omitempty"`
	DeltaY int `json:"delta_y,omitempty"`
}

// ScreenshotParams captures the current page.
type ScreenshotParams struct {
	FullPage bool `json:"full_page,omitempty"`
	Quality  int  `json:"quality,omitempty"`
}

// EvaluateParams runs a script in the page context after a safety check.
type EvaluateParams struct {
	Code string `json:"code"`
	Args []any  `json:"args,omitempty"`
}

// WaitParams waits for a selector to reach the given state.
type WaitParams struct {
	Selector string  `json:"selector"`
	State    string  `json:"state,omitempty"` // visible (default), attached, hidden
	Timeout  Seconds `json:"timeout,omitempty"`
}

// NavigateParams loads a URL.
type NavigateParams struct {
	URL     string  `json:"url"`
	Timeout Seconds `json:"timeout,omitempty"`
}

// DecodeParams unmarshals the command payload into dst, tolerating an
// absent payload for kinds with no required fields.
func (c Command) DecodeParams(dst any) error {
	if len(c.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Params, dst); err != nil {
		return fmt.Errorf("decode %s params: %w", c.Kind, err)
	}
	return nil
}

// CommandResult is the dispatcher output handed back to the transport.
type CommandResult struct {
	Kind     CommandKind   `json:"type"`
	Data     any           `json:"data,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BrowserInfo is the payload of a get_browser_info command.
type BrowserInfo struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	ViewportW int    `json:"viewport_w"`
	ViewportH int    `json:"viewport_h"`
	PageCount int    `json:"page_count"`
	State     string `json:"state"`
}
