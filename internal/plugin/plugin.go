// Package plugin implements the operation chain that wraps every page-level
// command: logging, page caps, humanized waits and transparent retries.
package plugin

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// OpContext carries per-operation state through the hook sequence.
type OpContext struct {
	Ctx     context.Context
	Op      string
	Key     model.Key
	Handle  ports.Handle
	Logger  zerolog.Logger
	Started time.Time
}

// Plugin is the capability set every chain member implements. Hook errors
// are logged by the chain and never alter the outer result; Retry is the one
// member with control-flow authority and is driven by the chain directly.
type Plugin interface {
	Kind() model.PluginKind
	BeforeExec(op *OpContext) error
	OnExec(op *OpContext) error
	OnSuccess(op *OpContext) error
	OnError(op *OpContext, err error) error
	AfterExec(op *OpContext) error
}

// baseHooks provides no-op defaults so plugins only implement what they use.
type baseHooks struct{}

func (baseHooks) BeforeExec(*OpContext) error     { return nil }
func (baseHooks) OnExec(*OpContext) error         { return nil }
func (baseHooks) OnSuccess(*OpContext) error      { return nil }
func (baseHooks) OnError(*OpContext, error) error { return nil }
func (baseHooks) AfterExec(*OpContext) error      { return nil }
