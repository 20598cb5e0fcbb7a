package plugin

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
)

// logPlugin emits structured records around each operation. It never affects
// dispatch.
type logPlugin struct {
	baseHooks
	level zerolog.Level
}

func newLogPlugin(spec model.LogSpec) *logPlugin {
	level, err := zerolog.ParseLevel(spec.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return &logPlugin{level: level}
}

func (p *logPlugin) Kind() model.PluginKind { return model.PluginLog }

func (p *logPlugin) BeforeExec(op *OpContext) error {
	op.Started = time.Now()
	op.Logger.WithLevel(p.level).
		Str("op", op.Op).
		Msg("operation start")
	return nil
}

func (p *logPlugin) OnSuccess(op *OpContext) error {
	op.Logger.WithLevel(p.level).
		Str("op", op.Op).
		Msg("operation ok")
	return nil
}

func (p *logPlugin) OnError(op *OpContext, err error) error {
	op.Logger.Warn().
		Err(err).
		Str("op", op.Op).
		Msg("operation failed")
	return nil
}

func (p *logPlugin) AfterExec(op *OpContext) error {
	op.Logger.WithLevel(p.level).
		Str("op", op.Op).
		Dur("duration", time.Since(op.Started)).
		Msg("operation done")
	return nil
}
