package plugin

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// Deps are the session-owned collaborators a chain borrows.
type Deps struct {
	Key      model.Key
	Handle   ports.Handle
	Logger   zerolog.Logger
	Notifier ports.NotificationDispatcher
}

// Materialize builds a chain from the configured specs. At most one instance
// per variant; disabled specs are skipped. Execution order is fixed: Log,
// PageLimit, RandomWait, with Retry outermost regardless of spec order.
func Materialize(specs []model.PluginSpec, deps Deps) (*Chain, error) {
	byKind := map[model.PluginKind]model.PluginSpec{}
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byKind[spec.Kind]; dup {
			return nil, fmt.Errorf("duplicate plugin variant %q", spec.Kind)
		}
		byKind[spec.Kind] = spec
	}

	chain := &Chain{
		key:    deps.Key,
		handle: deps.Handle,
		logger: deps.Logger,
	}

	if spec, ok := byKind[model.PluginLog]; ok {
		chain.plugins = append(chain.plugins, newLogPlugin(*spec.Log))
	}
	if spec, ok := byKind[model.PluginPageLimit]; ok {
		chain.plugins = append(chain.plugins, newPageLimitPlugin(*spec.PageLimit))
	}
	if spec, ok := byKind[model.PluginRandomWait]; ok {
		chain.plugins = append(chain.plugins, newRandomWaitPlugin(*spec.RandomWait))
	}
	if spec, ok := byKind[model.PluginRetry]; ok {
		chain.retry = newRetryPlugin(*spec.Retry, deps.Notifier, deps.Logger)
	}

	return chain, nil
}
