package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
)

// tracePlugin records every hook invocation into a shared log.
type tracePlugin struct {
	baseHooks
	name  string
	trace *[]string
	mu    *sync.Mutex

	failHook string // phase name whose hook returns an error
}

func (p *tracePlugin) Kind() model.PluginKind { return model.PluginKind(p.name) }

func (p *tracePlugin) record(phase string) error {
	p.mu.Lock()
	*p.trace = append(*p.trace, p.name+"."+phase)
	p.mu.Unlock()
	if p.failHook == phase {
		return errors.New("hook boom")
	}
	return nil
}

func (p *tracePlugin) BeforeExec(*OpContext) error     { return p.record("before") }
func (p *tracePlugin) OnExec(*OpContext) error         { return p.record("exec") }
func (p *tracePlugin) OnSuccess(*OpContext) error      { return p.record("success") }
func (p *tracePlugin) OnError(*OpContext, error) error { return p.record("error") }
func (p *tracePlugin) AfterExec(*OpContext) error      { return p.record("after") }

func traceChain(t *testing.T, names ...string) (*Chain, *[]string) {
	t.Helper()
	trace := &[]string{}
	mu := &sync.Mutex{}
	c := &Chain{logger: zerolog.Nop()}
	for _, n := range names {
		c.plugins = append(c.plugins, &tracePlugin{name: n, trace: trace, mu: mu})
	}
	return c, trace
}

func TestChainHookOrder(t *testing.T) {
	c, trace := traceChain(t, "a", "b")

	res, err := c.Execute(context.Background(), "click", func(context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	assert.Equal(t, []string{
		"a.before", "b.before",
		"a.exec", "b.exec",
		"a.success", "b.success",
		"b.after", "a.after", // reverse
	}, *trace)
}

func TestChainErrorPath(t *testing.T) {
	c, trace := traceChain(t, "a")
	boom := errors.New("boom")

	_, err := c.Execute(context.Background(), "click", func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"a.before", "a.exec", "a.error", "a.after"}, *trace)
}

func TestChainHookErrorsDoNotAlterResult(t *testing.T) {
	trace := &[]string{}
	mu := &sync.Mutex{}
	c := &Chain{logger: zerolog.Nop()}
	c.plugins = append(c.plugins, &tracePlugin{name: "a", trace: trace, mu: mu, failHook: "before"})

	res, err := c.Execute(context.Background(), "fill", func(context.Context) (any, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res)
}

func TestChainPausedShortCircuits(t *testing.T) {
	c, trace := traceChain(t, "a")
	c.SetPaused(true)

	calls := 0
	res, err := c.Execute(context.Background(), "click", func(context.Context) (any, error) {
		calls++
		return "direct", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", res)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *trace, "hooks must not fire while paused")
}

func TestRetryExhaustion(t *testing.T) {
	c, _ := traceChain(t, "a")
	c.retry = newRetryPlugin(model.RetrySpec{Attempts: 2, Delay: time.Millisecond}, nil, zerolog.Nop())
	c.retry.sleep = func(context.Context, time.Duration) error { return nil }

	boom := errors.New("transient")
	calls := 0
	_, err := c.Execute(context.Background(), "click", func(context.Context) (any, error) {
		calls++
		return nil, boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls, "attempts=2 means exactly 3 driver invocations")
}

func TestRetryThenSuccess(t *testing.T) {
	c, trace := traceChain(t, "a")
	c.retry = newRetryPlugin(model.RetrySpec{Attempts: 2, Delay: 0}, nil, zerolog.Nop())
	c.retry.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	res, err := c.Execute(context.Background(), "click", func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, c.retry.attempt, "counter resets on success")

	errCount, successCount := 0, 0
	for _, e := range *trace {
		switch e {
		case "a.error":
			errCount++
		case "a.success":
			successCount++
		}
	}
	assert.Equal(t, 2, errCount)
	assert.Equal(t, 1, successCount)
}

func TestRetryNotifiesOnError(t *testing.T) {
	notifier := &stubNotifier{}
	c := &Chain{logger: zerolog.Nop(), key: model.Key{Tenant: 7, Profile: 42}}
	c.retry = newRetryPlugin(model.RetrySpec{Attempts: 1, Delay: 0, NotifyOnError: true}, notifier, zerolog.Nop())
	c.retry.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.Execute(context.Background(), "click", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, notifier.pushes)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	c, _ := traceChain(t, "a")
	c.retry = newRetryPlugin(model.RetrySpec{Attempts: 5, Delay: time.Hour}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := c.Execute(ctx, "click", func(context.Context) (any, error) {
		calls++
		return nil, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancelled delay must not trigger another attempt")
}

type stubNotifier struct {
	mu     sync.Mutex
	pushes int
}

func (s *stubNotifier) Push(context.Context, model.TenantID, model.ProfileID, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes++
	return nil
}

var _ ports.NotificationDispatcher = (*stubNotifier)(nil)
