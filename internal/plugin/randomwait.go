package plugin

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/metrics"
)

const (
	pLongCap = 0.3
	pMidCap  = 0.4
)

type waitKind string

const (
	waitShort waitKind = "short"
	waitMid   waitKind = "mid"
	waitLong  waitKind = "long"
)

// randomWaitPlugin sleeps a randomized interval after each operation to
// pace automation like a human operator. Probabilities for mid and long
// waits grow with each short wait and reset once a longer wait fires.
type randomWaitPlugin struct {
	baseHooks
	spec    model.RandomWaitSpec
	opCount int
	pLong   float64
	pMid    float64

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func newRandomWaitPlugin(spec model.RandomWaitSpec) *randomWaitPlugin {
	return &randomWaitPlugin{
		spec:  spec,
		pLong: spec.BaseLongProb,
		pMid:  spec.BaseMidProb,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep: sleepCtx,
	}
}

func (p *randomWaitPlugin) Kind() model.PluginKind { return model.PluginRandomWait }

func (p *randomWaitPlugin) AfterExec(op *OpContext) error {
	p.opCount++

	kind := p.pickKind()
	d := p.pickDuration(kind)

	if kind == waitShort {
		p.pLong = min(p.pLong+p.spec.Growth, pLongCap)
		p.pMid = min(p.pMid+p.spec.Growth, pMidCap)
	} else {
		p.pLong = p.spec.BaseLongProb
		p.pMid = p.spec.BaseMidProb
	}

	if d <= 0 {
		return nil
	}

	op.Logger.Debug().
		Str("wait_kind", string(kind)).
		Dur("wait", d).
		Int("op_count", p.opCount).
		Msg("random wait")
	metrics.PluginWaits.WithLabelValues(string(kind)).Inc()

	return p.sleep(op.Ctx, d)
}

func (p *randomWaitPlugin) pickKind() waitKind {
	switch {
	case p.spec.LongInterval > 0 && p.opCount%p.spec.LongInterval == 0:
		return waitLong
	case p.spec.MidInterval > 0 && p.opCount%p.spec.MidInterval == 0:
		return waitMid
	}
	r := p.rng.Float64()
	switch {
	case r < p.pLong:
		return waitLong
	case r < p.pLong+p.pMid:
		return waitMid
	default:
		return waitShort
	}
}

func (p *randomWaitPlugin) pickDuration(kind waitKind) time.Duration {
	var lo, hi time.Duration
	switch kind {
	case waitLong:
		lo, hi = p.spec.MidWait, p.spec.MaxWait
	case waitMid:
		lo, hi = p.spec.MinWait, p.spec.MidWait
	default:
		lo, hi = p.spec.MinWait, p.spec.MinWait+p.spec.MinWait/2
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rng.Int64N(int64(hi-lo)))
}
