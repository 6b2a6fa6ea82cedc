package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/dsp"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// GainNode scales its input by a dB amount. The `db_gain` property sets
// the base level; the `gain` value input overrides it at block rate.
type GainNode struct {
	engine.BaseNode

	smoother *dsp.SmoothedGain
}

func newGainNode(config engine.SoundConfig) *GainNode {
	return &GainNode{smoother: dsp.NewSmoothedGain(1.0, config.SampleRate/100)}
}

func gainIo(ctx graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	channels := defaultChannels(props, ctx.DefaultChannelCount)
	return graph.SimpleIo(
		withChannels(ctx.DefaultChannelCount),
		graph.PropertyRow("db_gain", graph.PropertyFloat, graph.FloatProp(0)),
		graph.StreamInput("audio", 0, channels),
		graph.ValueInput("gain", graph.None(), 1),
		graph.StreamOutput("audio", channels),
	)
}

func (n *GainNode) Init(params engine.InitParams) (engine.InitResult, error) {
	db := propFloat(params.Props, "db_gain", 0)
	n.smoother.Snap(dsp.DbToLinear(float64(db)))
	return engine.InitResult{}, nil
}

func (n *GainNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	if db, ok := ins.Value(0)[0].AsFloat(); ok {
		n.smoother.SetTarget(dsp.DbToLinear(float64(db)))
	}

	in := ins.Stream(0)
	out := outs.Stream(0)
	for c := range out {
		if c < len(in) {
			n.smoother.Apply(out[c], in[c])
		}
	}
}

func (n *GainNode) Reset() {}
