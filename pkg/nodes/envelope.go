package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/dsp"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// EnvelopeNode renders a linear ADSR. The gate can arrive either as a
// stream (audio-rate gating) or as a latched boolean on the `gate` value
// input (note-driven gating); the envelope is engaged when either is on.
type EnvelopeNode struct {
	engine.BaseNode

	env       *dsp.ADSR
	gateLatch bool
}

func newEnvelopeNode(config engine.SoundConfig) *EnvelopeNode {
	return &EnvelopeNode{env: dsp.NewADSR(float64(config.SampleRate), 0.01, 0.3, 0.8, 0.5)}
}

func envelopeIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.StreamInput("gate", 0, 1),
		graph.ValueInput("gate", graph.None(), 1),
		graph.ValueInput("attack", graph.Float(0.01), 1),
		graph.ValueInput("decay", graph.Float(0.3), 1),
		graph.ValueInput("sustain", graph.Float(0.8), 1),
		graph.ValueInput("release", graph.Float(0.5), 1),
		graph.StreamOutput("gain", 1),
	)
}

func (n *EnvelopeNode) Init(_ engine.InitParams) (engine.InitResult, error) {
	return engine.InitResult{}, nil
}

func (n *EnvelopeNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	if gate, ok := ins.Value(0)[0].AsBool(); ok {
		n.gateLatch = gate
	}
	if attack, ok := ins.Value(1)[0].AsFloat(); ok && attack > 0 {
		n.env.Attack = float64(attack)
	}
	if decay, ok := ins.Value(2)[0].AsFloat(); ok && decay > 0 {
		n.env.Decay = float64(decay)
	}
	if sustain, ok := ins.Value(3)[0].AsFloat(); ok {
		n.env.Sustain = float64(sustain)
	}
	if release, ok := ins.Value(4)[0].AsFloat(); ok && release > 0 {
		n.env.Release = float64(release)
	}

	gateStream := ins.Stream(0)[0]
	out := outs.Stream(0)[0]
	for i := range out {
		engaged := n.gateLatch || gateStream[i] > dsp.GateThreshold
		out[i] = float32(n.env.Next(engaged))
	}
}

func (n *EnvelopeNode) Reset() {
	n.env.Reset()
	n.gateLatch = false
}
