package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/dsp"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// PortamentoNode glides its frequency output toward the frequency on its
// input over `speed` seconds. While disengaged it passes frequencies
// through unchanged. The output is written only while the glide is
// moving; once settled the node goes quiet until the next input.
type PortamentoNode struct {
	engine.BaseNode

	ramp    *dsp.Ramp
	engaged bool
	active  bool
	speed   float64
}

func newPortamentoNode(config engine.SoundConfig) *PortamentoNode {
	return &PortamentoNode{
		ramp:  dsp.NewRamp(float64(config.SampleRate), 440),
		speed: 0.2,
	}
}

func portamentoIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.MultipleChoiceRow("ramp_type", []string{"exponential", "linear"}, "exponential"),
		graph.ValueInput("engage", graph.Bool(false), 1),
		graph.ValueInput("frequency", graph.Float(440), 1),
		graph.ValueInput("speed", graph.Float(0.2), 1),
		graph.ValueOutput("frequency", 1),
	)
}

func (n *PortamentoNode) Init(params engine.InitParams) (engine.InitResult, error) {
	switch propChoice(params.Props, "ramp_type", "exponential") {
	case "linear":
		n.ramp.SetType(dsp.RampLinear)
	default:
		n.ramp.SetType(dsp.RampExponential)
	}
	return engine.InitResult{}, nil
}

func (n *PortamentoNode) Process(ctx *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	out := outs.Value(0)

	if engage, ok := ins.Value(0)[0].AsBool(); ok {
		n.engaged = engage
		if !engage {
			// disengaging lands on the target immediately
			n.ramp.Snap(n.ramp.Target())
			out[0] = graph.Float(float32(n.ramp.Target()))
		}
		n.active = true
	}

	if freq, ok := ins.Value(1)[0].AsFloat(); ok && freq > 0 {
		if n.engaged {
			if err := n.ramp.Set(n.ramp.Position(), float64(freq), n.speed); err != nil {
				n.ramp.Snap(float64(freq))
			}
		} else {
			n.ramp.Snap(float64(freq))
			out[0] = graph.Float(freq)
		}
		n.active = true
	}

	if speed, ok := ins.Value(2)[0].AsFloat(); ok && speed >= 0 {
		n.speed = float64(speed)
		if n.engaged && !n.ramp.Done() {
			if err := n.ramp.Set(n.ramp.Position(), n.ramp.Target(), n.speed); err != nil {
				n.ramp.Snap(n.ramp.Target())
			}
		}
		n.active = true
	}

	if n.engaged && n.active {
		n.ramp.Advance(ctx.Config.BufferSize)
		out[0] = graph.Float(float32(n.ramp.Position()))
		if n.ramp.Done() {
			n.active = false
		}
	}
}

func (n *PortamentoNode) Reset() {
	n.ramp.Snap(n.ramp.Target())
	n.active = false
}
