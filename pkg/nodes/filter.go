package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/dsp"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// BiquadFilterNode filters its input. Lowpass and bandpass variants carry
// a `resonance` input; highpass runs at a fixed Q, so switching to it
// drops the resonance row (and disconnects anything wired to it).
type BiquadFilterNode struct {
	engine.BaseNode

	sampleRate float64
	filter     *dsp.Biquad
	shape      dsp.FilterShape
	frequency  float64
	resonance  float64
	dirty      bool
}

func newBiquadFilterNode(config engine.SoundConfig) *BiquadFilterNode {
	return &BiquadFilterNode{
		sampleRate: float64(config.SampleRate),
		frequency:  20000,
		resonance:  0.707,
		dirty:      true,
	}
}

func biquadFilterIo(ctx graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	channels := defaultChannels(props, ctx.DefaultChannelCount)
	rows := []graph.NodeRow{
		withChannels(ctx.DefaultChannelCount),
		graph.MultipleChoiceRow("type", []string{"lowpass", "highpass", "bandpass"}, "lowpass"),
		graph.StreamInput("audio", 0, channels),
		graph.ValueInput("frequency", graph.Float(20000), 1),
	}
	if propChoice(props, "type", "lowpass") != "highpass" {
		rows = append(rows, graph.ValueInput("resonance", graph.Float(0.707), 1))
	}
	rows = append(rows, graph.StreamOutput("audio", channels))
	return graph.NodeIo{Rows: rows}
}

func (n *BiquadFilterNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.shape = dsp.FilterShapeByName(propChoice(params.Props, "type", "lowpass"))
	channels := params.ChannelCount()
	n.filter = dsp.NewBiquad(channels)
	n.dirty = true
	return engine.InitResult{}, nil
}

func (n *BiquadFilterNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	if freq, ok := ins.Value(0)[0].AsFloat(); ok && float64(freq) != n.frequency {
		n.frequency = float64(freq)
		n.dirty = true
	}
	if n.shape != dsp.ShapeHighpass && ins.ValueCount() > 1 {
		if q, ok := ins.Value(1)[0].AsFloat(); ok && float64(q) != n.resonance {
			n.resonance = float64(q)
			n.dirty = true
		}
	}
	if n.dirty {
		n.filter.Design(n.shape, n.sampleRate, n.frequency, n.resonance)
		n.dirty = false
	}

	in := ins.Stream(0)
	out := outs.Stream(0)
	for c := range out {
		if c < len(in) {
			copy(out[c], in[c])
			n.filter.Process(out[c], c)
		}
	}
}

func (n *BiquadFilterNode) Reset() {
	if n.filter != nil {
		n.filter.Reset()
	}
}
