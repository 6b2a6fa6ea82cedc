package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/dsp"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// oscillatorAmplitude is the node's output level, 3 dB below full scale;
// a sine at this level has an RMS of exactly 0.5.
const oscillatorAmplitude = 0.7071067811865476

// OscillatorNode generates a periodic waveform at the frequency on its
// value input.
type OscillatorNode struct {
	engine.BaseNode

	osc  *dsp.Oscillator
	wave dsp.Waveform
}

func newOscillatorNode(config engine.SoundConfig) *OscillatorNode {
	return &OscillatorNode{osc: dsp.NewOscillator(float64(config.SampleRate))}
}

func oscillatorIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.MultipleChoiceRow("waveform", []string{"sine", "saw", "square", "triangle"}, "sine"),
		graph.ValueInput("frequency", graph.Float(440), 1),
		graph.StreamOutput("audio", 1),
	)
}

func (n *OscillatorNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.wave = dsp.WaveformByName(propChoice(params.Props, "waveform", "sine"))
	return engine.InitResult{}, nil
}

func (n *OscillatorNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, _ *midi.Store, _ []engine.Resource) {
	if freq, ok := ins.Value(0)[0].AsFloat(); ok && freq > 0 {
		n.osc.SetFrequency(float64(freq))
	}
	out := outs.Stream(0)[0]
	n.osc.Fill(out, n.wave)
	for i := range out {
		out[i] *= oscillatorAmplitude
	}
}

func (n *OscillatorNode) Reset() { n.osc.Reset() }
