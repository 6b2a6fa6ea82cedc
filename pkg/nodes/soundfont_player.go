package nodes

import (
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// SoundFontPlayerNode renders its midi input through a SoundFont
// synthesizer. The synthesizer is created at init against the configured
// soundfont resource; Process only feeds events and renders.
type SoundFontPlayerNode struct {
	engine.BaseNode

	config engine.SoundConfig
	synth  *meltysynth.Synthesizer
	font   *meltysynth.SoundFont
	left   []float32
	right  []float32
}

func newSoundFontPlayerNode(config engine.SoundConfig) *SoundFontPlayerNode {
	return &SoundFontPlayerNode{
		config: config,
		left:   make([]float32, config.BufferSize),
		right:  make([]float32, config.BufferSize),
	}
}

func soundFontPlayerIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.PropertyRow("soundfont", graph.PropertyResource,
			graph.ResourceProp(graph.ResourceRef{Namespace: engine.NamespaceSoundFonts})),
		graph.MidiInput("midi", 1),
		graph.StreamOutput("audio", 2),
	)
}

func (n *SoundFontPlayerNode) Init(params engine.InitParams) (engine.InitResult, error) {
	result := engine.InitResult{}

	ref, _ := params.Props["soundfont"].AsResource()
	if ref.Resource == "" {
		result.Warnings = append(result.Warnings, "no soundfont resource configured")
		return result, nil
	}
	result.NeededResources = append(result.NeededResources, ref)
	return result, nil
}

// ensureSynth lazily builds the synthesizer once the soundfont resource
// resolves. Construction allocates, so it happens at most once per
// distinct font; afterwards Process is allocation-free.
func (n *SoundFontPlayerNode) ensureSynth(font *meltysynth.SoundFont) bool {
	if n.synth != nil && n.font == font {
		return true
	}
	settings := meltysynth.NewSynthesizerSettings(int32(n.config.SampleRate))
	settings.BlockSize = int32(n.config.BufferSize)
	synth, err := meltysynth.NewSynthesizer(font, settings)
	if err != nil {
		return false
	}
	n.synth = synth
	n.font = font
	return true
}

func (n *SoundFontPlayerNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, resources []engine.Resource) {
	out := outs.Stream(0)
	clear := func() {
		for c := range out {
			for i := range out[c] {
				out[c][i] = 0
			}
		}
	}

	if len(resources) == 0 || !resources[0].Found || resources[0].SoundFont == nil {
		clear()
		return
	}
	if !n.ensureSynth(resources[0].SoundFont) {
		clear()
		return
	}

	if bundle := store.Borrow(ins.Midi(0)[0]); bundle != nil {
		for _, message := range bundle {
			switch message.Kind {
			case midi.KindNoteOn:
				n.synth.NoteOn(int32(message.Channel), int32(message.Note()), int32(message.Velocity()))
			case midi.KindNoteOff:
				n.synth.NoteOff(int32(message.Channel), int32(message.Note()))
			case midi.KindControlChange:
				n.synth.ProcessMidiMessage(int32(message.Channel), 0xB0, int32(message.Data1), int32(message.Data2))
			case midi.KindProgramChange:
				n.synth.ProcessMidiMessage(int32(message.Channel), 0xC0, int32(message.Data1), 0)
			case midi.KindPitchBend:
				bend := int32(message.Bend) + 8192
				n.synth.ProcessMidiMessage(int32(message.Channel), 0xE0, bend&0x7F, bend>>7)
			default:
				if message.IsReset() {
					n.synth.NoteOffAll(true)
				}
			}
		}
	}

	n.synth.Render(n.left, n.right)

	if len(out) >= 2 {
		copy(out[0], n.left)
		copy(out[1], n.right)
		return
	}
	if len(out) == 1 {
		for i := range out[0] {
			out[0][i] = (n.left[i] + n.right[i]) * 0.5
		}
	}
}

func (n *SoundFontPlayerNode) Reset() {
	if n.synth != nil {
		n.synth.NoteOffAll(false)
	}
}
