package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

const samplePlayerVoices = 16

type sampleVoice struct {
	active   bool
	note     uint8
	position float64
	rate     float64
	gain     float32
}

// SamplePlayerNode plays a sample resource, repitched per note by varying
// the playback rate, with linear interpolation. Up to 16 overlapping
// playbacks.
type SamplePlayerNode struct {
	engine.BaseNode

	sampleRate float64
	voices     [samplePlayerVoices]sampleVoice
}

func newSamplePlayerNode(config engine.SoundConfig) *SamplePlayerNode {
	return &SamplePlayerNode{sampleRate: float64(config.SampleRate)}
}

func samplePlayerIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.PropertyRow("sample", graph.PropertyResource,
			graph.ResourceProp(graph.ResourceRef{Namespace: engine.NamespaceSamples})),
		graph.MidiInput("midi", 1),
		graph.StreamOutput("audio", 1),
	)
}

func (n *SamplePlayerNode) Init(params engine.InitParams) (engine.InitResult, error) {
	result := engine.InitResult{}
	if prop, ok := params.Props["sample"]; ok {
		if ref, ok := prop.AsResource(); ok && ref.Resource != "" {
			result.NeededResources = append(result.NeededResources, ref)
		} else {
			result.Warnings = append(result.Warnings, "no sample resource configured")
		}
	}
	return result, nil
}

func (n *SamplePlayerNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, resources []engine.Resource) {
	out := outs.Stream(0)[0]
	for i := range out {
		out[i] = 0
	}

	if len(resources) == 0 || !resources[0].Found || resources[0].Sample == nil {
		return
	}
	sample := resources[0].Sample

	if bundle := store.Borrow(ins.Midi(0)[0]); bundle != nil {
		for _, message := range bundle {
			switch message.Kind {
			case midi.KindNoteOn:
				n.trigger(sample, message.Note(), message.Velocity())
			case midi.KindNoteOff:
				n.release(message.Note())
			default:
				if message.IsReset() {
					n.Reset()
				}
			}
		}
	}

	step := float64(sample.SampleRate) / n.sampleRate
	for v := range n.voices {
		vc := &n.voices[v]
		if !vc.active {
			continue
		}
		for i := range out {
			at := int(vc.position)
			if at+1 >= len(sample.Data) {
				if sample.LoopEnd > sample.LoopStart && sample.LoopEnd <= len(sample.Data) {
					vc.position = float64(sample.LoopStart)
					at = sample.LoopStart
				} else {
					vc.active = false
					break
				}
			}
			frac := float32(vc.position - float64(at))
			interpolated := sample.Data[at]*(1-frac) + sample.Data[at+1]*frac
			out[i] += interpolated * vc.gain
			vc.position += vc.rate * step
		}
	}
}

func (n *SamplePlayerNode) trigger(sample *engine.Sample, note, velocity uint8) {
	slot := &n.voices[0]
	for v := range n.voices {
		if !n.voices[v].active {
			slot = &n.voices[v]
			break
		}
		if n.voices[v].position > slot.position {
			slot = &n.voices[v]
		}
	}

	root := sample.RootNote
	if root == 0 {
		root = 60
	}
	slot.active = true
	slot.note = note
	slot.position = 0
	slot.rate = midi.NoteToFrequency(note, 0) / midi.NoteToFrequency(root, 0)
	slot.gain = float32(velocity) / 127.0
}

func (n *SamplePlayerNode) release(note uint8) {
	for v := range n.voices {
		if n.voices[v].active && n.voices[v].note == note {
			n.voices[v].active = false
		}
	}
}

func (n *SamplePlayerNode) Reset() {
	for v := range n.voices {
		n.voices[v].active = false
	}
}
