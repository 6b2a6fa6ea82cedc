package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MidiToValuesNode turns note messages into frequency/gate/velocity
// values, last-note priority.
type MidiToValuesNode struct {
	engine.BaseNode
}

func newMidiToValuesNode(_ engine.SoundConfig) *MidiToValuesNode {
	return &MidiToValuesNode{}
}

func midiToValuesIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.MidiInput("midi", 1),
		graph.ValueOutput("frequency", 1),
		graph.ValueOutput("gate", 1),
		graph.ValueOutput("velocity", 1),
	)
}

func (n *MidiToValuesNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	bundle := store.Borrow(ins.Midi(0)[0])
	if bundle == nil {
		return
	}

	for _, message := range bundle {
		switch message.Kind {
		case midi.KindNoteOn:
			outs.Value(0)[0] = graph.Float(float32(midi.NoteToFrequency(message.Note(), 0)))
			outs.Value(1)[0] = graph.Bool(true)
			outs.Value(2)[0] = graph.Float(float32(message.Velocity()) / 127.0)
		case midi.KindNoteOff:
			outs.Value(1)[0] = graph.Bool(false)
		default:
			if message.IsReset() {
				outs.Value(1)[0] = graph.Bool(false)
			}
		}
	}
}
