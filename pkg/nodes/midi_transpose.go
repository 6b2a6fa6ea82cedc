package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MidiTransposeNode shifts note messages by the amount on its `transpose`
// input. Notes transposed outside 0..127 are dropped; everything else
// passes through untouched.
type MidiTransposeNode struct {
	engine.BaseNode

	transposeBy int16
	scratch     []midi.Message
}

func newMidiTransposeNode(_ engine.SoundConfig) *MidiTransposeNode {
	return &MidiTransposeNode{scratch: make([]midi.Message, 0, 256)}
}

func midiTransposeIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.MidiInput("midi", 1),
		graph.ValueInput("transpose", graph.Int(0), 1),
		graph.MidiOutput("midi", 1),
	)
}

func (n *MidiTransposeNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	if amount, ok := ins.Value(0)[0].AsInt(); ok {
		n.transposeBy = int16(clampInt32(amount, -127, 127))
	}

	out := outs.Midi(0)
	bundle := store.Borrow(ins.Midi(0)[0])
	if bundle == nil {
		out[0] = midi.Index{}
		return
	}

	n.scratch = n.scratch[:0]
	for _, message := range bundle {
		switch message.Kind {
		case midi.KindNoteOn, midi.KindNoteOff:
			note := int16(message.Note()) + n.transposeBy
			if note < 0 || note > 127 {
				continue
			}
			message.Data1 = uint8(note)
			n.scratch = append(n.scratch, message)
		default:
			n.scratch = append(n.scratch, message)
		}
	}

	if len(n.scratch) == 0 {
		out[0] = midi.Index{}
		return
	}
	ix, ok := store.Register(n.scratch)
	if !ok {
		ix = midi.Index{}
	}
	out[0] = ix
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
