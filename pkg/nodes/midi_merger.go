package nodes

import (
	"fmt"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MidiMergerNode concatenates the bundles on its inputs, in socket order,
// into one bundle.
type MidiMergerNode struct {
	engine.BaseNode

	scratch []midi.Message
}

func newMidiMergerNode(_ engine.SoundConfig) *MidiMergerNode {
	return &MidiMergerNode{scratch: make([]midi.Message, 0, 256)}
}

func midiMergerIo(_ graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	inputs := int(propInt(props, "inputs", 2))
	if inputs < 1 {
		inputs = 1
	}

	rows := []graph.NodeRow{
		graph.PropertyRow("inputs", graph.PropertyInteger, graph.IntegerProp(2)),
	}
	for i := 0; i < inputs; i++ {
		rows = append(rows, graph.MidiInput(fmt.Sprintf("input %d", i+1), 1))
	}
	rows = append(rows, graph.MidiOutput("midi", 1))
	return graph.NodeIo{Rows: rows}
}

func (n *MidiMergerNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	n.scratch = n.scratch[:0]
	for i := 0; i < ins.MidiCount(); i++ {
		if bundle := store.Borrow(ins.Midi(i)[0]); bundle != nil {
			n.scratch = append(n.scratch, bundle...)
		}
	}

	out := outs.Midi(0)
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
