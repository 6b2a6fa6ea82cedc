package nodes

import (
	"fmt"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// NoteMergerNode merges note streams from several sources into one. Each
// input tracks its own held-note set; a note-on or note-off only passes
// through when it changes the union, so a note held on two inputs stays
// on until both release it. Non-note messages always pass.
type NoteMergerNode struct {
	engine.BaseNode

	states   []noteSet
	combined noteSet
	scratch  []midi.Message
}

func newNoteMergerNode(_ engine.SoundConfig) *NoteMergerNode {
	return &NoteMergerNode{scratch: make([]midi.Message, 0, 256)}
}

func noteMergerIo(_ graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	inputs := int(propInt(props, "input_count", 2))
	if inputs < 2 {
		inputs = 2
	}

	rows := []graph.NodeRow{
		graph.PropertyRow("input_count", graph.PropertyInteger, graph.IntegerProp(2)),
		graph.MidiOutput("midi", 1),
	}
	for i := 0; i < inputs; i++ {
		rows = append(rows, graph.MidiInput(fmt.Sprintf("input %d", i+1), 1))
	}
	return graph.NodeIo{Rows: rows}
}

func (n *NoteMergerNode) Init(params engine.InitParams) (engine.InitResult, error) {
	inputs := int(propInt(params.Props, "input_count", 2))
	if inputs < 2 {
		inputs = 2
	}
	if inputs != len(n.states) {
		n.states = make([]noteSet, inputs)
		n.combine()
	}
	return engine.InitResult{}, nil
}

func (n *NoteMergerNode) combine() {
	var sum noteSet
	for i := range n.states {
		sum = sum.union(n.states[i])
	}
	n.combined = sum
}

func (n *NoteMergerNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	n.scratch = n.scratch[:0]

	for i := 0; i < ins.MidiCount() && i < len(n.states); i++ {
		bundle := store.Borrow(ins.Midi(i)[0])
		if bundle == nil {
			continue
		}
		for _, message := range bundle {
			switch message.Kind {
			case midi.KindNoteOn:
				before := n.combined
				n.states[i].set(message.Note())
				n.combine()
				if n.combined != before {
					n.scratch = append(n.scratch, message)
				}
			case midi.KindNoteOff:
				before := n.combined
				n.states[i].clear(message.Note())
				n.combine()
				if n.combined != before {
					n.scratch = append(n.scratch, message)
				}
			default:
				n.scratch = append(n.scratch, message)
			}
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

func (n *NoteMergerNode) Reset() {
	for i := range n.states {
		n.states[i].reset()
	}
	n.combined.reset()
}
