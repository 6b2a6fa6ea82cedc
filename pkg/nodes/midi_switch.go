package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

type switchMode uint8

const (
	switchNormal switchMode = iota
	switchSostenuto
	switchSustain
)

// noteSet is a 128-bit set of note numbers.
type noteSet [2]uint64

func (s *noteSet) set(note uint8)      { s[note>>6] |= 1 << (note & 63) }
func (s *noteSet) clear(note uint8)    { s[note>>6] &^= 1 << (note & 63) }
func (s *noteSet) has(note uint8) bool { return s[note>>6]&(1<<(note&63)) != 0 }
func (s *noteSet) reset()              { s[0], s[1] = 0, 0 }

func (s *noteSet) union(other noteSet) noteSet {
	return noteSet{s[0] | other[0], s[1] | other[1]}
}

// MidiSwitchNode gates note flow on its `engage` input, with pedal-style
// latching modes: normal replays held notes on engage, sostenuto freezes
// the notes held at engage time, sustain suppresses note-offs while
// engaged.
type MidiSwitchNode struct {
	engine.BaseNode

	mode     switchMode
	held     noteSet
	ignoring noteSet
	engaged  bool
	scratch  []midi.Message
}

func newMidiSwitchNode(_ engine.SoundConfig) *MidiSwitchNode {
	return &MidiSwitchNode{scratch: make([]midi.Message, 0, 256)}
}

func midiSwitchIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.MidiInput("midi", 1),
		graph.ValueInput("engage", graph.Bool(false), 1),
		graph.MultipleChoiceRow("mode", []string{"normal", "sostenuto", "sustain"}, "normal"),
		graph.MidiOutput("midi", 1),
	)
}

func (n *MidiSwitchNode) Init(params engine.InitParams) (engine.InitResult, error) {
	switch propChoice(params.Props, "mode", "normal") {
	case "sostenuto":
		n.mode = switchSostenuto
	case "sustain":
		n.mode = switchSustain
	default:
		n.mode = switchNormal
	}
	n.ignoring.reset()
	return engine.InitResult{}, nil
}

func (n *MidiSwitchNode) Process(ctx *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	n.scratch = n.scratch[:0]

	if bundle := store.Borrow(ins.Midi(0)[0]); bundle != nil {
		for _, message := range bundle {
			n.routeMessage(message)
		}
	}

	if engage, ok := ins.Value(0)[0].AsBool(); ok && engage != n.engaged {
		n.engaged = engage
		n.applyEngageChange(ctx)
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

func (n *MidiSwitchNode) routeMessage(message midi.Message) {
	switch message.Kind {
	case midi.KindNoteOn:
		note := message.Note()
		switch n.mode {
		case switchNormal:
			if n.engaged {
				n.scratch = append(n.scratch, message)
			}
		case switchSostenuto:
			if !n.ignoring.has(note) {
				n.scratch = append(n.scratch, message)
			}
		case switchSustain:
			n.scratch = append(n.scratch, message)
		}
		n.held.set(note)
	case midi.KindNoteOff:
		note := message.Note()
		switch n.mode {
		case switchNormal:
			if n.engaged {
				n.scratch = append(n.scratch, message)
			}
		case switchSostenuto:
			if !n.ignoring.has(note) {
				n.scratch = append(n.scratch, message)
			}
		case switchSustain:
			if n.engaged {
				// deferred until the pedal releases
				n.ignoring.set(note)
			} else {
				n.scratch = append(n.scratch, message)
			}
		}
		n.held.clear(note)
	default:
		if n.engaged {
			n.scratch = append(n.scratch, message)
		}
	}
}

func (n *MidiSwitchNode) applyEngageChange(ctx *engine.ProcessContext) {
	if n.engaged {
		switch n.mode {
		case switchNormal:
			// replay everything currently held
			for note := 0; note < 128; note++ {
				if n.held.has(uint8(note)) {
					n.scratch = append(n.scratch, midi.NewNoteOn(0, uint8(note), 64, ctx.CurrentTime))
				}
			}
		case switchSostenuto:
			n.ignoring = n.held
		case switchSustain:
		}
		return
	}

	toTurnOff := n.held.union(n.ignoring)
	for note := 0; note < 128; note++ {
		if toTurnOff.has(uint8(note)) {
			n.scratch = append(n.scratch, midi.NewNoteOff(0, uint8(note), 0, ctx.CurrentTime))
		}
	}
	n.held.reset()
	n.ignoring.reset()
}

func (n *MidiSwitchNode) Reset() {
	n.held.reset()
	n.ignoring.reset()
	n.engaged = false
}
