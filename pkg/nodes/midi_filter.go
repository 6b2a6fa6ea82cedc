package nodes

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// MidiFilterNode passes through the messages for which its `expression`
// property evaluates to true. The expression sees the fields of one
// message at a time: kind, channel, note, velocity, controller, value,
// bend. Compile errors surface as init warnings; a runtime error drops the
// message and is not reported.
type MidiFilterNode struct {
	engine.BaseNode

	program *vm.Program
	env     map[string]interface{}
	scratch []midi.Message
}

func newMidiFilterNode(_ engine.SoundConfig) *MidiFilterNode {
	return &MidiFilterNode{
		env:     make(map[string]interface{}, 8),
		scratch: make([]midi.Message, 0, 256),
	}
}

func midiFilterIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.MidiInput("midi", 1),
		graph.PropertyRow("expression", graph.PropertyString, graph.StringProp("")),
		graph.MidiOutput("midi", 1),
	)
}

func (n *MidiFilterNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.program = nil

	source := propString(params.Props, "expression", "")
	if source == "" {
		return engine.InitResult{}, nil
	}

	program, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return engine.InitResult{Warnings: []string{"expression compile failed: " + err.Error()}}, nil
	}
	n.program = program
	return engine.InitResult{}, nil
}

func (n *MidiFilterNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	out := outs.Midi(0)
	bundle := store.Borrow(ins.Midi(0)[0])
	if bundle == nil || n.program == nil {
		// no program means pass-through
		if n.program == nil && bundle != nil {
			if ix, ok := store.Clone(ins.Midi(0)[0]); ok {
				out[0] = ix
				return
			}
		}
		out[0] = midi.Index{}
		return
	}

	n.scratch = n.scratch[:0]
	for _, message := range bundle {
		n.bindMessage(message)
		result, err := expr.Run(n.program, n.env)
		if err != nil {
			continue
		}
		if keep, ok := result.(bool); ok && keep {
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

func (n *MidiFilterNode) bindMessage(message midi.Message) {
	n.env["kind"] = kindName(message.Kind)
	n.env["channel"] = int(message.Channel)
	n.env["note"] = int(message.Data1)
	n.env["velocity"] = int(message.Data2)
	n.env["controller"] = int(message.Data1)
	n.env["value"] = int(message.Data2)
	n.env["bend"] = int(message.Bend)
}

func kindName(kind midi.Kind) string {
	switch kind {
	case midi.KindNoteOn:
		return "note_on"
	case midi.KindNoteOff:
		return "note_off"
	case midi.KindAftertouch:
		return "aftertouch"
	case midi.KindControlChange:
		return "control_change"
	case midi.KindProgramChange:
		return "program_change"
	case midi.KindChannelPressure:
		return "channel_pressure"
	case midi.KindPitchBend:
		return "pitch_bend"
	case midi.KindSysEx:
		return "system_exclusive"
	case midi.KindClock:
		return "clock"
	case midi.KindStart:
		return "start"
	case midi.KindContinue:
		return "continue"
	case midi.KindStop:
		return "stop"
	case midi.KindActiveSensing:
		return "active_sensing"
	case midi.KindReset:
		return "reset"
	}
	return "none"
}
