package nodes

import (
	"time"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

const (
	// voiceDifferenceThreshold is the output level below which a voice
	// counts as silent for deactivation.
	voiceDifferenceThreshold = 0.007
	// voiceMinOnTime is how long a voice must run before silence can
	// deactivate it.
	voiceMinOnTime = 100 * time.Millisecond
)

const noNote = 255

// voice is one instance of the child graph plus its assignment state.
type voice struct {
	traverser *engine.Traverser
	active    bool
	note      uint8
	channel   uint8
	startedAt time.Duration
}

// PolyphonicNode runs N copies of its child graph, routing note messages
// to voices with oldest-note stealing and summing their audio.
type PolyphonicNode struct {
	engine.BaseNode

	voices    []voice
	polyphony int
	childRef  *graph.ChildGraphRef

	msgScratch [2]midi.Message
}

func newPolyphonicNode(_ engine.SoundConfig) *PolyphonicNode {
	return &PolyphonicNode{polyphony: 1}
}

func polyphonicIo(ctx graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	channels := defaultChannels(props, ctx.DefaultChannelCount)
	return graph.NodeIo{
		Rows: []graph.NodeRow{
			withChannels(ctx.DefaultChannelCount),
			graph.MidiInput("midi", 1),
			graph.PropertyRow("polyphony", graph.PropertyInteger, graph.IntegerProp(1)),
			graph.InnerGraphRow(),
			graph.StreamOutput("audio", channels),
		},
		ChildGraphIo: []graph.ChildSocket{
			{Socket: graph.MidiSocket("midi", 1), Direction: graph.DirectionInput},
			{Socket: graph.StreamSocket("audio", channels), Direction: graph.DirectionOutput},
		},
	}
}

func (n *PolyphonicNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.polyphony = int(clampInt32(propInt(params.Props, "polyphony", 1), 1, 255))
	n.childRef = params.ChildGraph

	if n.childRef == nil || params.BuildTraverser == nil {
		return engine.InitResult{Warnings: []string{"polyphonic node has no child graph"}}, nil
	}

	var warnings []string

	// rebuild every voice: the child graph may have changed shape
	n.voices = n.voices[:0]
	for len(n.voices) < n.polyphony {
		traverser, voiceWarnings, err := params.BuildTraverser(n.childRef.Graph, params.CurrentTime)
		if err != nil {
			return engine.InitResult{}, err
		}
		for _, w := range voiceWarnings {
			warnings = append(warnings, w.Message)
		}
		n.voices = append(n.voices, voice{
			traverser: traverser,
			note:      noNote,
			channel:   noNote,
			startedAt: params.CurrentTime,
		})
	}

	return engine.InitResult{Warnings: warnings}, nil
}

func (n *PolyphonicNode) Process(ctx *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	out := outs.Stream(0)
	for c := range out {
		for i := range out[c] {
			out[c][i] = 0
		}
	}

	if n.childRef == nil || len(n.voices) == 0 {
		return
	}

	if bundle := store.Borrow(ins.Midi(0)[0]); bundle != nil {
		for _, message := range bundle {
			n.dispatch(ctx, message)
		}
	}

	for i := range n.voices {
		v := &n.voices[i]
		if !v.active {
			continue
		}

		v.traverser.Step(ctx.Resources, nil, nil, store)

		output, ok := n.voiceOutput(v)
		if !ok {
			continue
		}
		streams := output.OutputStreams()
		if len(streams) == 0 {
			continue
		}

		silent := true
		for c := range out {
			if c >= len(streams[0]) {
				break
			}
			for s := range out[c] {
				sample := streams[0][c][s]
				out[c][s] += sample
				if sample > voiceDifferenceThreshold || sample < -voiceDifferenceThreshold {
					silent = false
				}
			}
		}

		if silent && ctx.CurrentTime-v.startedAt > voiceMinOnTime {
			v.active = false
		}
	}
}

// dispatch routes one message per the note-assignment rules.
func (n *PolyphonicNode) dispatch(ctx *engine.ProcessContext, message midi.Message) {
	switch message.Kind {
	case midi.KindNoteOff:
		if v := n.findActive(message.Note(), message.Channel); v != nil {
			n.forward(v, message)
		}

	case midi.KindNoteOn:
		note, channel := message.Note(), message.Channel

		// retrigger a voice already holding this note
		if v := n.findActive(note, channel); v != nil {
			n.forward(v, message)
			v.startedAt = ctx.CurrentTime
			return
		}

		v := n.findInactive()
		if v == nil {
			// steal the voice that started longest ago
			v = n.oldest()
			n.msgScratch[0] = midi.NewNoteOff(v.channel, v.note, 0, message.Timestamp)
			n.msgScratch[1] = message
			n.forwardAll(v, n.msgScratch[:2])
		} else {
			// close out whatever the voice last held; it may be stale
			if v.note != noNote {
				n.msgScratch[0] = midi.NewNoteOff(v.channel, v.note, 0, message.Timestamp)
				n.msgScratch[1] = message
				n.forwardAll(v, n.msgScratch[:2])
			} else {
				n.forward(v, message)
			}
		}

		v.active = true
		v.note = note
		v.channel = channel
		v.startedAt = ctx.CurrentTime

	default:
		if message.IsReset() {
			for i := range n.voices {
				n.voices[i].active = false
				n.voices[i].traverser.Reset()
			}
			return
		}

		// broadcast to active voices, filtered by channel when the
		// message has one
		for i := range n.voices {
			v := &n.voices[i]
			if !v.active {
				continue
			}
			if message.HasChannel() && v.channel != message.Channel {
				continue
			}
			n.forward(v, message)
		}
	}
}

func (n *PolyphonicNode) findActive(note, channel uint8) *voice {
	for i := range n.voices {
		v := &n.voices[i]
		if v.active && v.note == note && v.channel == channel {
			return v
		}
	}
	return nil
}

func (n *PolyphonicNode) findInactive() *voice {
	for i := range n.voices {
		if !n.voices[i].active {
			return &n.voices[i]
		}
	}
	return nil
}

func (n *PolyphonicNode) oldest() *voice {
	oldest := &n.voices[0]
	for i := 1; i < len(n.voices); i++ {
		if n.voices[i].startedAt < oldest.startedAt {
			oldest = &n.voices[i]
		}
	}
	return oldest
}

func (n *PolyphonicNode) forward(v *voice, message midi.Message) {
	n.msgScratch[0] = message
	n.forwardAll(v, n.msgScratch[:1])
}

func (n *PolyphonicNode) forwardAll(v *voice, messages []midi.Message) {
	runtime, ok := v.traverser.Runtime(n.childRef.InputNode)
	if !ok {
		return
	}
	if boundary, ok := runtime.(engine.BoundaryInput); ok {
		boundary.PushMessages(messages)
	}
}

func (n *PolyphonicNode) voiceOutput(v *voice) (engine.BoundaryOutput, bool) {
	runtime, ok := v.traverser.Runtime(n.childRef.OutputNode)
	if !ok {
		return nil, false
	}
	boundary, ok := runtime.(engine.BoundaryOutput)
	return boundary, ok
}

func (n *PolyphonicNode) Reset() {
	for i := range n.voices {
		n.voices[i].active = false
		n.voices[i].note = noNote
		n.voices[i].channel = noNote
		n.voices[i].traverser.Reset()
	}
}
