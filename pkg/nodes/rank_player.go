package nodes

import (
	"math"

	"github.com/wwtos/mjuo-sub000/pkg/dsp"
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// rankReleaseTime bounds the fade applied when a rank note releases, so
// stopping a pipe never clicks.
const rankReleaseTime = 0.01

type rankVoice struct {
	active    bool
	releasing bool
	note      uint8
	position  float64
	fade      float32
}

// RankPlayerNode plays an organ rank: one recorded sample per note, each
// played back at its natural rate. `detune` bends the whole rank in
// cents; `db_gain` scales it. Voices loop their sample's sustain loop
// while held and fade out on release.
type RankPlayerNode struct {
	engine.BaseNode

	sampleRate float64
	polyphony  int
	voices     []rankVoice
	rate       float64
	gain       float32
	fadeStep   float32
}

func newRankPlayerNode(config engine.SoundConfig) *RankPlayerNode {
	return &RankPlayerNode{
		sampleRate: float64(config.SampleRate),
		polyphony:  16,
		rate:       1,
		gain:       1,
		fadeStep:   float32(1.0 / (float64(config.SampleRate) * rankReleaseTime)),
	}
}

func rankPlayerIo(_ graph.IoContext, _ map[string]graph.Property) graph.NodeIo {
	return graph.SimpleIo(
		graph.PropertyRow("rank", graph.PropertyResource,
			graph.ResourceProp(graph.ResourceRef{Namespace: engine.NamespaceRanks})),
		graph.PropertyRow("polyphony", graph.PropertyInteger, graph.IntegerProp(16)),
		graph.MidiInput("midi", 1),
		graph.ValueInput("detune", graph.Float(0), 1),
		graph.ValueInput("db_gain", graph.Float(0), 1),
		graph.StreamOutput("audio", 1),
	)
}

func (n *RankPlayerNode) Init(params engine.InitParams) (engine.InitResult, error) {
	result := engine.InitResult{}

	n.polyphony = int(clampInt32(propInt(params.Props, "polyphony", 16), 1, 128))
	if len(n.voices) != n.polyphony {
		n.voices = make([]rankVoice, n.polyphony)
	}

	ref, _ := params.Props["rank"].AsResource()
	if ref.Resource == "" {
		result.Warnings = append(result.Warnings, "no rank resource configured")
		return result, nil
	}
	result.NeededResources = append(result.NeededResources, ref)
	return result, nil
}

func (n *RankPlayerNode) Process(_ *engine.ProcessContext, ins engine.Ins, outs engine.Outs, store *midi.Store, resources []engine.Resource) {
	out := outs.Stream(0)[0]
	for i := range out {
		out[i] = 0
	}

	if len(resources) == 0 || !resources[0].Found || resources[0].Rank == nil {
		return
	}
	rank := resources[0].Rank

	if cents, ok := ins.Value(0)[0].AsFloat(); ok {
		n.rate = math.Exp2(float64(cents) / 1200.0)
	}
	if db, ok := ins.Value(1)[0].AsFloat(); ok {
		n.gain = float32(dsp.DbToLinear(float64(db)))
	}

	if bundle := store.Borrow(ins.Midi(0)[0]); bundle != nil {
		for _, message := range bundle {
			switch message.Kind {
			case midi.KindNoteOn:
				if _, ok := rank.SampleFor(message.Note()); ok {
					n.playNote(message.Note())
				}
			case midi.KindNoteOff:
				n.releaseNote(message.Note())
			default:
				if message.IsReset() {
					n.Reset()
				}
			}
		}
	}

	for v := range n.voices {
		voice := &n.voices[v]
		if !voice.active {
			continue
		}
		sample, ok := rank.SampleFor(voice.note)
		if !ok || len(sample.Data) < 2 {
			voice.active = false
			continue
		}

		step := n.rate * float64(sample.SampleRate) / n.sampleRate
		for i := range out {
			at := int(voice.position)
			if at+1 >= len(sample.Data) {
				if !voice.releasing && sample.LoopEnd > sample.LoopStart && sample.LoopEnd <= len(sample.Data) {
					voice.position = float64(sample.LoopStart)
					at = sample.LoopStart
				} else {
					voice.active = false
					break
				}
			}

			frac := float32(voice.position - float64(at))
			interpolated := sample.Data[at]*(1-frac) + sample.Data[at+1]*frac
			out[i] += interpolated * n.gain * voice.fade

			if voice.releasing {
				voice.fade -= n.fadeStep
				if voice.fade <= 0 {
					voice.active = false
					break
				}
			}

			if !voice.releasing && sample.LoopEnd > sample.LoopStart &&
				voice.position >= float64(sample.LoopEnd) {
				voice.position = float64(sample.LoopStart) + (voice.position - float64(sample.LoopEnd))
			}
			voice.position += step
		}
	}
}

// playNote assigns a voice: the one already on this note, else an idle
// one, else the first slot.
func (n *RankPlayerNode) playNote(note uint8) {
	slot := &n.voices[0]
	found := false
	for v := range n.voices {
		if n.voices[v].active && n.voices[v].note == note {
			slot = &n.voices[v]
			found = true
			break
		}
	}
	if !found {
		for v := range n.voices {
			if !n.voices[v].active {
				slot = &n.voices[v]
				break
			}
		}
	}

	slot.active = true
	slot.releasing = false
	slot.note = note
	slot.position = 0
	slot.fade = 1
}

func (n *RankPlayerNode) releaseNote(note uint8) {
	for v := range n.voices {
		if n.voices[v].active && n.voices[v].note == note {
			n.voices[v].releasing = true
		}
	}
}

func (n *RankPlayerNode) Reset() {
	for v := range n.voices {
		n.voices[v].active = false
		n.voices[v].releasing = false
	}
}
