package nodes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

func newPatch(t *testing.T) *graph.Manager {
	t.Helper()
	return graph.NewManager(VariantIO, 1)
}

// addStreamOutputs adds an outputs boundary node capturing one mono
// stream socket named "out".
func addStreamOutputs(t *testing.T, g *graph.Graph) graph.NodeIndex {
	t.Helper()
	index, _, err := g.AddNode(KindOutputs)
	require.NoError(t, err)
	node, _ := g.Node(index)
	node.SetProperty("type", graph.ChoiceProp("stream"))
	node.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.StreamSocket("out", 1)}))
	_, err = g.UpdateNodeRows(index)
	require.NoError(t, err)
	return index
}

// addMidiInputs adds an inputs boundary node emitting one midi socket
// named "midi".
func addMidiInputs(t *testing.T, g *graph.Graph) graph.NodeIndex {
	t.Helper()
	index, _, err := g.AddNode(KindInputs)
	require.NoError(t, err)
	node, _ := g.Node(index)
	node.SetProperty("type", graph.ChoiceProp("midi"))
	node.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.MidiSocket("midi", 1)}))
	_, err = g.UpdateNodeRows(index)
	require.NoError(t, err)
	return index
}

func buildTraverser(t *testing.T, m *graph.Manager, config engine.SoundConfig) *engine.Traverser {
	t.Helper()
	traverser, warnings, err := engine.NewTraverser(m, m.Root(), config, Registry(), engine.NewResources(), 0)
	require.NoError(t, err)
	for _, w := range warnings {
		t.Logf("planner warning on %v: %s", w.Node, w.Message)
	}
	return traverser
}

// Sine through gain: -6 dB on a 1 kHz sine lands at the expected RMS.
func TestSineThroughGain(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	m := newPatch(t)
	root, _ := m.Graph(m.Root())

	osc, _, err := root.AddNode(KindOscillator)
	require.NoError(t, err)
	oscNode, _ := root.Node(osc)
	oscNode.SetOverrides([]graph.NodeRow{graph.ValueInput("frequency", graph.Float(1000), 1)})

	gain, _, err := root.AddNode(KindGain)
	require.NoError(t, err)
	gainNode, _ := root.Node(gain)
	gainNode.SetProperty("db_gain", graph.FloatProp(-6.0))

	out := addStreamOutputs(t, root)

	_, _, err = root.Connect(osc, graph.StreamSocket("audio", 1), gain, graph.StreamSocket("audio", 1))
	require.NoError(t, err)
	_, _, err = root.Connect(gain, graph.StreamSocket("audio", 1), out, graph.StreamSocket("out", 1))
	require.NoError(t, err)

	traverser := buildTraverser(t, m, config)
	store := midi.NewStore(256, 16)

	var sum float64
	var count int
	for block := 0; block < 32; block++ {
		traverser.Step(nil, nil, nil, store)
		runtime, _ := traverser.Runtime(out)
		for _, sample := range runtime.(*OutputsNode).OutputStreams()[0][0] {
			sum += float64(sample) * float64(sample)
			count++
		}
	}

	// the oscillator runs 3 dB below full scale, so the sine's RMS is 0.5
	// and -6 dB of gain lands at 0.5 * 10^(-6/20) ≈ 0.2506
	rms := math.Sqrt(sum / float64(count))
	expected := 0.5 * math.Pow(10, -6.0/20.0)
	require.InDelta(t, expected, rms, 0.01)
}

// Note on/off through a monophonic envelope: sustain mid-hold, silence
// after release.
func TestNoteThroughEnvelope(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 512}
	m := newPatch(t)
	root, _ := m.Graph(m.Root())

	in := addMidiInputs(t, root)

	toValues, _, err := root.AddNode(KindMidiToValues)
	require.NoError(t, err)

	env, _, err := root.AddNode(KindEnvelope)
	require.NoError(t, err)
	envNode, _ := root.Node(env)
	envNode.SetOverrides([]graph.NodeRow{
		graph.ValueInput("attack", graph.Float(0.01), 1),
		graph.ValueInput("decay", graph.Float(0.1), 1),
		graph.ValueInput("sustain", graph.Float(0.5), 1),
		graph.ValueInput("release", graph.Float(0.2), 1),
	})

	out := addStreamOutputs(t, root)

	_, _, err = root.Connect(in, graph.MidiSocket("midi", 1), toValues, graph.MidiSocket("midi", 1))
	require.NoError(t, err)
	_, _, err = root.Connect(toValues, graph.ValueSocket("gate", 1), env, graph.ValueSocket("gate", 1))
	require.NoError(t, err)
	_, _, err = root.Connect(env, graph.StreamSocket("gain", 1), out, graph.StreamSocket("out", 1))
	require.NoError(t, err)

	traverser := buildTraverser(t, m, config)
	store := midi.NewStore(1024, 64)

	inputRuntime, _ := traverser.Runtime(in)
	boundary := inputRuntime.(*InputsNode)
	outputRuntime, _ := traverser.Runtime(out)
	capture := outputRuntime.(*OutputsNode)

	lastSample := func() float64 {
		block := capture.OutputStreams()[0][0]
		return float64(block[len(block)-1])
	}

	var atBlock50 float64
	for block := 0; block <= 200; block++ {
		switch block {
		case 0:
			boundary.PushMessages([]midi.Message{midi.NewNoteOn(0, 69, 100, 0)})
		case 100:
			boundary.PushMessages([]midi.Message{midi.NewNoteOff(0, 69, 0, 0)})
		}
		traverser.Step(nil, nil, nil, store)
		if block == 50 {
			atBlock50 = lastSample()
		}
	}

	require.InDelta(t, 0.5, atBlock50, 0.05)
	require.Less(t, lastSample(), 0.001)
}

// Polyphonic stealing: with polyphony 2 the third note steals the oldest
// voice, which sees a NoteOff for its held note before the new NoteOn;
// the other voice is untouched.
func TestPolyphonicStealing(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	m := newPatch(t)
	root, _ := m.Graph(m.Root())

	in := addMidiInputs(t, root)

	polyIndex, _, err := m.CreateNode(KindPolyphonic, m.Root(), nil)
	require.NoError(t, err)
	polyNode, _ := root.Node(polyIndex.Node)
	polyNode.SetProperty("polyphony", graph.IntegerProp(2))
	_, err = root.UpdateNodeRows(polyIndex.Node)
	require.NoError(t, err)

	// tap each voice's incoming messages with a midi outputs node inside
	// the child graph
	childRef := polyNode.ChildGraph()
	require.NotNil(t, childRef)
	child, err := m.Graph(childRef.Graph)
	require.NoError(t, err)

	tap, _, err := child.AddNode(KindOutputs)
	require.NoError(t, err)
	tapNode, _ := child.Node(tap)
	tapNode.SetProperty("type", graph.ChoiceProp("midi"))
	tapNode.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.MidiSocket("midi", 1)}))
	_, err = child.UpdateNodeRows(tap)
	require.NoError(t, err)
	_, _, err = child.Connect(childRef.InputNode, graph.MidiSocket("midi", 1), tap, graph.MidiSocket("midi", 1))
	require.NoError(t, err)

	_, _, err = root.Connect(in, graph.MidiSocket("midi", 1), polyIndex.Node, graph.MidiSocket("midi", 1))
	require.NoError(t, err)

	traverser := buildTraverser(t, m, config)
	store := midi.NewStore(1024, 64)

	inputRuntime, _ := traverser.Runtime(in)
	boundary := inputRuntime.(*InputsNode)
	polyRuntime, _ := traverser.Runtime(polyIndex.Node)
	poly := polyRuntime.(*PolyphonicNode)
	require.Len(t, poly.voices, 2)

	// block 0: two notes fill both voices
	boundary.PushMessages([]midi.Message{
		midi.NewNoteOn(0, 60, 100, 0),
		midi.NewNoteOn(0, 64, 100, 0),
	})
	traverser.Step(nil, nil, nil, store)

	require.Equal(t, uint8(60), poly.voices[0].note)
	require.Equal(t, uint8(64), poly.voices[1].note)

	traverser.Step(nil, nil, nil, store)

	// two blocks later: a third note steals the voice holding 60
	boundary.PushMessages([]midi.Message{midi.NewNoteOn(0, 67, 100, 0)})
	traverser.Step(nil, nil, nil, store)

	require.Equal(t, uint8(67), poly.voices[0].note)
	require.Equal(t, uint8(64), poly.voices[1].note)

	// the stolen voice's input stream carried NoteOff(60) then NoteOn(67)
	stolenTap, ok := poly.voices[0].traverser.Runtime(tap)
	require.True(t, ok)
	received := stolenTap.(*OutputsNode).OutputMessages()[0]
	require.Len(t, received, 2)
	require.Equal(t, midi.KindNoteOff, received[0].Kind)
	require.Equal(t, uint8(60), received[0].Note())
	require.Equal(t, midi.KindNoteOn, received[1].Kind)
	require.Equal(t, uint8(67), received[1].Note())

	// the 64 voice saw nothing this block
	untouchedTap, _ := poly.voices[1].traverser.Runtime(tap)
	require.Empty(t, untouchedTap.(*OutputsNode).OutputMessages()[0])
}

func TestMidiTranspose(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	store := midi.NewStore(256, 16)
	node := newMidiTransposeNode(config)

	in, _ := store.Register([]midi.Message{
		midi.NewNoteOn(0, 60, 100, 0),
		midi.NewNoteOn(0, 120, 100, 0),
		midi.NewControlChange(0, midi.CCSustain, 127, 0),
	})

	inSlots := [][]midi.Index{{in}}
	outSlots := [][]midi.Index{{{}}}
	values := [][]graph.Primitive{{graph.Int(12)}}

	ctx := &engine.ProcessContext{Config: config}
	node.Process(ctx,
		engine.NewIns(nil, values, inSlots),
		engine.NewOuts(nil, nil, outSlots),
		store, nil)

	result := store.Borrow(outSlots[0][0])
	require.Len(t, result, 2) // 120+12 dropped
	require.Equal(t, uint8(72), result[0].Note())
	require.Equal(t, midi.KindControlChange, result[1].Kind)
}

func TestMidiFilterExpression(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	store := midi.NewStore(256, 16)
	node := newMidiFilterNode(config)

	_, err := node.Init(engine.InitParams{
		Props:  map[string]graph.Property{"expression": graph.StringProp(`kind == "note_on" and note >= 60`)},
		Config: config,
	})
	require.NoError(t, err)

	in, _ := store.Register([]midi.Message{
		midi.NewNoteOn(0, 48, 100, 0),
		midi.NewNoteOn(0, 72, 100, 0),
		midi.NewNoteOff(0, 72, 0, 0),
	})

	inSlots := [][]midi.Index{{in}}
	outSlots := [][]midi.Index{{{}}}

	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, nil, inSlots),
		engine.NewOuts(nil, nil, outSlots),
		store, nil)

	result := store.Borrow(outSlots[0][0])
	require.Len(t, result, 1)
	require.Equal(t, uint8(72), result[0].Note())
}

func TestMidiFilterCompileErrorIsWarning(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	node := newMidiFilterNode(config)

	result, err := node.Init(engine.InitParams{
		Props:  map[string]graph.Property{"expression": graph.StringProp("note >=")},
		Config: config,
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
}

func TestExpressionNode(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	node := newExpressionNode(config)

	_, err := node.Init(engine.InitParams{
		Props: map[string]graph.Property{
			"expression":      graph.StringProp("x1 * 2 + x2"),
			"values_in_count": graph.IntegerProp(2),
		},
		Config: config,
	})
	require.NoError(t, err)

	values := [][]graph.Primitive{{graph.Float(3)}, {graph.Float(4)}}
	out := [][]graph.Primitive{{graph.None()}}

	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, values, nil),
		engine.NewOuts(nil, out, nil),
		nil, nil)

	f, ok := out[0][0].AsFloat()
	require.True(t, ok)
	require.Equal(t, float32(10), f)

	// no new inputs: output untouched
	out[0][0] = graph.None()
	values[0][0] = graph.None()
	values[1][0] = graph.None()
	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, values, nil),
		engine.NewOuts(nil, out, nil),
		nil, nil)
	require.True(t, out[0][0].IsNone())
}

func TestMidiSwitchSustain(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	store := midi.NewStore(256, 16)
	node := newMidiSwitchNode(config)

	_, err := node.Init(engine.InitParams{
		Props:  map[string]graph.Property{"mode": graph.ChoiceProp("sustain")},
		Config: config,
	})
	require.NoError(t, err)

	process := func(messages []midi.Message, engage graph.Primitive) []midi.Message {
		var in midi.Index
		if len(messages) > 0 {
			in, _ = store.Register(messages)
		}
		inSlots := [][]midi.Index{{in}}
		outSlots := [][]midi.Index{{{}}}
		values := [][]graph.Primitive{{engage}}

		node.Process(&engine.ProcessContext{Config: config},
			engine.NewIns(nil, values, inSlots),
			engine.NewOuts(nil, nil, outSlots),
			store, nil)
		return store.Borrow(outSlots[0][0])
	}

	// engage the pedal, then play a note: note-on passes, note-off is held
	out := process(nil, graph.Bool(true))
	require.Empty(t, out)

	out = process([]midi.Message{midi.NewNoteOn(0, 60, 100, 0)}, graph.None())
	require.Len(t, out, 1)

	out = process([]midi.Message{midi.NewNoteOff(0, 60, 0, 0)}, graph.None())
	require.Empty(t, out)

	// releasing the pedal emits the deferred note-off
	out = process(nil, graph.Bool(false))
	require.Len(t, out, 1)
	require.Equal(t, midi.KindNoteOff, out[0].Kind)
	require.Equal(t, uint8(60), out[0].Note())
}

func TestMidiMerger(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	store := midi.NewStore(256, 16)
	node := newMidiMergerNode(config)

	a, _ := store.Register([]midi.Message{midi.NewNoteOn(0, 60, 100, 0)})
	b, _ := store.Register([]midi.Message{midi.NewNoteOn(1, 64, 100, 0)})

	inSlots := [][]midi.Index{{a}, {b}}
	outSlots := [][]midi.Index{{{}}}

	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, nil, inSlots),
		engine.NewOuts(nil, nil, outSlots),
		store, nil)

	result := store.Borrow(outSlots[0][0])
	require.Len(t, result, 2)
	require.Equal(t, uint8(60), result[0].Note())
	require.Equal(t, uint8(64), result[1].Note())
}

func TestVariantConstructorsCoverIo(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	kinds := []string{
		KindGain, KindOscillator, KindEnvelope, KindBiquadFilter, KindMixer,
		KindInputs, KindOutputs, KindPolyphonic, KindFunction,
		KindMidiToValues, KindMidiTranspose, KindMidiFilter, KindMidiSwitch,
		KindMidiMerger, KindNoteMerger, KindPortamento,
		KindExpression, KindStreamExpression, KindToggle,
		KindMemory, KindSamplePlayer, KindRankPlayer, KindSoundFontPlayer,
	}
	for _, kind := range kinds {
		runtime, err := NewVariant(kind, config)
		require.NoError(t, err, kind)
		require.NotNil(t, runtime, kind)

		_, err = VariantIO(kind, graph.IoContext{DefaultChannelCount: 1}, map[string]graph.Property{})
		require.NoError(t, err, kind)
	}

	_, err := NewVariant("bogus", config)
	require.ErrorIs(t, err, graph.ErrNodeTypeDoesNotExist)
	_, err = VariantIO("bogus", graph.IoContext{}, nil)
	require.ErrorIs(t, err, graph.ErrNodeTypeDoesNotExist)
}
