package nodes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

func TestNoteMergerPassesOnlyUnionChanges(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	store := midi.NewStore(256, 16)
	node := newNoteMergerNode(config)

	_, err := node.Init(engine.InitParams{Props: map[string]graph.Property{}, Config: config})
	require.NoError(t, err)

	process := func(first, second []midi.Message) []midi.Message {
		var a, b midi.Index
		if len(first) > 0 {
			a, _ = store.Register(first)
		}
		if len(second) > 0 {
			b, _ = store.Register(second)
		}
		outSlots := [][]midi.Index{{{}}}
		node.Process(&engine.ProcessContext{Config: config},
			engine.NewIns(nil, nil, [][]midi.Index{{a}, {b}}),
			engine.NewOuts(nil, nil, outSlots),
			store, nil)
		return store.Borrow(outSlots[0][0])
	}

	// both inputs press the same note: only the first press changes the
	// union and passes through
	out := process(
		[]midi.Message{midi.NewNoteOn(0, 60, 100, 0)},
		[]midi.Message{midi.NewNoteOn(0, 60, 100, 0)},
	)
	require.Len(t, out, 1)
	require.Equal(t, midi.KindNoteOn, out[0].Kind)

	// releasing on one input keeps the note held by the other: blocked
	out = process([]midi.Message{midi.NewNoteOff(0, 60, 0, 0)}, nil)
	require.Empty(t, out)

	// releasing on the last holder changes the union: the off passes
	out = process(nil, []midi.Message{midi.NewNoteOff(0, 60, 0, 0)})
	require.Len(t, out, 1)
	require.Equal(t, midi.KindNoteOff, out[0].Kind)

	// non-note messages always pass
	out = process([]midi.Message{midi.NewControlChange(0, midi.CCSustain, 127, 0)}, nil)
	require.Len(t, out, 1)
	require.Equal(t, midi.KindControlChange, out[0].Kind)
}

func TestPortamentoGlides(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 480}
	node := newPortamentoNode(config)

	_, err := node.Init(engine.InitParams{
		Props:  map[string]graph.Property{"ramp_type": graph.ChoiceProp("linear")},
		Config: config,
	})
	require.NoError(t, err)

	out := [][]graph.Primitive{{graph.None()}}
	process := func(engage, freq, speed graph.Primitive) graph.Primitive {
		out[0][0] = graph.None()
		values := [][]graph.Primitive{{engage}, {freq}, {speed}}
		node.Process(&engine.ProcessContext{Config: config},
			engine.NewIns(nil, values, nil),
			engine.NewOuts(nil, out, nil),
			nil, nil)
		return out[0][0]
	}

	// engage at 440 with a 100 ms glide time: already settled
	value := process(graph.Bool(true), graph.Float(440), graph.Float(0.1))
	f, ok := value.AsFloat()
	require.True(t, ok)
	require.InDelta(t, 440.0, float64(f), 0.01)

	// a new target starts the glide; one 10 ms block covers a tenth of it
	value = process(graph.None(), graph.Float(880), graph.None())
	f, ok = value.AsFloat()
	require.True(t, ok)
	require.InDelta(t, 484.0, float64(f), 0.5)

	// after the full glide time the output settles on the target...
	var settled graph.Primitive
	for block := 0; block < 11; block++ {
		settled = process(graph.None(), graph.None(), graph.None())
		if settled.IsNone() {
			break
		}
		f, _ = settled.AsFloat()
	}
	require.InDelta(t, 880.0, float64(f), 0.01)

	// ...and the node goes quiet until the next input
	value = process(graph.None(), graph.None(), graph.None())
	require.True(t, value.IsNone())
}

func TestPortamentoPassThroughWhenDisengaged(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	node := newPortamentoNode(config)

	_, err := node.Init(engine.InitParams{
		Props:  map[string]graph.Property{"ramp_type": graph.ChoiceProp("linear")},
		Config: config,
	})
	require.NoError(t, err)

	out := [][]graph.Primitive{{graph.None()}}
	values := [][]graph.Primitive{{graph.Bool(false)}, {graph.Float(523.25)}, {graph.None()}}
	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, values, nil),
		engine.NewOuts(nil, out, nil),
		nil, nil)

	f, ok := out[0][0].AsFloat()
	require.True(t, ok)
	require.InDelta(t, 523.25, float64(f), 0.01)
}

func rankPlayerResources(data []float32) []engine.Resource {
	rank := &engine.Rank{Samples: map[uint8]*engine.Sample{
		60: {Data: data, SampleRate: 48000, RootNote: 60},
	}}
	return []engine.Resource{{Type: engine.ResourceRank, Found: true, Rank: rank}}
}

func TestRankPlayerPlaysNotesItKnows(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 16}
	store := midi.NewStore(256, 16)
	node := newRankPlayerNode(config)

	_, err := node.Init(engine.InitParams{
		Props: map[string]graph.Property{
			"rank": graph.ResourceProp(graph.ResourceRef{Namespace: engine.NamespaceRanks, Resource: "principal"}),
		},
		Config: config,
	})
	require.NoError(t, err)

	data := make([]float32, 128)
	for i := range data {
		data[i] = float32(i)
	}
	resources := rankPlayerResources(data)

	trigger, _ := store.Register([]midi.Message{midi.NewNoteOn(0, 60, 127, 0)})
	out := [][][]float32{{make([]float32, config.BufferSize)}}
	values := [][]graph.Primitive{{graph.None()}, {graph.None()}}

	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, values, [][]midi.Index{{trigger}}),
		engine.NewOuts(out, nil, nil),
		store, resources)

	// rank samples play at their natural rate
	require.InDelta(t, float64(data[5]), float64(out[0][0][5]), 1e-4)

	// a note with no pipe in the rank stays silent
	node.Reset()
	unknown, _ := store.Register([]midi.Message{midi.NewNoteOn(0, 61, 127, 0)})
	out = [][][]float32{{make([]float32, config.BufferSize)}}
	node.Process(&engine.ProcessContext{Config: config},
		engine.NewIns(nil, values, [][]midi.Index{{unknown}}),
		engine.NewOuts(out, nil, nil),
		store, resources)
	for _, sample := range out[0][0] {
		require.Zero(t, sample)
	}
}

func TestRankPlayerReleaseFadesToSilence(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 64}
	store := midi.NewStore(1024, 64)
	node := newRankPlayerNode(config)

	_, err := node.Init(engine.InitParams{
		Props: map[string]graph.Property{
			"rank": graph.ResourceProp(graph.ResourceRef{Namespace: engine.NamespaceRanks, Resource: "principal"}),
		},
		Config: config,
	})
	require.NoError(t, err)

	// a looping constant sample holds forever while the note is down
	data := make([]float32, 4096)
	for i := range data {
		data[i] = 0.5
	}
	rank := &engine.Rank{Samples: map[uint8]*engine.Sample{
		60: {Data: data, SampleRate: 48000, RootNote: 60, LoopStart: 0, LoopEnd: 4000},
	}}
	resources := []engine.Resource{{Type: engine.ResourceRank, Found: true, Rank: rank}}
	values := [][]graph.Primitive{{graph.None()}, {graph.None()}}

	step := func(messages []midi.Message) []float32 {
		var in midi.Index
		if len(messages) > 0 {
			in, _ = store.Register(messages)
		}
		out := [][][]float32{{make([]float32, config.BufferSize)}}
		node.Process(&engine.ProcessContext{Config: config},
			engine.NewIns(nil, values, [][]midi.Index{{in}}),
			engine.NewOuts(out, nil, nil),
			store, resources)
		return out[0][0]
	}

	block := step([]midi.Message{midi.NewNoteOn(0, 60, 127, 0)})
	require.InDelta(t, 0.5, float64(block[32]), 1e-4)

	// the loop sustains across many blocks
	for i := 0; i < 10; i++ {
		block = step(nil)
	}
	require.InDelta(t, 0.5, float64(block[32]), 1e-4)

	// release fades out within the fade time (10 ms = 480 samples)
	step([]midi.Message{midi.NewNoteOff(0, 60, 0, 0)})
	for i := 0; i < 10; i++ {
		block = step(nil)
	}
	for _, sample := range block {
		require.Zero(t, sample)
	}
}
