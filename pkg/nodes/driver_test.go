package nodes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// fakeAudioSource feeds a constant value.
type fakeAudioSource struct {
	id    string
	value float32
}

func (f *fakeAudioSource) ID() string    { return f.id }
func (f *fakeAudioSource) Channels() int { return 1 }
func (f *fakeAudioSource) ReadBlock(dst [][]float32) {
	for c := range dst {
		for i := range dst[c] {
			dst[c][i] = f.value
		}
	}
}

// fakeAudioSink records the last block it was given.
type fakeAudioSink struct {
	id   string
	last []float32
}

func (f *fakeAudioSink) ID() string    { return f.id }
func (f *fakeAudioSink) Channels() int { return 1 }
func (f *fakeAudioSink) WriteBlock(src [][]float32) {
	f.last = append(f.last[:0], src[0]...)
}

// fakeMidiSource replays queued messages once.
type fakeMidiSource struct {
	id      string
	pending []midi.Message
}

func (f *fakeMidiSource) ID() string { return f.id }
func (f *fakeMidiSource) ReadMessages(dst []midi.Message) []midi.Message {
	dst = append(dst, f.pending...)
	f.pending = nil
	return dst
}

// Device routing end to end: a source device feeds the inputs node, the
// graph scales it, the outputs node feeds the sink device.
func TestDriverRoutesAudioThroughGraph(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 32}
	m := newPatch(t)
	root, _ := m.Graph(m.Root())

	in, _, err := root.AddNode(KindInputs)
	require.NoError(t, err)
	inNode, _ := root.Node(in)
	inNode.SetProperty("type", graph.ChoiceProp("stream"))
	inNode.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.StreamSocket("in", 1)}))
	_, err = root.UpdateNodeRows(in)
	require.NoError(t, err)

	gain, _, err := root.AddNode(KindGain)
	require.NoError(t, err)
	gainNode, _ := root.Node(gain)
	gainNode.SetProperty("db_gain", graph.FloatProp(-6.0))

	out := addStreamOutputs(t, root)

	_, _, err = root.Connect(in, graph.StreamSocket("in", 1), gain, graph.StreamSocket("audio", 1))
	require.NoError(t, err)
	_, _, err = root.Connect(gain, graph.StreamSocket("audio", 1), out, graph.StreamSocket("out", 1))
	require.NoError(t, err)

	traverser := buildTraverser(t, m, config)

	updates := make(chan engine.Update, 16)
	events := make(chan engine.Event, 16)
	store := midi.NewStore(256, 16)
	driver := engine.NewDriver(config, store, nil, updates, events)

	source := &fakeAudioSource{id: "src", value: 0.5}
	sink := &fakeAudioSink{id: "dst"}

	updates <- engine.NewTraverserUpdate{Traverser: traverser}
	updates <- engine.AddAudioSourceUpdate{Source: source}
	updates <- engine.AddAudioSinkUpdate{Sink: sink}
	updates <- engine.NewRouteRulesUpdate{Rules: []engine.RouteRule{
		{
			DeviceID: "src", Kind: engine.DeviceStream, Direction: engine.DirectionSource,
			DeviceChannel: 0, Node: in, SocketIndex: 0, NodeChannel: 0,
		},
		{
			DeviceID: "dst", Kind: engine.DeviceStream, Direction: engine.DirectionSink,
			DeviceChannel: 0, Node: out, SocketIndex: 0, NodeChannel: 0,
		},
	}}

	driver.RunBlock()

	require.Len(t, sink.last, config.BufferSize)
	expected := 0.5 * float32(0.5011872)
	require.InDelta(t, expected, sink.last[len(sink.last)-1], 0.001)
}

// A MIDI source rule lands messages in the inputs node, and the graph
// sees them the same block.
func TestDriverRoutesMidi(t *testing.T) {
	config := engine.SoundConfig{SampleRate: 48000, BufferSize: 32}
	m := newPatch(t)
	root, _ := m.Graph(m.Root())

	in := addMidiInputs(t, root)

	toValues, _, err := root.AddNode(KindMidiToValues)
	require.NoError(t, err)
	_, _, err = root.Connect(in, graph.MidiSocket("midi", 1), toValues, graph.MidiSocket("midi", 1))
	require.NoError(t, err)

	capture, _, err := root.AddNode(KindOutputs)
	require.NoError(t, err)
	captureNode, _ := root.Node(capture)
	captureNode.SetProperty("type", graph.ChoiceProp("value"))
	captureNode.SetProperty("socket_list", graph.SocketListProp([]graph.Socket{graph.ValueSocket("freq", 1)}))
	_, err = root.UpdateNodeRows(capture)
	require.NoError(t, err)
	_, _, err = root.Connect(toValues, graph.ValueSocket("frequency", 1), capture, graph.ValueSocket("freq", 1))
	require.NoError(t, err)

	traverser := buildTraverser(t, m, config)

	updates := make(chan engine.Update, 16)
	events := make(chan engine.Event, 16)
	store := midi.NewStore(256, 16)
	driver := engine.NewDriver(config, store, nil, updates, events)

	source := &fakeMidiSource{id: "midi-in", pending: []midi.Message{midi.NewNoteOn(0, 69, 100, 0)}}

	updates <- engine.NewTraverserUpdate{Traverser: traverser}
	updates <- engine.AddMidiSourceUpdate{Source: source}
	updates <- engine.NewRouteRulesUpdate{Rules: []engine.RouteRule{{
		DeviceID: "midi-in", Kind: engine.DeviceMidi, Direction: engine.DirectionSource,
		Node: in,
	}}}

	driver.RunBlock()
	driver.RunBlock()

	runtime, ok := traverser.Runtime(capture)
	require.True(t, ok)
	value := runtime.(*OutputsNode).OutputValues()[0][0]
	freq, isFloat := value.AsFloat()
	require.True(t, isFloat)
	require.InDelta(t, 440.0, float64(freq), 0.01)
}
