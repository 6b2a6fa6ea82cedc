package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

var testConfig = SoundConfig{SampleRate: 48000, BufferSize: 16}

// passNode copies its stream input to its output, adding one to every
// sample. Chained, it counts how many hops a signal has made; in a
// feedback loop it counts blocks.
type passNode struct {
	BaseNode
	last float32
}

func (n *passNode) Process(_ *ProcessContext, ins Ins, outs Outs, _ *midi.Store, _ []Resource) {
	in := ins.Stream(0)[0]
	out := outs.Stream(0)[0]
	for i := range out {
		out[i] = in[i] + 1
	}
	n.last = out[len(out)-1]
}

// valueProbeNode records the value it saw on its input each block.
type valueProbeNode struct {
	BaseNode
	seen []graph.Primitive
}

func (n *valueProbeNode) Process(_ *ProcessContext, ins Ins, _ Outs, _ *midi.Store, _ []Resource) {
	n.seen = append(n.seen, ins.Value(0)[0])
}

// emitNode registers a bundle on blocks where armed, and clears its
// output slot otherwise.
type emitNode struct {
	BaseNode
	emit []midi.Message
}

func (n *emitNode) Process(_ *ProcessContext, _ Ins, outs Outs, store *midi.Store, _ []Resource) {
	out := outs.Midi(0)
	if len(n.emit) == 0 {
		out[0] = midi.Index{}
		return
	}
	ix, ok := store.Register(n.emit)
	if !ok {
		ix = midi.Index{}
	}
	out[0] = ix
	n.emit = nil
}

func testRegistry() Registry {
	return Registry{
		New: func(kind string, _ SoundConfig) (Runtime, error) {
			switch kind {
			case "pass":
				return &passNode{}, nil
			case "probe":
				return &valueProbeNode{}, nil
			case "emit":
				return &emitNode{}, nil
			}
			return nil, graph.ErrNodeTypeDoesNotExist
		},
		IO: testIo,
	}
}

func testIo(kind string, _ graph.IoContext, _ map[string]graph.Property) (graph.NodeIo, error) {
	switch kind {
	case "pass":
		return graph.SimpleIo(
			graph.StreamInput("audio", 0, 1),
			graph.StreamOutput("audio", 1),
		), nil
	case "probe":
		return graph.SimpleIo(
			graph.ValueInput("value", graph.Float(42), 1),
		), nil
	case "emit":
		return graph.SimpleIo(
			graph.MidiOutput("midi", 1),
		), nil
	}
	return graph.NodeIo{}, graph.ErrNodeTypeDoesNotExist
}

func TestTraversalOrderChain(t *testing.T) {
	g := graph.New(testIo, 1)

	a, _, _ := g.AddNode("pass")
	b, _, _ := g.AddNode("pass")
	c, _, _ := g.AddNode("pass")

	// connect out of insertion order: c → a → b
	_, _, err := g.Connect(c, graph.StreamSocket("audio", 1), a, graph.StreamSocket("audio", 1))
	require.NoError(t, err)
	_, _, err = g.Connect(a, graph.StreamSocket("audio", 1), b, graph.StreamSocket("audio", 1))
	require.NoError(t, err)

	order, feedback := TraversalOrder(g)
	require.Empty(t, feedback)
	require.Equal(t, []graph.NodeIndex{c, a, b}, order)
}

func TestTraversalOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := graph.New(testIo, 1)

		count := rapid.IntRange(2, 12).Draw(t, "count")
		indexes := make([]graph.NodeIndex, count)
		for i := range indexes {
			indexes[i], _, _ = g.AddNode("pass")
		}

		// wire random forward-only edges (one input each, so a random tree)
		for i := 1; i < count; i++ {
			if rapid.Bool().Draw(t, "skip") {
				continue
			}
			from := rapid.IntRange(0, i-1).Draw(t, "from")
			_, _, err := g.Connect(indexes[from], graph.StreamSocket("audio", 1), indexes[i], graph.StreamSocket("audio", 1))
			if err != nil {
				continue
			}
		}

		order, feedback := TraversalOrder(g)
		if len(feedback) != 0 {
			t.Fatalf("acyclic graph produced feedback arcs: %v", feedback)
		}

		position := map[graph.NodeIndex]int{}
		for i, ix := range order {
			position[ix] = i
		}
		for _, conn := range g.Connections() {
			if position[conn.FromNode] >= position[conn.ToNode] {
				t.Fatalf("edge %v→%v violates order", conn.FromNode, conn.ToNode)
			}
		}
	})
}

func TestFeedbackCycleCutOnce(t *testing.T) {
	g := graph.New(testIo, 1)

	a, _, _ := g.AddNode("pass")
	b, _, _ := g.AddNode("pass")

	_, _, err := g.Connect(a, graph.StreamSocket("audio", 1), b, graph.StreamSocket("audio", 1))
	require.NoError(t, err)
	_, _, err = g.Connect(b, graph.StreamSocket("audio", 1), a, graph.StreamSocket("audio", 1))
	require.NoError(t, err)

	order, feedback := TraversalOrder(g)
	require.Len(t, order, 2)
	require.Len(t, feedback, 1)
}

func TestFeedbackSelfLoopReadsPreviousBlock(t *testing.T) {
	manager := graph.NewManager(testIo, 1)
	root, _ := manager.Graph(manager.Root())

	a, _, _ := root.AddNode("pass")
	_, _, err := root.Connect(a, graph.StreamSocket("audio", 1), a, graph.StreamSocket("audio", 1))
	require.NoError(t, err)

	_, feedback := TraversalOrder(root)
	require.Len(t, feedback, 1)

	traverser, warnings, err := NewTraverser(manager, manager.Root(), testConfig, testRegistry(), NewResources(), 0)
	require.NoError(t, err)
	require.Empty(t, warnings)

	store := midi.NewStore(64, 8)

	// block N sees block N-1's output: the counter climbs one per block
	traverser.Step(nil, nil, nil, store)
	traverser.Step(nil, nil, nil, store)
	traverser.Step(nil, nil, nil, store)

	runtime, ok := traverser.Runtime(a)
	require.True(t, ok)
	require.Equal(t, float32(3), runtime.(*passNode).last)
}

func TestDisconnectedValueInputReadsDefault(t *testing.T) {
	manager := graph.NewManager(testIo, 1)

	root, _ := manager.Graph(manager.Root())
	probeIndex, _, _ := root.AddNode("probe")

	traverser, _, err := NewTraverser(manager, manager.Root(), testConfig, testRegistry(), NewResources(), 0)
	require.NoError(t, err)

	store := midi.NewStore(64, 8)
	traverser.Step(nil, nil, nil, store)
	traverser.Step(nil, nil, nil, store)

	runtime, _ := traverser.Runtime(probeIndex)
	probe := runtime.(*valueProbeNode)
	require.Len(t, probe.seen, 2)

	// the declared default arrives on the first block
	f, ok := probe.seen[0].AsFloat()
	require.True(t, ok)
	require.Equal(t, float32(42), f)

	// afterwards the input is silent (no new value)
	require.True(t, probe.seen[1].IsNone())
}

func TestInputValueDefaultInjection(t *testing.T) {
	manager := graph.NewManager(testIo, 1)
	root, _ := manager.Graph(manager.Root())
	probeIndex, _, _ := root.AddNode("probe")

	traverser, _, err := NewTraverser(manager, manager.Root(), testConfig, testRegistry(), NewResources(), 0)
	require.NoError(t, err)

	store := midi.NewStore(64, 8)
	traverser.Step(nil, nil, nil, store)

	require.NoError(t, traverser.InputValueDefault(probeIndex, graph.ValueSocket("value", 1), graph.Float(7)))
	traverser.Step(nil, nil, nil, store)

	runtime, _ := traverser.Runtime(probeIndex)
	probe := runtime.(*valueProbeNode)
	f, ok := probe.seen[1].AsFloat()
	require.True(t, ok)
	require.Equal(t, float32(7), f)

	// unknown socket errors
	require.ErrorIs(t,
		traverser.InputValueDefault(probeIndex, graph.ValueSocket("missing", 1), graph.Float(1)),
		graph.ErrSocketDoesNotExist)
}

func TestMidiGarbageCollection(t *testing.T) {
	manager := graph.NewManager(testIo, 1)
	root, _ := manager.Graph(manager.Root())
	emitIndex, _, _ := root.AddNode("emit")

	traverser, _, err := NewTraverser(manager, manager.Root(), testConfig, testRegistry(), NewResources(), 0)
	require.NoError(t, err)

	store := midi.NewStore(256, 16)
	preFree := store.FreeSlots()

	runtime, _ := traverser.Runtime(emitIndex)
	emitter := runtime.(*emitNode)

	// block B: emit a 3-message bundle
	emitter.emit = []midi.Message{
		midi.NewNoteOn(0, 60, 100, 0),
		midi.NewNoteOn(0, 64, 100, 0),
		midi.NewNoteOn(0, 67, 100, 0),
	}
	traverser.Step(nil, nil, nil, store)
	require.Equal(t, 1, store.LiveBundles())

	// block B+1: nothing emitted; the orphaned bundle is released and the
	// arena returns to its pre-B free space
	traverser.Step(nil, nil, nil, store)
	require.Equal(t, 0, store.LiveBundles())
	require.Equal(t, preFree, store.FreeSlots())
}

func TestPlannerDegradesFailingNode(t *testing.T) {
	registry := Registry{
		New: func(kind string, _ SoundConfig) (Runtime, error) {
			return &failingInitNode{}, nil
		},
		IO: testIo,
	}

	manager := graph.NewManager(testIo, 1)
	root, _ := manager.Graph(manager.Root())
	a, _, _ := root.AddNode("pass")

	traverser, warnings, err := NewTraverser(manager, manager.Root(), testConfig, registry, NewResources(), 0)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, a, warnings[0].Node)

	// the graph still runs with the placeholder in place
	store := midi.NewStore(64, 8)
	traverser.Step(nil, nil, nil, store)
}

type failingInitNode struct {
	BaseNode
}

func (n *failingInitNode) Init(InitParams) (InitResult, error) {
	return InitResult{}, graph.ErrInternalGraph
}

func (n *failingInitNode) Process(_ *ProcessContext, _ Ins, _ Outs, _ *midi.Store, _ []Resource) {}

func TestTimeAdvancesPerBlock(t *testing.T) {
	manager := graph.NewManager(testIo, 1)

	traverser, _, err := NewTraverser(manager, manager.Root(), testConfig, testRegistry(), NewResources(), 0)
	require.NoError(t, err)

	store := midi.NewStore(64, 8)
	traverser.Step(nil, nil, nil, store)

	expected := time.Duration(float64(testConfig.BufferSize) / float64(testConfig.SampleRate) * float64(time.Second))
	require.Equal(t, expected, traverser.Time())
}
