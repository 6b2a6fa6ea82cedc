package editor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/nodes"
)

var testConfig = engine.SoundConfig{SampleRate: 48000, BufferSize: 64}

func newTestState(t *testing.T) *State {
	t.Helper()
	state, err := NewState(nodes.Registry(), testConfig, engine.NewResources(), 1)
	require.NoError(t, err)
	return state
}

func create(t *testing.T, s *State, kind string) graph.GlobalNodeIndex {
	t.Helper()
	invalidations, err := s.Commit(ActionBundle{Actions: []Action{{
		Kind:     ActionCreateNode,
		Graph:    s.RootIndex(),
		NodeType: kind,
	}}}, false)
	require.NoError(t, err)

	for _, inv := range invalidations {
		if inv.Kind == InvalidationNewNode {
			return inv.Node
		}
	}
	t.Fatal("no NewNode invalidation")
	return graph.GlobalNodeIndex{}
}

func snapshot(t *testing.T, s *State) []byte {
	t.Helper()
	data, err := s.SaveProject()
	require.NoError(t, err)
	return data
}

func TestCreateAndConnect(t *testing.T) {
	s := newTestState(t)

	osc := create(t, s, nodes.KindOscillator)
	gain := create(t, s, nodes.KindGain)

	invalidations, err := s.Commit(ActionBundle{Actions: []Action{{
		Kind:       ActionConnectNodes,
		Graph:      s.RootIndex(),
		From:       osc.Node,
		FromSocket: graph.StreamSocket("audio", 1),
		To:         gain.Node,
		ToSocket:   graph.StreamSocket("audio", 1),
	}}}, false)
	require.NoError(t, err)
	require.Equal(t, InvalidationGraphReindexNeeded, invalidations[0].Kind)

	root, _ := s.Manager().Graph(s.RootIndex())
	require.Len(t, root.Connections(), 1)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := newTestState(t)

	before := snapshot(t, s)

	osc := create(t, s, nodes.KindOscillator)
	gain := create(t, s, nodes.KindGain)
	_, err := s.Commit(ActionBundle{Actions: []Action{{
		Kind:       ActionConnectNodes,
		Graph:      s.RootIndex(),
		From:       osc.Node,
		FromSocket: graph.StreamSocket("audio", 1),
		To:         gain.Node,
		ToSocket:   graph.StreamSocket("audio", 1),
	}}}, false)
	require.NoError(t, err)

	after := snapshot(t, s)

	// undo everything: byte-identical to the initial document
	for i := 0; i < 3; i++ {
		_, err := s.Undo()
		require.NoError(t, err)
	}
	require.Equal(t, string(before), string(snapshot(t, s)))

	// redo everything: byte-identical to the edited document
	for i := 0; i < 3; i++ {
		_, err := s.Redo()
		require.NoError(t, err)
	}
	require.Equal(t, string(after), string(snapshot(t, s)))
}

func TestCommitUndoCommitMatchesSingleCommit(t *testing.T) {
	build := func() *State {
		s, err := NewState(nodes.Registry(), testConfig, engine.NewResources(), 1)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	action := func(s *State) ActionBundle {
		return ActionBundle{Actions: []Action{{
			Kind:     ActionCreateNode,
			Graph:    s.RootIndex(),
			NodeType: nodes.KindGain,
		}}}
	}

	once := build()
	_, err := once.Commit(action(once), false)
	require.NoError(t, err)

	twice := build()
	_, err = twice.Commit(action(twice), false)
	require.NoError(t, err)
	_, err = twice.Undo()
	require.NoError(t, err)
	_, err = twice.Commit(action(twice), false)
	require.NoError(t, err)

	// engine-visible state is identical: same node kinds in the same
	// traversal order, same connections (generation counters may differ)
	kinds := func(s *State) []string {
		root, _ := s.Manager().Graph(s.RootIndex())
		order, _ := engine.TraversalOrder(root)
		out := make([]string, 0, len(order))
		for _, ix := range order {
			node, _ := root.Node(ix)
			out = append(out, node.NodeType())
		}
		return out
	}
	require.Equal(t, kinds(once), kinds(twice))

	onceRoot, _ := once.Manager().Graph(once.RootIndex())
	twiceRoot, _ := twice.Manager().Graph(twice.RootIndex())
	require.Equal(t, len(onceRoot.Connections()), len(twiceRoot.Connections()))
}

func TestFailedBundleLeavesStateUntouched(t *testing.T) {
	s := newTestState(t)
	osc := create(t, s, nodes.KindOscillator)
	before := snapshot(t, s)

	// second action fails (socket does not exist); the first must unwind
	_, err := s.Commit(ActionBundle{Actions: []Action{
		{Kind: ActionCreateNode, Graph: s.RootIndex(), NodeType: nodes.KindGain},
		{
			Kind:       ActionConnectNodes,
			Graph:      s.RootIndex(),
			From:       osc.Node,
			FromSocket: graph.StreamSocket("nope", 1),
			To:         osc.Node,
			ToSocket:   graph.StreamSocket("nope", 1),
		},
	}}, false)
	require.Error(t, err)

	require.Equal(t, string(before), string(snapshot(t, s)))
}

func TestPropertyChangeDisconnectsRemovedRow(t *testing.T) {
	s := newTestState(t)

	osc := create(t, s, nodes.KindOscillator)
	filter := create(t, s, nodes.KindBiquadFilter)
	expression := create(t, s, nodes.KindExpression)

	// drive the filter's resonance from an expression output
	_, err := s.Commit(ActionBundle{Actions: []Action{
		{
			Kind:       ActionConnectNodes,
			Graph:      s.RootIndex(),
			From:       osc.Node,
			FromSocket: graph.StreamSocket("audio", 1),
			To:         filter.Node,
			ToSocket:   graph.StreamSocket("audio", 1),
		},
		{
			Kind:       ActionConnectNodes,
			Graph:      s.RootIndex(),
			From:       expression.Node,
			FromSocket: graph.ValueSocket("value", 1),
			To:         filter.Node,
			ToSocket:   graph.ValueSocket("resonance", 1),
		},
	}}, false)
	require.NoError(t, err)

	root, _ := s.Manager().Graph(s.RootIndex())
	require.Len(t, root.Connections(), 2)

	// switching to highpass drops the resonance row: exactly that edge
	// goes, the audio edge stays
	node, _ := root.Node(filter.Node)
	props := map[string]graph.Property{}
	for k, v := range node.Properties() {
		props[k] = v
	}
	props["type"] = graph.ChoiceProp("highpass")

	_, err = s.Commit(ActionBundle{Actions: []Action{{
		Kind:  ActionChangeNodeProperties,
		Index: filter,
		Props: props,
	}}}, false)
	require.NoError(t, err)

	conns := root.Connections()
	require.Len(t, conns, 1)
	require.Equal(t, graph.StreamSocket("audio", 1), conns[0].ToSocket)

	// undo restores both the row and the edge
	_, err = s.Undo()
	require.NoError(t, err)
	require.Len(t, root.Connections(), 2)
}

func TestOverridesProduceNewDefaults(t *testing.T) {
	s := newTestState(t)
	osc := create(t, s, nodes.KindOscillator)

	invalidations, err := s.Commit(ActionBundle{Actions: []Action{{
		Kind:      ActionChangeNodeOverrides,
		Index:     osc,
		Overrides: []graph.NodeRow{graph.ValueInput("frequency", graph.Float(880), 1)},
	}}}, false)
	require.NoError(t, err)

	var defaults []SocketValueChange
	for _, inv := range invalidations {
		if inv.Kind == InvalidationNewDefaults {
			defaults = inv.Defaults
		}
	}
	require.Len(t, defaults, 1)
	require.Equal(t, graph.ValueSocket("frequency", 1), defaults[0].Socket)

	// and they translate into a light defaults update, not a rebuild
	updates, _, err := s.UpdatesFor(invalidations, 0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	_, isDefaults := updates[0].(engine.NewDefaultsUpdate)
	require.True(t, isDefaults)
}

func TestRemoveBoundaryNodeRefused(t *testing.T) {
	s := newTestState(t)
	_, err := s.Commit(ActionBundle{Actions: []Action{{
		Kind:  ActionRemoveNode,
		Index: graph.GlobalNodeIndex{Graph: s.RootIndex(), Node: s.IoNodes().Input},
	}}}, false)
	require.Error(t, err)
}

func TestProjectRoundTripProducesSamePlan(t *testing.T) {
	s := newTestState(t)

	osc := create(t, s, nodes.KindOscillator)
	gain := create(t, s, nodes.KindGain)
	_, err := s.Commit(ActionBundle{Actions: []Action{{
		Kind:       ActionConnectNodes,
		Graph:      s.RootIndex(),
		From:       osc.Node,
		FromSocket: graph.StreamSocket("audio", 1),
		To:         gain.Node,
		ToSocket:   graph.StreamSocket("audio", 1),
	}}}, false)
	require.NoError(t, err)

	data := snapshot(t, s)

	restored := newTestState(t)
	require.NoError(t, restored.LoadProject(data))

	originalRoot, _ := s.Manager().Graph(s.RootIndex())
	restoredRoot, _ := restored.Manager().Graph(restored.RootIndex())

	originalOrder, originalFeedback := engine.TraversalOrder(originalRoot)
	restoredOrder, restoredFeedback := engine.TraversalOrder(restoredRoot)
	require.Equal(t, originalOrder, restoredOrder)
	require.Equal(t, originalFeedback, restoredFeedback)

	// and the restored state compiles
	_, _, err = restored.BuildTraverser(0)
	require.NoError(t, err)
}

func TestProjectMigrationFromV1(t *testing.T) {
	s := newTestState(t)
	poly := create(t, s, nodes.KindPolyphonic)

	data := snapshot(t, s)

	// strip the polyphony property and mark the document v1
	var doc map[string]interface{}
	require.NoError(t, jsonUnmarshal(data, &doc))
	doc["version"] = 1
	stripPolyphony(doc)
	downgraded, err := jsonMarshal(doc)
	require.NoError(t, err)

	restored := newTestState(t)
	require.NoError(t, restored.LoadProject(downgraded))

	root, _ := restored.Manager().Graph(restored.RootIndex())
	node, err := root.Node(poly.Node)
	require.NoError(t, err)
	prop, ok := node.Property("polyphony")
	require.True(t, ok)
	count, _ := prop.AsInteger()
	require.Equal(t, int32(1), count)
}

func jsonUnmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func jsonMarshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

// stripPolyphony removes the polyphony property from every polyphonic
// node in a decoded project document, simulating a v1 save.
func stripPolyphony(doc map[string]interface{}) {
	manager, _ := doc["graphManager"].(map[string]interface{})
	graphs, _ := manager["graphs"].([]interface{})
	for _, entry := range graphs {
		g, _ := entry.(map[string]interface{})
		inner, _ := g["graph"].(map[string]interface{})
		nodeList, _ := inner["nodes"].([]interface{})
		for _, nodeEntry := range nodeList {
			wrapper, _ := nodeEntry.(map[string]interface{})
			node, _ := wrapper["node"].(map[string]interface{})
			if node["nodeType"] != "polyphonic" {
				continue
			}
			props, _ := node["properties"].(map[string]interface{})
			delete(props, "polyphony")
		}
	}
}
