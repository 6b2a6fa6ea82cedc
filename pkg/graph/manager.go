package graph

import (
	"encoding/json"
	"fmt"
)

// GraphIndex identifies a graph in the manager's forest, generationally.
type GraphIndex struct {
	Index      uint32 `json:"index"`
	Generation uint32 `json:"generation"`
}

func (ix GraphIndex) String() string {
	return fmt.Sprintf("g%d.%d", ix.Index, ix.Generation)
}

// GlobalNodeIndex addresses a node across the whole forest.
type GlobalNodeIndex struct {
	Graph GraphIndex `json:"graph"`
	Node  NodeIndex  `json:"node"`
}

type graphSlot struct {
	generation uint32
	live       bool
	graph      *Graph
}

// Manager owns the graph forest: the root graph plus the child graphs of
// inner-graph nodes (polyphonic containers, function nodes).
type Manager struct {
	graphs          []graphSlot
	root            GraphIndex
	io              IoProvider
	defaultChannels int
}

// NewManager creates a manager holding an empty root graph.
func NewManager(io IoProvider, defaultChannels int) *Manager {
	m := &Manager{io: io, defaultChannels: defaultChannels}
	m.root, _ = m.NewGraph()
	return m
}

// Root returns the root graph's index.
func (m *Manager) Root() GraphIndex { return m.root }

// DefaultChannelCount returns the forest-wide default channel count.
func (m *Manager) DefaultChannelCount() int { return m.defaultChannels }

// Graph resolves a graph index.
func (m *Manager) Graph(index GraphIndex) (*Graph, error) {
	if int(index.Index) >= len(m.graphs) {
		return nil, fmt.Errorf("%v: %w", index, ErrGraphDoesNotExist)
	}
	slot := &m.graphs[index.Index]
	if !slot.live || slot.generation != index.Generation {
		return nil, fmt.Errorf("%v: %w", index, ErrGraphDoesNotExist)
	}
	return slot.graph, nil
}

// GraphIndexes lists every live graph.
func (m *Manager) GraphIndexes() []GraphIndex {
	out := make([]GraphIndex, 0, len(m.graphs))
	for i := range m.graphs {
		if m.graphs[i].live {
			out = append(out, GraphIndex{Index: uint32(i), Generation: m.graphs[i].generation})
		}
	}
	return out
}

// NewGraph creates an empty graph in the forest.
func (m *Manager) NewGraph() (GraphIndex, ManagerDiff) {
	g := New(m.io, m.defaultChannels)

	for i := range m.graphs {
		if !m.graphs[i].live {
			m.graphs[i].generation++
			m.graphs[i].live = true
			m.graphs[i].graph = g
			index := GraphIndex{Index: uint32(i), Generation: m.graphs[i].generation}
			return index, ManagerDiff{{Graph: index, AddedGraph: true}}
		}
	}

	m.graphs = append(m.graphs, graphSlot{generation: 1, live: true, graph: g})
	index := GraphIndex{Index: uint32(len(m.graphs) - 1), Generation: 1}
	return index, ManagerDiff{{Graph: index, AddedGraph: true}}
}

// CreateNode adds a node of the given kind. Kinds with an inner graph get a
// fresh child graph populated with typed inputs/outputs boundary nodes
// shaped by the kind's child io declaration.
func (m *Manager) CreateNode(kind string, graphIndex GraphIndex, uiData map[string]json.RawMessage) (GlobalNodeIndex, ManagerDiff, error) {
	g, err := m.Graph(graphIndex)
	if err != nil {
		return GlobalNodeIndex{}, nil, err
	}

	nodeIndex, diff, err := g.AddNode(kind)
	if err != nil {
		return GlobalNodeIndex{}, nil, err
	}

	out := ManagerDiff{{Graph: graphIndex, GraphDiff: diff}}

	node, err := g.Node(nodeIndex)
	if err != nil {
		return GlobalNodeIndex{}, nil, err
	}

	if len(uiData) > 0 {
		data := node.UIData()
		for k, v := range uiData {
			data[k] = v
		}
	}

	if node.UsesChildGraph() {
		io, err := m.io(kind, IoContext{DefaultChannelCount: m.defaultChannels}, node.Properties())
		if err != nil {
			return GlobalNodeIndex{}, nil, err
		}

		childIndex, childDiff := m.NewGraph()
		out = append(out, childDiff...)

		child, err := m.Graph(childIndex)
		if err != nil {
			return GlobalNodeIndex{}, nil, err
		}

		inputNode, d, err := m.addBoundaryNode(child, childIndex, io.ChildGraphIo, DirectionInput)
		if err != nil {
			return GlobalNodeIndex{}, nil, err
		}
		out = append(out, d...)

		outputNode, d, err := m.addBoundaryNode(child, childIndex, io.ChildGraphIo, DirectionOutput)
		if err != nil {
			return GlobalNodeIndex{}, nil, err
		}
		out = append(out, d...)

		node.SetChildGraph(&ChildGraphRef{Graph: childIndex, InputNode: inputNode, OutputNode: outputNode})
	}

	// the recorded add-node snapshot must include ui data and child graph
	// so redo reproduces the node exactly
	out[0].GraphDiff[0].After = node.Clone()

	return GlobalNodeIndex{Graph: graphIndex, Node: nodeIndex}, out, nil
}

// addBoundaryNode creates an inputs or outputs node inside a child graph,
// carrying the boundary sockets declared for that direction. Each boundary
// node is typed by the socket kind it carries.
func (m *Manager) addBoundaryNode(child *Graph, childIndex GraphIndex, childIo []ChildSocket, dir SocketDirection) (NodeIndex, ManagerDiff, error) {
	kind := "inputs"
	if dir == DirectionOutput {
		kind = "outputs"
	}

	var sockets []Socket
	for _, cs := range childIo {
		if cs.Direction == dir {
			sockets = append(sockets, cs.Socket)
		}
	}

	index, diff, err := child.AddNode(kind)
	if err != nil {
		return NodeIndex{}, nil, err
	}
	out := ManagerDiff{{Graph: childIndex, GraphDiff: diff}}

	node, err := child.Node(index)
	if err != nil {
		return NodeIndex{}, nil, err
	}
	node.SetProperty("type", ChoiceProp(socketListType(sockets)))
	node.SetProperty("socket_list", SocketListProp(sockets))

	rowDiff, err := child.UpdateNodeRows(index)
	if err != nil {
		return NodeIndex{}, nil, err
	}
	if len(rowDiff) > 0 {
		out = append(out, ManagerDiffEntry{Graph: childIndex, GraphDiff: rowDiff})
	}

	return index, out, nil
}

func socketListType(sockets []Socket) string {
	if len(sockets) == 0 {
		return "stream"
	}
	return sockets[0].Type.String()
}

// ConnectNodes connects two sockets inside one graph.
func (m *Manager) ConnectNodes(graphIndex GraphIndex, from NodeIndex, fromSocket Socket, to NodeIndex, toSocket Socket) (ManagerDiff, error) {
	g, err := m.Graph(graphIndex)
	if err != nil {
		return nil, err
	}
	_, diff, err := g.Connect(from, fromSocket, to, toSocket)
	if err != nil {
		return nil, err
	}
	return ManagerDiff{{Graph: graphIndex, GraphDiff: diff}}, nil
}

// DisconnectNodes removes the edge between two sockets.
func (m *Manager) DisconnectNodes(graphIndex GraphIndex, from NodeIndex, fromSocket Socket, to NodeIndex, toSocket Socket) (ManagerDiff, error) {
	g, err := m.Graph(graphIndex)
	if err != nil {
		return nil, err
	}
	diff, err := g.Disconnect(from, fromSocket, to, toSocket)
	if err != nil {
		return nil, err
	}
	return ManagerDiff{{Graph: graphIndex, GraphDiff: diff}}, nil
}

// RemoveNode deletes a node and its incident edges. A child graph of the
// removed node stays in the forest so undo can restore the node unchanged.
func (m *Manager) RemoveNode(index GlobalNodeIndex) (ManagerDiff, error) {
	g, err := m.Graph(index.Graph)
	if err != nil {
		return nil, err
	}
	diff, err := g.RemoveNode(index.Node)
	if err != nil {
		return nil, err
	}
	return ManagerDiff{{Graph: index.Graph, GraphDiff: diff}}, nil
}

// ManagerDiffEntry is one forest-level mutation: either a diff within one
// graph, or the creation of a graph.
type ManagerDiffEntry struct {
	Graph      GraphIndex
	GraphDiff  Diff
	AddedGraph bool
}

// ManagerDiff is an ordered list of forest mutations.
type ManagerDiff []ManagerDiffEntry

// ApplyDiff reapplies a previously rolled-back forest diff.
func (m *Manager) ApplyDiff(diff ManagerDiff) error {
	for _, entry := range diff {
		if entry.AddedGraph {
			m.placeGraph(entry.Graph)
			continue
		}
		g, err := m.Graph(entry.Graph)
		if err != nil {
			return err
		}
		if err := g.ApplyDiff(entry.GraphDiff); err != nil {
			return err
		}
	}
	return nil
}

// RollbackDiff reverses a forest diff, newest entry first.
func (m *Manager) RollbackDiff(diff ManagerDiff) error {
	for i := len(diff) - 1; i >= 0; i-- {
		entry := diff[i]
		if entry.AddedGraph {
			if int(entry.Graph.Index) < len(m.graphs) {
				m.graphs[entry.Graph.Index].live = false
				m.graphs[entry.Graph.Index].graph = nil
			}
			continue
		}
		g, err := m.Graph(entry.Graph)
		if err != nil {
			return err
		}
		if err := g.RollbackDiff(entry.GraphDiff); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) placeGraph(index GraphIndex) {
	for int(index.Index) >= len(m.graphs) {
		m.graphs = append(m.graphs, graphSlot{})
	}
	slot := &m.graphs[index.Index]
	slot.generation = index.Generation
	slot.live = true
	slot.graph = New(m.io, m.defaultChannels)
}

type managerGraphJSON struct {
	Index GraphIndex `json:"index"`
	Graph *Graph     `json:"graph"`
}

type managerJSON struct {
	Root            GraphIndex         `json:"root"`
	DefaultChannels int                `json:"defaultChannels"`
	Graphs          []managerGraphJSON `json:"graphs"`
}

// MarshalJSON serializes the forest for project documents.
func (m *Manager) MarshalJSON() ([]byte, error) {
	out := managerJSON{Root: m.root, DefaultChannels: m.defaultChannels}
	for i := range m.graphs {
		if m.graphs[i].live {
			out.Graphs = append(out.Graphs, managerGraphJSON{
				Index: GraphIndex{Index: uint32(i), Generation: m.graphs[i].generation},
				Graph: m.graphs[i].graph,
			})
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the forest. SetIoProvider must be called before
// further edits.
func (m *Manager) UnmarshalJSON(data []byte) error {
	var in managerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.root = in.Root
	m.defaultChannels = in.DefaultChannels
	m.graphs = nil
	for _, g := range in.Graphs {
		for int(g.Index.Index) >= len(m.graphs) {
			m.graphs = append(m.graphs, graphSlot{})
		}
		m.graphs[g.Index.Index] = graphSlot{generation: g.Index.Generation, live: true, graph: g.Graph}
	}
	return nil
}

// SetIoProvider attaches the io function to the manager and every graph
// after deserialization.
func (m *Manager) SetIoProvider(io IoProvider) {
	m.io = io
	for i := range m.graphs {
		if m.graphs[i].live {
			m.graphs[i].graph.SetIoProvider(io)
		}
	}
}
