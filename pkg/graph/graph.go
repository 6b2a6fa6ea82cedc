package graph

import (
	"encoding/json"
	"fmt"
)

// NodeIndex identifies a node in a graph. Indices are generational: a slot
// reused after removal gets a new generation, so stale indices never
// resolve.
type NodeIndex struct {
	Index      uint32 `json:"index"`
	Generation uint32 `json:"generation"`
}

func (ix NodeIndex) String() string {
	return fmt.Sprintf("n%d.%d", ix.Index, ix.Generation)
}

// ConnectionIndex identifies an edge in a graph, generationally.
type ConnectionIndex struct {
	Index      uint32 `json:"index"`
	Generation uint32 `json:"generation"`
}

// ConnectionData names the sockets an edge joins.
type ConnectionData struct {
	FromSocket Socket `json:"fromSocket"`
	ToSocket   Socket `json:"toSocket"`
}

// Connection is a fully-resolved edge.
type Connection struct {
	FromNode   NodeIndex `json:"fromNode"`
	FromSocket Socket    `json:"fromSocket"`
	ToNode     NodeIndex `json:"toNode"`
	ToSocket   Socket    `json:"toSocket"`
}

// IoContext is handed to a node kind's io function so it can shape its rows
// from its surroundings.
type IoContext struct {
	DefaultChannelCount int
	ConnectedInputs     []Socket
	ConnectedOutputs    []Socket
	// ChildGraph is set for kinds with an inner graph.
	ChildGraph *Graph
}

// IoProvider computes the rows for a node kind given its properties. It
// must be pure in its arguments. Unknown kinds return
// ErrNodeTypeDoesNotExist.
type IoProvider func(kind string, ctx IoContext, props map[string]Property) (NodeIo, error)

type vertexSlot struct {
	generation uint32
	live       bool
	data       *NodeInstance
	incoming   []ConnectionIndex
	outgoing   []ConnectionIndex
}

type edgeSlot struct {
	generation uint32
	live       bool
	from       NodeIndex
	to         NodeIndex
	data       ConnectionData
}

// Graph is a typed directed multigraph of node instances. All mutating
// operations return a Diff the history layer can roll back and reapply.
type Graph struct {
	vertices        []vertexSlot
	edges           []edgeSlot
	defaultChannels int
	io              IoProvider
}

// New creates an empty graph.
func New(io IoProvider, defaultChannels int) *Graph {
	if defaultChannels < 1 {
		defaultChannels = 1
	}
	return &Graph{io: io, defaultChannels: defaultChannels}
}

// DefaultChannelCount returns the channel count for nodes that do not
// specify their own.
func (g *Graph) DefaultChannelCount() int { return g.defaultChannels }

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	n := 0
	for i := range g.vertices {
		if g.vertices[i].live {
			n++
		}
	}
	return n
}

// AddNode creates a node of the given kind with its default rows.
func (g *Graph) AddNode(kind string) (NodeIndex, Diff, error) {
	io, err := g.io(kind, IoContext{DefaultChannelCount: g.defaultChannels}, map[string]Property{})
	if err != nil {
		return NodeIndex{}, nil, fmt.Errorf("add node %q: %w", kind, err)
	}

	inst := NewNodeInstance(kind, io.Rows)
	index := g.insertVertex(inst)

	return index, Diff{{Kind: DiffAddNode, Node: index, After: inst.Clone()}}, nil
}

// RemoveNode deletes a node and every incident edge.
func (g *Graph) RemoveNode(index NodeIndex) (Diff, error) {
	slot, err := g.vertex(index)
	if err != nil {
		return nil, err
	}

	var diff Diff
	// collect first: removing edges mutates the adjacency lists
	incident := append(append([]ConnectionIndex(nil), slot.incoming...), slot.outgoing...)
	for _, edgeIndex := range incident {
		entry, err := g.removeEdge(edgeIndex)
		if err != nil {
			return nil, err
		}
		diff = append(diff, entry)
	}

	diff = append(diff, DiffEntry{Kind: DiffRemoveNode, Node: index, Before: slot.data.Clone()})
	slot.live = false
	slot.data = nil
	slot.incoming = nil
	slot.outgoing = nil

	return diff, nil
}

// UpdateNode replaces a node's instance wholesale.
func (g *Graph) UpdateNode(index NodeIndex, inst *NodeInstance) (Diff, error) {
	slot, err := g.vertex(index)
	if err != nil {
		return nil, err
	}

	entry := DiffEntry{Kind: DiffUpdateNode, Node: index, Before: slot.data.Clone(), After: inst.Clone()}
	slot.data = inst

	rowDiff, err := g.UpdateNodeRows(index)
	if err != nil {
		return nil, err
	}

	return append(Diff{entry}, rowDiff...), nil
}

// UpdateNodeRows recomputes a node's rows from its kind and properties and
// disconnects every edge on a socket that no longer exists. Called after
// any property change.
func (g *Graph) UpdateNodeRows(index NodeIndex) (Diff, error) {
	slot, err := g.vertex(index)
	if err != nil {
		return nil, err
	}
	node := slot.data

	ctx, err := g.IoContextFor(index)
	if err != nil {
		return nil, err
	}

	io, err := g.io(node.NodeType(), ctx, node.Properties())
	if err != nil {
		return nil, err
	}
	newRows := io.Rows

	var removed []Socket
	var removedDirs []SocketDirection
	for _, oldRow := range node.Rows() {
		stillThere := false
		for _, newRow := range newRows {
			if oldRow.Equal(newRow) {
				stillThere = true
				break
			}
		}
		if stillThere {
			continue
		}
		if socket, dir, ok := oldRow.SocketAndDirection(); ok {
			removed = append(removed, socket)
			removedDirs = append(removedDirs, dir)
		}
	}

	var diff Diff

	for _, conn := range g.InputSideConnections(index) {
		for i, socket := range removed {
			if removedDirs[i] == DirectionInput && socket == conn.ToSocket {
				d, err := g.Disconnect(conn.FromNode, conn.FromSocket, index, conn.ToSocket)
				if err != nil {
					return nil, err
				}
				diff = append(diff, d...)
			}
		}
	}

	for _, conn := range g.OutputSideConnections(index) {
		for i, socket := range removed {
			if removedDirs[i] == DirectionOutput && socket == conn.FromSocket {
				d, err := g.Disconnect(index, conn.FromSocket, conn.ToNode, conn.ToSocket)
				if err != nil {
					return nil, err
				}
				diff = append(diff, d...)
			}
		}
	}

	if !rowsEqual(node.Rows(), newRows) {
		before := node.Clone()
		node.SetRows(newRows)
		diff = append(diff, DiffEntry{Kind: DiffUpdateNode, Node: index, Before: before, After: node.Clone()})
	}

	return diff, nil
}

// Connect validates and creates an edge. An input socket admits at most
// one incoming edge; output sockets may fan out. Self-loops are allowed
// (the planner linearizes them as feedback edges).
func (g *Graph) Connect(from NodeIndex, fromSocket Socket, to NodeIndex, toSocket Socket) (ConnectionIndex, Diff, error) {
	fromSlot, err := g.vertex(from)
	if err != nil {
		return ConnectionIndex{}, nil, err
	}
	toSlot, err := g.vertex(to)
	if err != nil {
		return ConnectionIndex{}, nil, err
	}

	if existing, ok := g.InputConnection(to, toSocket); ok {
		if existing.FromNode == from && existing.FromSocket == fromSocket {
			return ConnectionIndex{}, nil, fmt.Errorf("%v→%v: %w", fromSocket, toSocket, ErrAlreadyConnected)
		}
		return ConnectionIndex{}, nil, fmt.Errorf("%v: %w", toSocket, ErrInputSocketOccupied)
	}

	if !fromSlot.data.HasOutputSocket(fromSocket) {
		return ConnectionIndex{}, nil, fmt.Errorf("%v on %v: %w", fromSocket, from, ErrSocketDoesNotExist)
	}
	if !toSlot.data.HasInputSocket(toSocket) {
		return ConnectionIndex{}, nil, fmt.Errorf("%v on %v: %w", toSocket, to, ErrSocketDoesNotExist)
	}

	if fromSocket.Type != toSocket.Type || fromSocket.Channels != toSocket.Channels {
		return ConnectionIndex{}, nil, fmt.Errorf("%v→%v: %w", fromSocket, toSocket, ErrIncompatibleSockets)
	}

	data := ConnectionData{FromSocket: fromSocket, ToSocket: toSocket}
	edgeIndex := g.insertEdge(from, to, data)

	diff := Diff{{Kind: DiffAddEdge, Edge: edgeIndex, From: from, To: to, Data: data}}
	return edgeIndex, diff, nil
}

// Disconnect removes the edge joining the given sockets.
func (g *Graph) Disconnect(from NodeIndex, fromSocket Socket, to NodeIndex, toSocket Socket) (Diff, error) {
	edgeIndex, err := g.ConnectionIndexFor(from, fromSocket, to, toSocket)
	if err != nil {
		return nil, err
	}
	entry, err := g.removeEdge(edgeIndex)
	if err != nil {
		return nil, err
	}
	return Diff{entry}, nil
}

// Node returns the instance at index.
func (g *Graph) Node(index NodeIndex) (*NodeInstance, error) {
	slot, err := g.vertex(index)
	if err != nil {
		return nil, err
	}
	return slot.data, nil
}

// NodeIndexes lists every live node, in slot order (deterministic).
func (g *Graph) NodeIndexes() []NodeIndex {
	out := make([]NodeIndex, 0, len(g.vertices))
	for i := range g.vertices {
		if g.vertices[i].live {
			out = append(out, NodeIndex{Index: uint32(i), Generation: g.vertices[i].generation})
		}
	}
	return out
}

// Connections lists every live edge, in slot order.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, 0, len(g.edges))
	for i := range g.edges {
		if g.edges[i].live {
			e := &g.edges[i]
			out = append(out, Connection{
				FromNode: e.from, FromSocket: e.data.FromSocket,
				ToNode: e.to, ToSocket: e.data.ToSocket,
			})
		}
	}
	return out
}

// InputConnection returns the single connection feeding an input socket.
func (g *Graph) InputConnection(to NodeIndex, toSocket Socket) (Connection, bool) {
	slot, err := g.vertex(to)
	if err != nil {
		return Connection{}, false
	}
	for _, edgeIndex := range slot.incoming {
		e := &g.edges[edgeIndex.Index]
		if e.data.ToSocket == toSocket {
			return Connection{
				FromNode: e.from, FromSocket: e.data.FromSocket,
				ToNode: to, ToSocket: e.data.ToSocket,
			}, true
		}
	}
	return Connection{}, false
}

// OutputConnections returns every connection fanning out of an output socket.
func (g *Graph) OutputConnections(from NodeIndex, fromSocket Socket) []Connection {
	slot, err := g.vertex(from)
	if err != nil {
		return nil
	}
	var out []Connection
	for _, edgeIndex := range slot.outgoing {
		e := &g.edges[edgeIndex.Index]
		if e.data.FromSocket == fromSocket {
			out = append(out, Connection{
				FromNode: from, FromSocket: e.data.FromSocket,
				ToNode: e.to, ToSocket: e.data.ToSocket,
			})
		}
	}
	return out
}

// InputSideConnections lists every connection arriving at a node.
func (g *Graph) InputSideConnections(index NodeIndex) []Connection {
	slot, err := g.vertex(index)
	if err != nil {
		return nil
	}
	var out []Connection
	for _, edgeIndex := range slot.incoming {
		e := &g.edges[edgeIndex.Index]
		out = append(out, Connection{
			FromNode: e.from, FromSocket: e.data.FromSocket,
			ToNode: index, ToSocket: e.data.ToSocket,
		})
	}
	return out
}

// OutputSideConnections lists every connection leaving a node.
func (g *Graph) OutputSideConnections(index NodeIndex) []Connection {
	slot, err := g.vertex(index)
	if err != nil {
		return nil
	}
	var out []Connection
	for _, edgeIndex := range slot.outgoing {
		e := &g.edges[edgeIndex.Index]
		out = append(out, Connection{
			FromNode: index, FromSocket: e.data.FromSocket,
			ToNode: e.to, ToSocket: e.data.ToSocket,
		})
	}
	return out
}

// ConnectionIndexFor resolves the edge joining the given sockets.
func (g *Graph) ConnectionIndexFor(from NodeIndex, fromSocket Socket, to NodeIndex, toSocket Socket) (ConnectionIndex, error) {
	slot, err := g.vertex(from)
	if err != nil {
		return ConnectionIndex{}, err
	}
	for _, edgeIndex := range slot.outgoing {
		e := &g.edges[edgeIndex.Index]
		if e.to == to && e.data.FromSocket == fromSocket && e.data.ToSocket == toSocket {
			return edgeIndex, nil
		}
	}
	return ConnectionIndex{}, fmt.Errorf("%v.%v → %v.%v: %w", from, fromSocket, to, toSocket, ErrNodesNotConnected)
}

// IoContextFor builds the io context a node's io function sees: the
// default channel count and its currently connected sockets.
func (g *Graph) IoContextFor(index NodeIndex) (IoContext, error) {
	slot, err := g.vertex(index)
	if err != nil {
		return IoContext{}, err
	}

	ctx := IoContext{DefaultChannelCount: g.defaultChannels}
	for _, edgeIndex := range slot.incoming {
		ctx.ConnectedInputs = append(ctx.ConnectedInputs, g.edges[edgeIndex.Index].data.ToSocket)
	}
	for _, edgeIndex := range slot.outgoing {
		ctx.ConnectedOutputs = append(ctx.ConnectedOutputs, g.edges[edgeIndex.Index].data.FromSocket)
	}
	return ctx, nil
}

// Clone deep-copies the graph (used for whole-document snapshots).
func (g *Graph) Clone() *Graph {
	out := &Graph{
		vertices:        make([]vertexSlot, len(g.vertices)),
		edges:           append([]edgeSlot(nil), g.edges...),
		defaultChannels: g.defaultChannels,
		io:              g.io,
	}
	for i := range g.vertices {
		v := g.vertices[i]
		out.vertices[i] = vertexSlot{
			generation: v.generation,
			live:       v.live,
			incoming:   append([]ConnectionIndex(nil), v.incoming...),
			outgoing:   append([]ConnectionIndex(nil), v.outgoing...),
		}
		if v.data != nil {
			out.vertices[i].data = v.data.Clone()
		}
	}
	return out
}

func (g *Graph) vertex(index NodeIndex) (*vertexSlot, error) {
	if int(index.Index) >= len(g.vertices) {
		return nil, fmt.Errorf("%v: %w", index, ErrNodeDoesNotExist)
	}
	slot := &g.vertices[index.Index]
	if !slot.live || slot.generation != index.Generation {
		return nil, fmt.Errorf("%v: %w", index, ErrNodeDoesNotExist)
	}
	return slot, nil
}

func (g *Graph) insertVertex(inst *NodeInstance) NodeIndex {
	for i := range g.vertices {
		if !g.vertices[i].live {
			g.vertices[i].generation++
			g.vertices[i].live = true
			g.vertices[i].data = inst
			return NodeIndex{Index: uint32(i), Generation: g.vertices[i].generation}
		}
	}
	g.vertices = append(g.vertices, vertexSlot{generation: 1, live: true, data: inst})
	return NodeIndex{Index: uint32(len(g.vertices) - 1), Generation: 1}
}

func (g *Graph) insertEdge(from, to NodeIndex, data ConnectionData) ConnectionIndex {
	var index ConnectionIndex
	placed := false
	for i := range g.edges {
		if !g.edges[i].live {
			g.edges[i].generation++
			g.edges[i].live = true
			g.edges[i].from = from
			g.edges[i].to = to
			g.edges[i].data = data
			index = ConnectionIndex{Index: uint32(i), Generation: g.edges[i].generation}
			placed = true
			break
		}
	}
	if !placed {
		g.edges = append(g.edges, edgeSlot{generation: 1, live: true, from: from, to: to, data: data})
		index = ConnectionIndex{Index: uint32(len(g.edges) - 1), Generation: 1}
	}

	g.vertices[from.Index].outgoing = append(g.vertices[from.Index].outgoing, index)
	g.vertices[to.Index].incoming = append(g.vertices[to.Index].incoming, index)
	return index
}

func (g *Graph) removeEdge(index ConnectionIndex) (DiffEntry, error) {
	if int(index.Index) >= len(g.edges) {
		return DiffEntry{}, ErrNodesNotConnected
	}
	e := &g.edges[index.Index]
	if !e.live || e.generation != index.Generation {
		return DiffEntry{}, ErrNodesNotConnected
	}

	entry := DiffEntry{Kind: DiffRemoveEdge, Edge: index, From: e.from, To: e.to, Data: e.data}

	removeConnRef(&g.vertices[e.from.Index].outgoing, index)
	removeConnRef(&g.vertices[e.to.Index].incoming, index)
	e.live = false
	e.data = ConnectionData{}

	return entry, nil
}

func removeConnRef(list *[]ConnectionIndex, index ConnectionIndex) {
	for i, c := range *list {
		if c == index {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func rowsEqual(a, b []NodeRow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

type graphNodeJSON struct {
	Index NodeIndex     `json:"index"`
	Node  *NodeInstance `json:"node"`
}

type graphEdgeJSON struct {
	Index ConnectionIndex `json:"index"`
	From  NodeIndex       `json:"from"`
	To    NodeIndex       `json:"to"`
	Data  ConnectionData  `json:"data"`
}

type graphJSON struct {
	DefaultChannels int             `json:"defaultChannels"`
	Nodes           []graphNodeJSON `json:"nodes"`
	Edges           []graphEdgeJSON `json:"edges"`
}

// MarshalJSON serializes the live nodes and edges with their generational
// indices so deserialization reproduces identical indices.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := graphJSON{DefaultChannels: g.defaultChannels}
	for i := range g.vertices {
		if g.vertices[i].live {
			out.Nodes = append(out.Nodes, graphNodeJSON{
				Index: NodeIndex{Index: uint32(i), Generation: g.vertices[i].generation},
				Node:  g.vertices[i].data,
			})
		}
	}
	for i := range g.edges {
		if g.edges[i].live {
			e := &g.edges[i]
			out.Edges = append(out.Edges, graphEdgeJSON{
				Index: ConnectionIndex{Index: uint32(i), Generation: e.generation},
				From:  e.from, To: e.to, Data: e.data,
			})
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a graph. The io provider must be attached with
// SetIoProvider before further edits.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var in graphJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	g.defaultChannels = in.DefaultChannels
	if g.defaultChannels < 1 {
		g.defaultChannels = 1
	}
	g.vertices = nil
	g.edges = nil

	for _, n := range in.Nodes {
		for int(n.Index.Index) >= len(g.vertices) {
			g.vertices = append(g.vertices, vertexSlot{})
		}
		g.vertices[n.Index.Index] = vertexSlot{generation: n.Index.Generation, live: true, data: n.Node}
	}
	for _, e := range in.Edges {
		for int(e.Index.Index) >= len(g.edges) {
			g.edges = append(g.edges, edgeSlot{})
		}
		g.edges[e.Index.Index] = edgeSlot{generation: e.Index.Generation, live: true, from: e.From, to: e.To, data: e.Data}
		g.vertices[e.From.Index].outgoing = append(g.vertices[e.From.Index].outgoing, e.Index)
		g.vertices[e.To.Index].incoming = append(g.vertices[e.To.Index].incoming, e.Index)
	}
	return nil
}

// SetIoProvider attaches the io function after deserialization.
func (g *Graph) SetIoProvider(io IoProvider) { g.io = io }
