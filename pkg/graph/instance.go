package graph

import "encoding/json"

// NodeState is the opaque persistent state of a stateful node. Value is
// what the UI shows and edits; Other holds auxiliary data only the node
// itself interprets.
type NodeState struct {
	Value json.RawMessage `json:"value,omitempty"`
	Other json.RawMessage `json:"other,omitempty"`
}

// IsZero reports whether the state carries nothing.
func (s NodeState) IsZero() bool {
	return len(s.Value) == 0 && len(s.Other) == 0
}

// ChildGraphRef points a node at its inner graph and the boundary nodes
// inside it.
type ChildGraphRef struct {
	Graph      GraphIndex `json:"graph"`
	InputNode  NodeIndex  `json:"inputNode"`
	OutputNode NodeIndex  `json:"outputNode"`
}

// NodeInstance is one node in a graph: its kind tag, declared rows,
// default overrides, property values, UI metadata, persistent state and
// optional child graph. Instances carry no runtime state; the engine
// builds runtimes from them at plan time.
type NodeInstance struct {
	nodeType   string
	rows       []NodeRow
	overrides  []NodeRow
	properties map[string]Property
	uiData     map[string]json.RawMessage
	state      NodeState
	childGraph *ChildGraphRef
}

// NewNodeInstance creates an instance of the given kind with the rows its
// io function declared. Property values are seeded from the property rows'
// defaults.
func NewNodeInstance(nodeType string, rows []NodeRow) *NodeInstance {
	props := make(map[string]Property)
	for _, row := range rows {
		if row.Kind == RowProperty {
			props[row.PropName] = row.PropDefault
		}
	}

	return &NodeInstance{
		nodeType:   nodeType,
		rows:       rows,
		properties: props,
		uiData:     map[string]json.RawMessage{},
	}
}

// NodeType returns the kind tag.
func (n *NodeInstance) NodeType() string { return n.nodeType }

// Rows returns the current declared rows.
func (n *NodeInstance) Rows() []NodeRow { return n.rows }

// SetRows replaces the declared rows, returning the previous set.
func (n *NodeInstance) SetRows(rows []NodeRow) []NodeRow {
	old := n.rows
	n.rows = rows
	return old
}

// UsesChildGraph reports whether the rows include the inner-graph marker.
func (n *NodeInstance) UsesChildGraph() bool {
	for _, row := range n.rows {
		if row.Kind == RowInnerGraph {
			return true
		}
	}
	return false
}

// ChildGraph returns the child graph reference, if any.
func (n *NodeInstance) ChildGraph() *ChildGraphRef { return n.childGraph }

// SetChildGraph attaches the child graph reference.
func (n *NodeInstance) SetChildGraph(ref *ChildGraphRef) { n.childGraph = ref }

// Property returns the named property value.
func (n *NodeInstance) Property(name string) (Property, bool) {
	p, ok := n.properties[name]
	return p, ok
}

// SetProperty sets one property value.
func (n *NodeInstance) SetProperty(name string, value Property) {
	n.properties[name] = value
}

// Properties returns the property map. Callers must not mutate it.
func (n *NodeInstance) Properties() map[string]Property { return n.properties }

// SetProperties replaces the property map, returning the previous one.
func (n *NodeInstance) SetProperties(props map[string]Property) map[string]Property {
	old := n.properties
	n.properties = props
	return old
}

// State returns the persistent node state.
func (n *NodeInstance) State() NodeState { return n.state }

// SetState replaces the persistent state, returning the previous one.
func (n *NodeInstance) SetState(state NodeState) NodeState {
	old := n.state
	n.state = state
	return old
}

// UIData returns the opaque UI metadata map.
func (n *NodeInstance) UIData() map[string]json.RawMessage { return n.uiData }

// SetUIData replaces the UI metadata, returning the previous map.
func (n *NodeInstance) SetUIData(data map[string]json.RawMessage) map[string]json.RawMessage {
	old := n.uiData
	n.uiData = data
	return old
}

// Overrides returns the default-override rows.
func (n *NodeInstance) Overrides() []NodeRow { return n.overrides }

// SetOverrides replaces the default overrides, returning the previous set.
func (n *NodeInstance) SetOverrides(rows []NodeRow) []NodeRow {
	old := n.overrides
	n.overrides = rows
	return old
}

// InputSockets lists the input sockets in row order.
func (n *NodeInstance) InputSockets() []Socket {
	var out []Socket
	for _, row := range n.rows {
		if socket, dir, ok := row.SocketAndDirection(); ok && dir == DirectionInput {
			out = append(out, socket)
		}
	}
	return out
}

// OutputSockets lists the output sockets in row order.
func (n *NodeInstance) OutputSockets() []Socket {
	var out []Socket
	for _, row := range n.rows {
		if socket, dir, ok := row.SocketAndDirection(); ok && dir == DirectionOutput {
			out = append(out, socket)
		}
	}
	return out
}

// HasInputSocket reports whether the socket is one of the node's inputs.
func (n *NodeInstance) HasInputSocket(socket Socket) bool {
	for _, s := range n.InputSockets() {
		if s == socket {
			return true
		}
	}
	return false
}

// HasOutputSocket reports whether the socket is one of the node's outputs.
func (n *NodeInstance) HasOutputSocket(socket Socket) bool {
	for _, s := range n.OutputSockets() {
		if s == socket {
			return true
		}
	}
	return false
}

// Default returns the effective default row for an input socket, honoring
// default overrides before the declared row.
func (n *NodeInstance) Default(socket Socket) (NodeRow, bool) {
	for _, row := range n.overrides {
		if s, dir, ok := row.SocketAndDirection(); ok && dir == DirectionInput && s == socket {
			return row, true
		}
	}
	for _, row := range n.rows {
		if s, dir, ok := row.SocketAndDirection(); ok && dir == DirectionInput && s == socket {
			return row, true
		}
	}
	return NodeRow{}, false
}

// Clone deep-copies the instance.
func (n *NodeInstance) Clone() *NodeInstance {
	out := &NodeInstance{
		nodeType:   n.nodeType,
		rows:       append([]NodeRow(nil), n.rows...),
		overrides:  append([]NodeRow(nil), n.overrides...),
		properties: make(map[string]Property, len(n.properties)),
		uiData:     make(map[string]json.RawMessage, len(n.uiData)),
		state:      n.state,
	}
	for k, v := range n.properties {
		out.properties[k] = v
	}
	for k, v := range n.uiData {
		out.uiData[k] = append(json.RawMessage(nil), v...)
	}
	if n.childGraph != nil {
		ref := *n.childGraph
		out.childGraph = &ref
	}
	return out
}

type instanceJSON struct {
	NodeType   string                     `json:"nodeType"`
	Rows       []NodeRow                  `json:"rows"`
	Overrides  []NodeRow                  `json:"overrides,omitempty"`
	Properties map[string]Property        `json:"properties"`
	UIData     map[string]json.RawMessage `json:"uiData,omitempty"`
	State      NodeState                  `json:"state,omitempty"`
	ChildGraph *ChildGraphRef             `json:"childGraph,omitempty"`
}

// MarshalJSON serializes the instance for project documents.
func (n *NodeInstance) MarshalJSON() ([]byte, error) {
	return json.Marshal(instanceJSON{
		NodeType:   n.nodeType,
		Rows:       n.rows,
		Overrides:  n.overrides,
		Properties: n.properties,
		UIData:     n.uiData,
		State:      n.state,
		ChildGraph: n.childGraph,
	})
}

// UnmarshalJSON restores an instance from a project document.
func (n *NodeInstance) UnmarshalJSON(data []byte) error {
	var in instanceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	n.nodeType = in.NodeType
	n.rows = in.Rows
	n.overrides = in.Overrides
	n.properties = in.Properties
	if n.properties == nil {
		n.properties = map[string]Property{}
	}
	n.uiData = in.UIData
	if n.uiData == nil {
		n.uiData = map[string]json.RawMessage{}
	}
	n.state = in.State
	n.childGraph = in.ChildGraph
	return nil
}
