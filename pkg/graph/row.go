package graph

// RowKind discriminates the variants of a NodeRow.
type RowKind uint8

const (
	RowInput RowKind = iota
	RowOutput
	RowProperty
	RowInnerGraph
)

// NodeRow is one declared row of a node: an input socket with its default,
// an output socket, a property declaration, or the inner-graph marker.
type NodeRow struct {
	Kind RowKind `json:"kind"`

	// Input / output rows.
	Socket  Socket        `json:"socket,omitempty"`
	Default SocketDefault `json:"default,omitempty"`

	// Property rows.
	PropName    string       `json:"propName,omitempty"`
	PropKind    PropertyKind `json:"propKind,omitempty"`
	PropDefault Property     `json:"propDefault,omitempty"`
	PropChoices []string     `json:"propChoices,omitempty"`
}

// StreamInput declares a stream input with a constant default sample.
func StreamInput(name string, def float32, channels int) NodeRow {
	return NodeRow{Kind: RowInput, Socket: StreamSocket(name, channels), Default: StreamDefault(def)}
}

// ValueInput declares a value input with a default primitive.
func ValueInput(name string, def Primitive, channels int) NodeRow {
	return NodeRow{Kind: RowInput, Socket: ValueSocket(name, channels), Default: ValueDefault(def)}
}

// MidiInput declares a midi input (defaults to no bundle).
func MidiInput(name string, channels int) NodeRow {
	return NodeRow{Kind: RowInput, Socket: MidiSocket(name, channels), Default: MidiDefault()}
}

// InputRow declares an input for an arbitrary socket.
func InputRow(socket Socket, def SocketDefault) NodeRow {
	return NodeRow{Kind: RowInput, Socket: socket, Default: def}
}

// StreamOutput declares a stream output.
func StreamOutput(name string, channels int) NodeRow {
	return NodeRow{Kind: RowOutput, Socket: StreamSocket(name, channels)}
}

// ValueOutput declares a value output.
func ValueOutput(name string, channels int) NodeRow {
	return NodeRow{Kind: RowOutput, Socket: ValueSocket(name, channels)}
}

// MidiOutput declares a midi output.
func MidiOutput(name string, channels int) NodeRow {
	return NodeRow{Kind: RowOutput, Socket: MidiSocket(name, channels)}
}

// OutputRow declares an output for an arbitrary socket.
func OutputRow(socket Socket) NodeRow {
	return NodeRow{Kind: RowOutput, Socket: socket}
}

// PropertyRow declares a property with its kind and default value.
func PropertyRow(name string, kind PropertyKind, def Property) NodeRow {
	return NodeRow{Kind: RowProperty, PropName: name, PropKind: kind, PropDefault: def}
}

// MultipleChoiceRow declares a multiple-choice property.
func MultipleChoiceRow(name string, choices []string, def string) NodeRow {
	return NodeRow{
		Kind:        RowProperty,
		PropName:    name,
		PropKind:    PropertyMultipleChoice,
		PropDefault: ChoiceProp(def),
		PropChoices: choices,
	}
}

// InnerGraphRow marks that the node owns a child graph.
func InnerGraphRow() NodeRow {
	return NodeRow{Kind: RowInnerGraph}
}

// SocketAndDirection returns the socket and direction of input/output rows.
func (r NodeRow) SocketAndDirection() (Socket, SocketDirection, bool) {
	switch r.Kind {
	case RowInput:
		return r.Socket, DirectionInput, true
	case RowOutput:
		return r.Socket, DirectionOutput, true
	}
	return Socket{}, 0, false
}

// Equal reports deep equality of two rows.
func (r NodeRow) Equal(other NodeRow) bool {
	if r.Kind != other.Kind {
		return false
	}
	switch r.Kind {
	case RowInput:
		return r.Socket == other.Socket && r.Default == other.Default
	case RowOutput:
		return r.Socket == other.Socket
	case RowProperty:
		if r.PropName != other.PropName || r.PropKind != other.PropKind ||
			!r.PropDefault.Equal(other.PropDefault) {
			return false
		}
		if len(r.PropChoices) != len(other.PropChoices) {
			return false
		}
		for i := range r.PropChoices {
			if r.PropChoices[i] != other.PropChoices[i] {
				return false
			}
		}
		return true
	}
	return true
}

// ChildSocket describes one boundary socket of an inner graph.
type ChildSocket struct {
	Socket    Socket          `json:"socket"`
	Direction SocketDirection `json:"direction"`
}

// NodeIo is the full row description returned by a node kind's io function.
type NodeIo struct {
	Rows []NodeRow
	// ChildGraphIo is non-nil for kinds with an inner graph; it describes
	// the boundary sockets the child graph's inputs/outputs nodes carry.
	ChildGraphIo []ChildSocket
}

// SimpleIo wraps rows with no child graph.
func SimpleIo(rows ...NodeRow) NodeIo {
	return NodeIo{Rows: rows}
}
