package nodes

import (
	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// InputsNode is the boundary node external data enters through. The
// driver (or a polyphonic container) stages messages, values and frames
// between blocks; Process emits them into the graph. Each inputs node is
// typed by its `type` property and carries sockets of exactly that kind.
type InputsNode struct {
	engine.BaseNode

	bufferSize int

	messages    []midi.Message
	values      []graph.Primitive
	streams     [][][]float32
	midiSockets int
}

func newInputsNode(config engine.SoundConfig) *InputsNode {
	return &InputsNode{
		bufferSize: config.BufferSize,
		messages:   make([]midi.Message, 0, 256),
	}
}

func inputsIo(_ graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	io := graph.NodeIo{Rows: []graph.NodeRow{
		graph.MultipleChoiceRow("type", []string{"midi", "value", "stream"}, "midi"),
		graph.PropertyRow("socket_list", graph.PropertySocketList, graph.SocketListProp(nil)),
	}}

	sockets, _ := props["socket_list"].AsSocketList()
	kind := propChoice(props, "type", "midi")
	for _, socket := range sockets {
		if socket.Type.String() != kind {
			continue
		}
		io.Rows = append(io.Rows, graph.OutputRow(socket))
	}
	return io
}

func (n *InputsNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.bufferSize = params.Config.BufferSize

	sockets, _ := params.Props["socket_list"].AsSocketList()
	kind := propChoice(params.Props, "type", "midi")

	n.midiSockets = 0
	n.streams = n.streams[:0]
	n.values = n.values[:0]
	for _, socket := range sockets {
		if socket.Type.String() != kind {
			continue
		}
		switch socket.Type {
		case graph.SocketStream:
			channels := make([][]float32, socket.Channels)
			for c := range channels {
				channels[c] = make([]float32, n.bufferSize)
			}
			n.streams = append(n.streams, channels)
		case graph.SocketValue:
			n.values = append(n.values, graph.None())
		case graph.SocketMidi:
			n.midiSockets++
		}
	}
	return engine.InitResult{}, nil
}

// PushMessages appends messages emitted on the next block.
func (n *InputsNode) PushMessages(msgs []midi.Message) {
	n.messages = append(n.messages, msgs...)
}

// SetValues replaces the values emitted on the next block.
func (n *InputsNode) SetValues(values []graph.Primitive) {
	n.values = n.values[:0]
	n.values = append(n.values, values...)
}

// StreamScratch exposes the staging buffers the driver copies device
// frames into.
func (n *InputsNode) StreamScratch() [][][]float32 { return n.streams }

func (n *InputsNode) Process(_ *engine.ProcessContext, _ engine.Ins, outs engine.Outs, store *midi.Store, _ []engine.Resource) {
	// midi sockets: a fresh bundle when messages were staged, otherwise
	// an explicit empty handle so stale bundles never linger
	for i := 0; i < outs.MidiCount(); i++ {
		channels := outs.Midi(i)
		if len(n.messages) > 0 {
			ix, ok := store.Register(n.messages)
			if !ok {
				ix = midi.Index{}
			}
			channels[0] = ix
			for c := 1; c < len(channels); c++ {
				channels[c] = midi.Index{}
			}
		} else {
			for c := range channels {
				channels[c] = midi.Index{}
			}
		}
	}
	n.messages = n.messages[:0]

	for i := 0; i < outs.ValueCount() && i < len(n.values); i++ {
		if !n.values[i].IsNone() {
			outs.Value(i)[0] = n.values[i]
			n.values[i] = graph.None()
		}
	}

	for i := 0; i < outs.StreamCount() && i < len(n.streams); i++ {
		for c, channel := range outs.Stream(i) {
			if c < len(n.streams[i]) {
				copy(channel, n.streams[i][c])
			}
		}
	}
}

func (n *InputsNode) Reset() {
	n.messages = n.messages[:0]
	for i := range n.values {
		n.values[i] = graph.None()
	}
	for _, socket := range n.streams {
		for _, channel := range socket {
			for i := range channel {
				channel[i] = 0
			}
		}
	}
}

var _ engine.BoundaryInput = (*InputsNode)(nil)

// OutputsNode is the boundary node graph products leave through. Process
// captures its inputs; the driver (or a polyphonic container) reads them
// after the block.
type OutputsNode struct {
	engine.BaseNode

	bufferSize int

	streams  [][][]float32
	values   [][]graph.Primitive
	messages [][]midi.Message
}

func newOutputsNode(config engine.SoundConfig) *OutputsNode {
	return &OutputsNode{bufferSize: config.BufferSize}
}

func outputsIo(_ graph.IoContext, props map[string]graph.Property) graph.NodeIo {
	io := graph.NodeIo{Rows: []graph.NodeRow{
		graph.MultipleChoiceRow("type", []string{"midi", "value", "stream"}, "stream"),
		graph.PropertyRow("socket_list", graph.PropertySocketList, graph.SocketListProp(nil)),
	}}

	sockets, _ := props["socket_list"].AsSocketList()
	kind := propChoice(props, "type", "stream")
	for _, socket := range sockets {
		if socket.Type.String() != kind {
			continue
		}
		io.Rows = append(io.Rows, graph.InputRow(socket, graph.SocketDefault{Type: socket.Type}))
	}
	return io
}

func (n *OutputsNode) Init(params engine.InitParams) (engine.InitResult, error) {
	n.bufferSize = params.Config.BufferSize

	sockets, _ := params.Props["socket_list"].AsSocketList()
	kind := propChoice(params.Props, "type", "stream")

	n.streams = n.streams[:0]
	n.values = n.values[:0]
	n.messages = n.messages[:0]
	for _, socket := range sockets {
		if socket.Type.String() != kind {
			continue
		}
		switch socket.Type {
		case graph.SocketStream:
			channels := make([][]float32, socket.Channels)
			for c := range channels {
				channels[c] = make([]float32, n.bufferSize)
			}
			n.streams = append(n.streams, channels)
		case graph.SocketValue:
			n.values = append(n.values, make([]graph.Primitive, socket.Channels))
		case graph.SocketMidi:
			n.messages = append(n.messages, make([]midi.Message, 0, 64))
		}
	}
	return engine.InitResult{}, nil
}

func (n *OutputsNode) Process(_ *engine.ProcessContext, ins engine.Ins, _ engine.Outs, store *midi.Store, _ []engine.Resource) {
	for i := 0; i < ins.StreamCount() && i < len(n.streams); i++ {
		for c, channel := range ins.Stream(i) {
			if c < len(n.streams[i]) {
				copy(n.streams[i][c], channel)
			}
		}
	}

	for i := 0; i < ins.ValueCount() && i < len(n.values); i++ {
		copy(n.values[i], ins.Value(i))
	}

	for i := 0; i < ins.MidiCount() && i < len(n.messages); i++ {
		n.messages[i] = n.messages[i][:0]
		if bundle := store.Borrow(ins.Midi(i)[0]); bundle != nil {
			n.messages[i] = append(n.messages[i], bundle...)
		}
	}
}

// OutputStreams returns the frames captured this block.
func (n *OutputsNode) OutputStreams() [][][]float32 { return n.streams }

// OutputValues returns the values captured this block.
func (n *OutputsNode) OutputValues() [][]graph.Primitive { return n.values }

// OutputMessages returns the message bundles captured this block.
func (n *OutputsNode) OutputMessages() [][]midi.Message { return n.messages }

func (n *OutputsNode) Reset() {
	for _, socket := range n.streams {
		for _, channel := range socket {
			for i := range channel {
				channel[i] = 0
			}
		}
	}
	for i := range n.messages {
		n.messages[i] = n.messages[i][:0]
	}
}

var _ engine.BoundaryOutput = (*OutputsNode)(nil)
