package engine

import (
	"fmt"
	"time"

	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// TraversalOrder computes a deterministic execution order for a graph and
// the set of feedback connections that had to be cut to linearize it.
//
// The feedback-arc set comes from the greedy sequencing heuristic:
// repeatedly peel sinks to the tail and sources to the head, otherwise
// move the vertex with maximal out-degree minus in-degree to the head.
// Edges pointing backwards in the resulting sequence are feedback arcs; a
// consumer on a feedback arc reads the producer's previous-block output.
// The remaining acyclic edges are topologically sorted with ties resolved
// by node insertion order.
func TraversalOrder(g *graph.Graph) ([]graph.NodeIndex, []graph.Connection) {
	nodes := g.NodeIndexes()
	if len(nodes) == 0 {
		return nil, nil
	}

	position := make(map[graph.NodeIndex]int, len(nodes))
	for i, ix := range nodes {
		position[ix] = i
	}

	conns := g.Connections()

	type edge struct{ from, to int }
	edges := make([]edge, 0, len(conns))
	for _, c := range conns {
		edges = append(edges, edge{from: position[c.FromNode], to: position[c.ToNode]})
	}

	n := len(nodes)
	removed := make([]bool, n)
	outDeg := make([]int, n)
	inDeg := make([]int, n)
	edgeAlive := make([]bool, len(edges))

	for i, e := range edges {
		if e.from == e.to {
			// self-loops are always feedback; they never affect degrees
			continue
		}
		edgeAlive[i] = true
		outDeg[e.from]++
		inDeg[e.to]++
	}

	dropVertex := func(v int) {
		removed[v] = true
		for i, e := range edges {
			if !edgeAlive[i] {
				continue
			}
			if e.from == v || e.to == v {
				edgeAlive[i] = false
				outDeg[e.from]--
				inDeg[e.to]--
			}
		}
	}

	head := make([]int, 0, n)
	tail := make([]int, 0, n)
	left := n

	for left > 0 {
		progressed := true
		for progressed {
			progressed = false
			for v := 0; v < n; v++ {
				if !removed[v] && outDeg[v] == 0 {
					tail = append(tail, v)
					dropVertex(v)
					left--
					progressed = true
				}
			}
			for v := 0; v < n; v++ {
				if !removed[v] && inDeg[v] == 0 && outDeg[v] > 0 {
					head = append(head, v)
					dropVertex(v)
					left--
					progressed = true
				}
			}
		}
		if left == 0 {
			break
		}

		best, bestDelta := -1, 0
		for v := 0; v < n; v++ {
			if removed[v] {
				continue
			}
			delta := outDeg[v] - inDeg[v]
			if best == -1 || delta > bestDelta {
				best, bestDelta = v, delta
			}
		}
		head = append(head, best)
		dropVertex(best)
		left--
	}

	sequence := make([]int, 0, n)
	sequence = append(sequence, head...)
	for i := len(tail) - 1; i >= 0; i-- {
		sequence = append(sequence, tail[i])
	}

	seqPos := make([]int, n)
	for i, v := range sequence {
		seqPos[v] = i
	}

	// classify edges: backwards (or self) edges are feedback
	feedback := make([]graph.Connection, 0)
	forwardOut := make([][]int, n)
	forwardIn := make([]int, n)
	for i, e := range edges {
		if e.from == e.to || seqPos[e.from] >= seqPos[e.to] {
			feedback = append(feedback, conns[i])
			continue
		}
		forwardOut[e.from] = append(forwardOut[e.from], e.to)
		forwardIn[e.to]++
	}

	// stable Kahn topological sort over the forward edges, lowest
	// insertion order first
	order := make([]graph.NodeIndex, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		picked := -1
		for v := 0; v < n; v++ {
			if !done[v] && forwardIn[v] == 0 {
				picked = v
				break
			}
		}
		if picked == -1 {
			// cannot happen: feedback removal made the graph acyclic
			break
		}
		done[picked] = true
		order = append(order, nodes[picked])
		for _, to := range forwardOut[picked] {
			forwardIn[to]--
		}
		forwardOut[picked] = nil
	}

	return order, feedback
}

// rng is a half-open index range into one of the flat slot tables.
type rng struct {
	start int
	end   int
}

func (r rng) length() int { return r.end - r.start }

// valueDefault is a default primitive to inject into a value-input socket
// on the first block after a rebuild or override change.
type valueDefault struct {
	socketPos int
	value     graph.Primitive
}

// slotRef points a socket entry at a producer's flat slots, or at the
// shared default region.
type slotRef struct {
	isDefault bool
	start     int
	channels  int
	// sample is the constant for non-zero stream defaults, which get a
	// dedicated default chunk.
	sample float32
}

// nodeSpec is everything the planner knows about one node, in traversal
// order.
type nodeSpec struct {
	index   graph.NodeIndex
	runtime Runtime

	hasState bool

	// flat positions of this node's first output channel, by socket type
	streamIndex int
	valueIndex  int
	midiIndex   int

	streamOutputs []graph.Socket
	valueOutputs  []graph.Socket
	midiOutputs   []graph.Socket

	streamInputs []graph.Socket
	valueInputs  []graph.Socket
	midiInputs   []graph.Socket

	valuesToInput []valueDefault
	socketLookup  map[graph.Socket]int

	resources rng
}

// plan is the compiled, immutable artifact the traverser is built from.
type plan struct {
	config SoundConfig
	order  []graph.NodeIndex
	specs  []nodeSpec

	streamEntries []slotRef
	valueEntries  []slotRef
	midiEntries   []slotRef

	// per node: entry table ranges
	streamIn, streamOut []rng
	valueIn, valueOut   []rng
	midiIn, midiOut     []rng

	streamCount, valueCount, midiCount int
	maxStreamChannels                  int
	maxValueChannels                   int
	maxMidiChannels                    int

	resourceRefs []graph.ResourceRef

	warnings []Warning
}

// buildPlan runs the planner: order the nodes, init each runtime off the
// audio thread, lay out the flat arrays, and wire every input to its
// producer's slots or a default.
func buildPlan(
	manager *graph.Manager,
	graphIndex graph.GraphIndex,
	config SoundConfig,
	registry Registry,
	resources *Resources,
	currentTime time.Duration,
	previous map[graph.NodeIndex]Runtime,
	factory TraverserFactory,
) (*plan, error) {
	g, err := manager.Graph(graphIndex)
	if err != nil {
		return nil, err
	}

	order, _ := TraversalOrder(g)

	p := &plan{
		config:            config,
		order:             order,
		maxStreamChannels: 1,
		maxValueChannels:  1,
		maxMidiChannels:   1,
	}

	position := make(map[graph.NodeIndex]int, len(order))

	// step 1: denormalize the nodes: instantiate runtimes, init them, and
	// count output channels to place each node's flat ranges
	for _, index := range order {
		node, err := g.Node(index)
		if err != nil {
			return nil, err
		}

		runtime := previous[index]
		if runtime == nil {
			runtime, err = registry.New(node.NodeType(), config)
			if err != nil {
				return nil, fmt.Errorf("node %v: %w", index, err)
			}
		}

		initResult, initErr := runtime.Init(InitParams{
			Props:               node.Properties(),
			State:               node.State(),
			Config:              config,
			DefaultChannelCount: g.DefaultChannelCount(),
			CurrentTime:         currentTime,
			ChildGraph:          node.ChildGraph(),
			Manager:             manager,
			Resources:           resources,
			BuildTraverser:      factory,
		})
		if initErr != nil {
			// degrade to a no-op placeholder so the rest of the graph
			// still compiles
			p.warnings = append(p.warnings, Warning{Node: index, Message: initErr.Error()})
			runtime = &placeholderNode{}
			initResult = InitResult{}
		}
		for _, w := range initResult.Warnings {
			p.warnings = append(p.warnings, Warning{Node: index, Message: w})
		}

		spec := nodeSpec{
			index:        index,
			runtime:      runtime,
			hasState:     runtime.HasState(),
			streamIndex:  p.streamCount,
			valueIndex:   p.valueCount,
			midiIndex:    p.midiCount,
			socketLookup: map[graph.Socket]int{},
			resources:    rng{start: len(p.resourceRefs), end: len(p.resourceRefs) + len(initResult.NeededResources)},
		}
		p.resourceRefs = append(p.resourceRefs, initResult.NeededResources...)

		for _, socket := range node.InputSockets() {
			defRow, _ := node.Default(socket)
			switch socket.Type {
			case graph.SocketStream:
				spec.streamInputs = append(spec.streamInputs, socket)
			case graph.SocketMidi:
				spec.midiInputs = append(spec.midiInputs, socket)
			case graph.SocketValue:
				pos := len(spec.valueInputs)
				spec.socketLookup[socket] = pos
				spec.valueInputs = append(spec.valueInputs, socket)

				// an unconnected value input gets its default injected on
				// the first block
				if _, connected := g.InputConnection(index, socket); !connected {
					spec.valuesToInput = append(spec.valuesToInput, valueDefault{
						socketPos: pos,
						value:     defRow.Default.Primitive,
					})
				}
			}
		}

		for _, socket := range node.OutputSockets() {
			switch socket.Type {
			case graph.SocketStream:
				spec.streamOutputs = append(spec.streamOutputs, socket)
				p.streamCount += socket.Channels
				p.maxStreamChannels = max(p.maxStreamChannels, socket.Channels)
			case graph.SocketValue:
				spec.valueOutputs = append(spec.valueOutputs, socket)
				p.valueCount += socket.Channels
				p.maxValueChannels = max(p.maxValueChannels, socket.Channels)
			case graph.SocketMidi:
				spec.midiOutputs = append(spec.midiOutputs, socket)
				p.midiCount += socket.Channels
				p.maxMidiChannels = max(p.maxMidiChannels, socket.Channels)
			}
		}

		for _, socket := range node.InputSockets() {
			switch socket.Type {
			case graph.SocketStream:
				p.maxStreamChannels = max(p.maxStreamChannels, socket.Channels)
			case graph.SocketValue:
				p.maxValueChannels = max(p.maxValueChannels, socket.Channels)
			case graph.SocketMidi:
				p.maxMidiChannels = max(p.maxMidiChannels, socket.Channels)
			}
		}

		position[index] = len(p.specs)
		p.specs = append(p.specs, spec)
	}

	// step 2: now every node's flat ranges are known, so wire each input
	// entry at the producer's output slots, or at the default region
	for specPos, index := range order {
		node, err := g.Node(index)
		if err != nil {
			return nil, err
		}
		spec := &p.specs[specPos]

		streamIn := rng{start: len(p.streamEntries)}
		valueIn := rng{start: len(p.valueEntries)}
		midiIn := rng{start: len(p.midiEntries)}

		for _, socket := range node.InputSockets() {
			conn, connected := g.InputConnection(index, socket)

			var ref slotRef
			if connected {
				producer := &p.specs[position[conn.FromNode]]
				ref = producerSlot(producer, conn.FromSocket)
			} else {
				defRow, _ := node.Default(socket)
				ref = slotRef{isDefault: true, channels: socket.Channels, sample: defRow.Default.Sample}
			}

			switch socket.Type {
			case graph.SocketStream:
				p.streamEntries = append(p.streamEntries, ref)
			case graph.SocketValue:
				p.valueEntries = append(p.valueEntries, ref)
			case graph.SocketMidi:
				p.midiEntries = append(p.midiEntries, ref)
			}
		}

		streamIn.end = len(p.streamEntries)
		valueIn.end = len(p.valueEntries)
		midiIn.end = len(p.midiEntries)

		streamOut := rng{start: len(p.streamEntries)}
		valueOut := rng{start: len(p.valueEntries)}
		midiOut := rng{start: len(p.midiEntries)}

		for _, socket := range spec.streamOutputs {
			p.streamEntries = append(p.streamEntries, producerSlot(spec, socket))
		}
		for _, socket := range spec.valueOutputs {
			p.valueEntries = append(p.valueEntries, producerSlot(spec, socket))
		}
		for _, socket := range spec.midiOutputs {
			p.midiEntries = append(p.midiEntries, producerSlot(spec, socket))
		}

		streamOut.end = len(p.streamEntries)
		valueOut.end = len(p.valueEntries)
		midiOut.end = len(p.midiEntries)

		p.streamIn = append(p.streamIn, streamIn)
		p.streamOut = append(p.streamOut, streamOut)
		p.valueIn = append(p.valueIn, valueIn)
		p.valueOut = append(p.valueOut, valueOut)
		p.midiIn = append(p.midiIn, midiIn)
		p.midiOut = append(p.midiOut, midiOut)
	}

	return p, nil
}

// producerSlot locates a socket's flat slots within its owning node.
func producerSlot(spec *nodeSpec, socket graph.Socket) slotRef {
	switch socket.Type {
	case graph.SocketStream:
		at := spec.streamIndex
		for _, s := range spec.streamOutputs {
			if s == socket {
				return slotRef{start: at, channels: socket.Channels}
			}
			at += s.Channels
		}
	case graph.SocketValue:
		at := spec.valueIndex
		for _, s := range spec.valueOutputs {
			if s == socket {
				return slotRef{start: at, channels: socket.Channels}
			}
			at += s.Channels
		}
	case graph.SocketMidi:
		at := spec.midiIndex
		for _, s := range spec.midiOutputs {
			if s == socket {
				return slotRef{start: at, channels: socket.Channels}
			}
			at += s.Channels
		}
	}
	// producer no longer has the socket; fall back to a default read
	return slotRef{isDefault: true, channels: socket.Channels}
}

// placeholderNode replaces a node whose init failed; it produces silence.
type placeholderNode struct {
	BaseNode
}

func (p *placeholderNode) Process(_ *ProcessContext, _ Ins, outs Outs, _ *midi.Store, _ []Resource) {
	for i := 0; i < outs.StreamCount(); i++ {
		for _, channel := range outs.Stream(i) {
			for s := range channel {
				channel[s] = 0
			}
		}
	}
	for i := 0; i < outs.MidiCount(); i++ {
		channels := outs.Midi(i)
		for c := range channels {
			channels[c] = midi.Index{}
		}
	}
}
