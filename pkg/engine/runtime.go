// Package engine compiles graphs into traversal plans and executes them
// block by block. The editor thread builds traversers; the audio thread
// runs them. Nothing in the per-block path allocates outside the message
// store's arena.
package engine

import (
	"encoding/json"
	"time"

	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// SoundConfig fixes the engine's timing at startup.
type SoundConfig struct {
	SampleRate int
	BufferSize int
}

// BlockDuration returns the wall time one block represents.
func (c SoundConfig) BlockDuration() time.Duration {
	return time.Duration(float64(c.BufferSize) / float64(c.SampleRate) * float64(time.Second))
}

// InitParams is handed to a node's Init, off the audio thread. Init may
// allocate freely.
type InitParams struct {
	Props               map[string]graph.Property
	State               graph.NodeState
	Config              SoundConfig
	DefaultChannelCount int
	CurrentTime         time.Duration
	ChildGraph          *graph.ChildGraphRef
	Manager             *graph.Manager
	Resources           *Resources
	// BuildTraverser compiles a child graph into a traverser; used by
	// container kinds (polyphonic, function).
	BuildTraverser TraverserFactory
}

// TraverserFactory builds a traverser for a graph in the manager's forest.
type TraverserFactory func(index graph.GraphIndex, startTime time.Duration) (*Traverser, []Warning, error)

// ChannelCount returns the node's `channels` property, or the default.
func (p InitParams) ChannelCount() int {
	if prop, ok := p.Props["channels"]; ok {
		if n, ok := prop.AsInteger(); ok && n >= 1 {
			return int(n)
		}
	}
	return p.DefaultChannelCount
}

// InitResult reports what a node needs after (re)initialization.
type InitResult struct {
	NeededResources []graph.ResourceRef
	Warnings        []string
}

// Warning is a non-fatal problem attributed to a node.
type Warning struct {
	Node    graph.NodeIndex
	Message string
}

// StateUpdate is a node-state write requested from inside the graph.
type StateUpdate struct {
	Node  graph.NodeIndex
	State json.RawMessage
}

// StateInterface lets nodes interact with whole-graph state snapshots
// (used by the memory node).
type StateInterface struct {
	// States is the most recent snapshot, if one was requested. Nil
	// otherwise.
	States map[graph.NodeIndex]graph.NodeState
	// RequestNodeStates asks the editor for a fresh snapshot.
	RequestNodeStates func()
	// EnqueueStateUpdates requests state writes to other nodes.
	EnqueueStateUpdates func([]StateUpdate)
}

// ProcessContext is handed to every node's Process call.
type ProcessContext struct {
	CurrentTime time.Duration
	Config      SoundConfig
	External    StateInterface
	// Resources is the shared catalog when its read lock is held this
	// block, nil otherwise. Container nodes pass it through to their
	// child traversers.
	Resources *Resources
}

// Runtime is the lifecycle every node kind implements.
//
// Init is called off the audio thread when the node is created or its
// properties change. Process runs on the audio thread once per block and
// must not allocate outside the message store. Reset clears transient
// state such as voice activity or filter history.
type Runtime interface {
	Init(params InitParams) (InitResult, error)
	HasState() bool
	State() (graph.NodeState, bool)
	SetState(state json.RawMessage)
	Process(ctx *ProcessContext, ins Ins, outs Outs, store *midi.Store, resources []Resource)
	Reset()
}

// BaseNode provides no-op defaults for the optional parts of Runtime.
// Node kinds embed it and override what they need.
type BaseNode struct{}

func (BaseNode) Init(InitParams) (InitResult, error) { return InitResult{}, nil }

func (BaseNode) HasState() bool { return false }

func (BaseNode) State() (graph.NodeState, bool) { return graph.NodeState{}, false }

func (BaseNode) SetState(json.RawMessage) {}

func (BaseNode) Reset() {}

// BoundaryInput is implemented by the inputs node; the driver and the
// polyphonic container stage external data through it between blocks.
type BoundaryInput interface {
	Runtime
	// PushMessages appends messages to the bundle emitted next block.
	PushMessages(msgs []midi.Message)
	// SetValues replaces the values emitted next block.
	SetValues(values []graph.Primitive)
	// StreamScratch returns the staging buffers (socket → channel →
	// samples) copied to the node's outputs each block.
	StreamScratch() [][][]float32
}

// BoundaryOutput is implemented by the outputs node; the driver and the
// polyphonic container read the graph's products from it after each block.
type BoundaryOutput interface {
	Runtime
	// OutputStreams returns socket → channel → samples captured this block.
	OutputStreams() [][][]float32
	// OutputValues returns socket → channel values captured this block.
	OutputValues() [][]graph.Primitive
	// OutputMessages returns socket → messages captured this block.
	OutputMessages() [][]midi.Message
}

// Registry binds the node kind namespace: a pure constructor and a pure io
// function. There is no process-wide registry; callers pass one in.
type Registry struct {
	New func(kind string, config SoundConfig) (Runtime, error)
	IO  graph.IoProvider
}
