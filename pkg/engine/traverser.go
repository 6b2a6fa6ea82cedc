package engine

import (
	"fmt"
	"time"

	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// NodeStateChange reports a stateful node's new state after a block.
type NodeStateChange struct {
	Node  graph.NodeIndex
	State graph.NodeState
}

// StepResult is what one block of execution produced besides audio.
type StepResult struct {
	StateChanges          []NodeStateChange
	RequestedStateUpdates []StateUpdate
	RequestForGraphState  bool
}

type traverserNode struct {
	index    graph.NodeIndex
	runtime  Runtime
	ins      Ins
	outs     Outs
	hasState bool

	valuesToInput []valueDefault
	socketLookup  map[graph.Socket]int
	resources     rng
}

// Traverser executes a compiled plan once per block. It owns the flat I/O
// arrays and the shadow table used for message-handle garbage collection.
// A traverser is built off the audio thread and handed over a channel; the
// audio thread swaps it in at a block boundary.
type Traverser struct {
	config SoundConfig
	time   time.Duration

	nodes  []traverserNode
	lookup map[graph.NodeIndex]int

	streamChunks [][]float32
	valueSlots   []graph.Primitive
	midiSlots    []midi.Index
	midiShadow   []midi.Index

	zeroChunks        [][]float32
	valueDefaultSlots []graph.Primitive
	midiDefaultSlots  []midi.Index

	resourceRefs     []graph.ResourceRef
	resourceIndexes  []TypedIndex
	resourceResolved []bool
	resolved         []Resource

	// per-step scratch, preallocated so Step never allocates
	valueScratch     []graph.Primitive
	valueViewScratch [][]graph.Primitive

	external              StateInterface
	graphState            map[graph.NodeIndex]graph.NodeState
	requestingGraphState  bool
	requestedStateUpdates []StateUpdate
}

// NewTraverser compiles a graph into a runnable traverser. Node init
// errors degrade the node to a no-op placeholder and come back as
// warnings; only structural failures return an error.
func NewTraverser(
	manager *graph.Manager,
	graphIndex graph.GraphIndex,
	config SoundConfig,
	registry Registry,
	resources *Resources,
	startTime time.Duration,
) (*Traverser, []Warning, error) {
	var factory TraverserFactory
	factory = func(index graph.GraphIndex, at time.Duration) (*Traverser, []Warning, error) {
		return NewTraverser(manager, index, config, registry, resources, at)
	}

	p, err := buildPlan(manager, graphIndex, config, registry, resources, startTime, nil, factory)
	if err != nil {
		return nil, nil, err
	}

	t := &Traverser{
		config:            config,
		time:              startTime,
		lookup:            make(map[graph.NodeIndex]int, len(p.specs)),
		streamChunks:      make([][]float32, p.streamCount),
		valueSlots:        make([]graph.Primitive, p.valueCount),
		midiSlots:         make([]midi.Index, p.midiCount),
		midiShadow:        make([]midi.Index, p.midiCount),
		zeroChunks:        make([][]float32, p.maxStreamChannels),
		valueDefaultSlots: make([]graph.Primitive, p.maxValueChannels),
		midiDefaultSlots:  make([]midi.Index, p.maxMidiChannels),
		resourceRefs:      p.resourceRefs,
		resourceIndexes:   make([]TypedIndex, len(p.resourceRefs)),
		resourceResolved:  make([]bool, len(p.resourceRefs)),
		resolved:          make([]Resource, len(p.resourceRefs)),
		valueScratch:      make([]graph.Primitive, 0, 16),
		valueViewScratch:  make([][]graph.Primitive, 0, 16),
	}

	// one contiguous backing buffer for every stream output channel
	backing := make([]float32, p.streamCount*config.BufferSize)
	for i := 0; i < p.streamCount; i++ {
		t.streamChunks[i] = backing[i*config.BufferSize : (i+1)*config.BufferSize]
	}

	zero := make([]float32, config.BufferSize)
	for i := range t.zeroChunks {
		t.zeroChunks[i] = zero
	}

	for specPos := range p.specs {
		spec := &p.specs[specPos]

		node := traverserNode{
			index:         spec.index,
			runtime:       spec.runtime,
			hasState:      spec.hasState,
			valuesToInput: append([]valueDefault(nil), spec.valuesToInput...),
			socketLookup:  spec.socketLookup,
			resources:     spec.resources,
			ins: Ins{
				streams: t.streamViews(p, p.streamIn[specPos]),
				values:  t.valueViews(p, p.valueIn[specPos]),
				midis:   t.midiViews(p, p.midiIn[specPos]),
			},
			outs: Outs{
				streams: t.streamViews(p, p.streamOut[specPos]),
				values:  t.valueViews(p, p.valueOut[specPos]),
				midis:   t.midiViews(p, p.midiOut[specPos]),
			},
		}

		t.lookup[spec.index] = len(t.nodes)
		t.nodes = append(t.nodes, node)
	}

	t.external = StateInterface{
		RequestNodeStates: func() { t.requestingGraphState = true },
		EnqueueStateUpdates: func(updates []StateUpdate) {
			t.requestedStateUpdates = append(t.requestedStateUpdates, updates...)
		},
	}

	return t, p.warnings, nil
}

func (t *Traverser) streamViews(p *plan, r rng) [][][]float32 {
	views := make([][][]float32, 0, r.length())
	for _, entry := range p.streamEntries[r.start:r.end] {
		if entry.isDefault {
			if entry.sample == 0 {
				views = append(views, t.zeroChunks[:entry.channels])
				continue
			}
			// non-zero stream defaults get a dedicated constant chunk
			constant := make([]float32, t.config.BufferSize)
			for i := range constant {
				constant[i] = entry.sample
			}
			channels := make([][]float32, entry.channels)
			for i := range channels {
				channels[i] = constant
			}
			views = append(views, channels)
			continue
		}
		views = append(views, t.streamChunks[entry.start:entry.start+entry.channels])
	}
	return views
}

func (t *Traverser) valueViews(p *plan, r rng) [][]graph.Primitive {
	views := make([][]graph.Primitive, 0, r.length())
	for _, entry := range p.valueEntries[r.start:r.end] {
		if entry.isDefault {
			views = append(views, t.valueDefaultSlots[:entry.channels])
			continue
		}
		views = append(views, t.valueSlots[entry.start:entry.start+entry.channels])
	}
	return views
}

func (t *Traverser) midiViews(p *plan, r rng) [][]midi.Index {
	views := make([][]midi.Index, 0, r.length())
	for _, entry := range p.midiEntries[r.start:r.end] {
		if entry.isDefault {
			views = append(views, t.midiDefaultSlots[:entry.channels])
			continue
		}
		views = append(views, t.midiSlots[entry.start:entry.start+entry.channels])
	}
	return views
}

// Config returns the traverser's timing configuration.
func (t *Traverser) Config() SoundConfig { return t.config }

// Time returns the monotonic engine time at the start of the next block.
func (t *Traverser) Time() time.Duration { return t.time }

// Runtime returns the runtime of a node, for boundary staging and tests.
func (t *Traverser) Runtime(index graph.NodeIndex) (Runtime, bool) {
	i, ok := t.lookup[index]
	if !ok {
		return nil, false
	}
	return t.nodes[i].runtime, true
}

// InputValueDefault schedules a value default to be injected into a node's
// value-input socket on the next block, without rebuilding the traverser.
func (t *Traverser) InputValueDefault(index graph.NodeIndex, socket graph.Socket, value graph.Primitive) error {
	i, ok := t.lookup[index]
	if !ok {
		return fmt.Errorf("%v: %w", index, graph.ErrNodeDoesNotExist)
	}
	pos, ok := t.nodes[i].socketLookup[socket]
	if !ok {
		return fmt.Errorf("%v: %w", socket, graph.ErrSocketDoesNotExist)
	}
	t.nodes[i].valuesToInput = append(t.nodes[i].valuesToInput, valueDefault{socketPos: pos, value: value})
	return nil
}

// Reset clears every node's transient state (voice activity, filter
// history) without rebuilding.
func (t *Traverser) Reset() {
	for i := range t.nodes {
		t.nodes[i].runtime.Reset()
	}
}

// Step executes one block.
//
// resources may be nil when the shared catalog's read lock could not be
// taken this block; the traverser then reuses the resources it resolved
// last time. updatedStates carries editor-side node state writes to apply
// before processing. graphState is the snapshot a node previously asked
// for, if any.
func (t *Traverser) Step(
	resources *Resources,
	updatedStates []StateUpdate,
	graphState map[graph.NodeIndex]graph.NodeState,
	store *midi.Store,
) StepResult {
	// 1: resolve tracked resources against the catalog
	if resources != nil {
		for i, ref := range t.resourceRefs {
			if t.resourceResolved[i] {
				if res, ok := resources.Resolve(t.resourceIndexes[i]); ok {
					t.resolved[i] = res
					continue
				}
			}
			// index is stale or unknown; re-look it up by id
			if ix, ok := resources.IndexOf(ref); ok {
				t.resourceIndexes[i] = ix
				t.resourceResolved[i] = true
				if res, ok := resources.Resolve(ix); ok {
					t.resolved[i] = res
					continue
				}
			}
			t.resolved[i] = Resource{}
		}
	}

	// 2: apply editor-side state writes
	for _, update := range updatedStates {
		if i, ok := t.lookup[update.Node]; ok {
			t.nodes[i].runtime.SetState(update.State)
		}
	}

	t.graphState = graphState
	t.requestingGraphState = false
	t.requestedStateUpdates = t.requestedStateUpdates[:0]
	t.external.States = graphState

	ctx := ProcessContext{
		CurrentTime: t.time,
		Config:      t.config,
		External:    t.external,
		Resources:   resources,
	}

	// 3: run every node in plan order
	for i := range t.nodes {
		node := &t.nodes[i]

		ins := node.ins
		if len(node.valuesToInput) > 0 {
			ins = t.overrideValues(node)
			node.valuesToInput = node.valuesToInput[:0]
		}

		node.runtime.Process(&ctx, ins, node.outs, store, t.resolved[node.resources.start:node.resources.end])
	}

	// 4: collect state changes from stateful nodes
	var stateChanges []NodeStateChange
	for i := range t.nodes {
		if !t.nodes[i].hasState {
			continue
		}
		if state, ok := t.nodes[i].runtime.State(); ok {
			stateChanges = append(stateChanges, NodeStateChange{Node: t.nodes[i].index, State: state})
		}
	}

	// 5: message-handle garbage collection. A bundle is owned by the
	// output slot that carries it; when the slot's handle changes, the
	// previous bundle is orphaned and goes back to the store.
	for i := range t.midiSlots {
		if t.midiSlots[i] != t.midiShadow[i] {
			if t.midiShadow[i].Valid() {
				store.Release(t.midiShadow[i])
			}
			t.midiShadow[i] = t.midiSlots[i]
		}
	}

	// 6: advance time
	t.time += t.config.BlockDuration()

	// 7
	return StepResult{
		StateChanges:          stateChanges,
		RequestedStateUpdates: append([]StateUpdate(nil), t.requestedStateUpdates...),
		RequestForGraphState:  t.requestingGraphState,
	}
}

// overrideValues builds a one-call input view with scheduled value
// defaults spliced over the node's value inputs.
func (t *Traverser) overrideValues(node *traverserNode) Ins {
	t.valueScratch = t.valueScratch[:0]
	t.valueViewScratch = t.valueViewScratch[:0]

	t.valueViewScratch = append(t.valueViewScratch, node.ins.values...)
	for _, inject := range node.valuesToInput {
		t.valueScratch = append(t.valueScratch, inject.value)
	}
	for k, inject := range node.valuesToInput {
		if inject.socketPos < len(t.valueViewScratch) {
			t.valueViewScratch[inject.socketPos] = t.valueScratch[k : k+1]
		}
	}

	return Ins{
		streams: node.ins.streams,
		values:  t.valueViewScratch,
		midis:   node.ins.midis,
	}
}
