package engine

import (
	"context"
	"time"

	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// AudioSource yields one block of deinterleaved frames per call, fed by a
// device's ring buffer.
type AudioSource interface {
	ID() string
	Channels() int
	// ReadBlock fills dst (channel → samples) with the next len(dst[0])
	// buffered frames, padding with silence on underflow.
	ReadBlock(dst [][]float32)
}

// AudioSink accepts one block of deinterleaved frames per call.
type AudioSink interface {
	ID() string
	Channels() int
	WriteBlock(src [][]float32)
}

// MidiSource yields the messages received since the last block.
type MidiSource interface {
	ID() string
	// ReadMessages appends pending messages to dst and returns it.
	ReadMessages(dst []midi.Message) []midi.Message
}

// MidiSink accepts outgoing messages.
type MidiSink interface {
	ID() string
	WriteMessages(msgs []midi.Message)
}

// DeviceDirection tells whether a route reads from or writes to a device.
type DeviceDirection uint8

const (
	DirectionSource DeviceDirection = iota
	DirectionSink
)

// DeviceKind tells whether a route carries audio frames or messages.
type DeviceKind uint8

const (
	DeviceStream DeviceKind = iota
	DeviceMidi
)

// RouteRule binds one device channel to one socket channel of a boundary
// node in the root graph.
type RouteRule struct {
	DeviceID      string          `json:"deviceId"`
	Kind          DeviceKind      `json:"kind"`
	Direction     DeviceDirection `json:"direction"`
	DeviceChannel int             `json:"deviceChannel"`
	Node          graph.NodeIndex `json:"node"`
	SocketIndex   int             `json:"socketIndex"`
	NodeChannel   int             `json:"nodeChannel"`
}

// DefaultChange is one value-default override bound for the audio thread.
type DefaultChange struct {
	Node   graph.NodeIndex
	Socket graph.Socket
	Value  graph.Primitive
}

// Update is a message from the editor thread to the audio thread. Updates
// are applied between blocks, never during one.
type Update interface{ isUpdate() }

// NewTraverserUpdate swaps in a freshly compiled traverser. A pending one
// supersedes any earlier pending one.
type NewTraverserUpdate struct{ Traverser *Traverser }

// NewDefaultsUpdate injects value defaults without a rebuild.
type NewDefaultsUpdate struct{ Defaults []DefaultChange }

// NewNodeStatesUpdate carries editor-side node state writes.
type NewNodeStatesUpdate struct{ States []StateUpdate }

// CurrentGraphStateUpdate answers a graph-state request from a node.
type CurrentGraphStateUpdate struct {
	States map[graph.NodeIndex]graph.NodeState
}

// NewRouteRulesUpdate replaces the device routing table.
type NewRouteRulesUpdate struct{ Rules []RouteRule }

// AddAudioSourceUpdate hands an opened audio source to the driver.
type AddAudioSourceUpdate struct{ Source AudioSource }

// RemoveAudioSourceUpdate closes out an audio source.
type RemoveAudioSourceUpdate struct{ ID string }

// AddAudioSinkUpdate hands an opened audio sink to the driver.
type AddAudioSinkUpdate struct{ Sink AudioSink }

// RemoveAudioSinkUpdate closes out an audio sink.
type RemoveAudioSinkUpdate struct{ ID string }

// AddMidiSourceUpdate hands an opened MIDI source to the driver.
type AddMidiSourceUpdate struct{ Source MidiSource }

// RemoveMidiSourceUpdate closes out a MIDI source.
type RemoveMidiSourceUpdate struct{ ID string }

// AddMidiSinkUpdate hands an opened MIDI sink to the driver.
type AddMidiSinkUpdate struct{ Sink MidiSink }

// RemoveMidiSinkUpdate closes out a MIDI sink.
type RemoveMidiSinkUpdate struct{ ID string }

func (NewTraverserUpdate) isUpdate()      {}
func (NewDefaultsUpdate) isUpdate()       {}
func (NewNodeStatesUpdate) isUpdate()     {}
func (CurrentGraphStateUpdate) isUpdate() {}
func (NewRouteRulesUpdate) isUpdate()     {}
func (AddAudioSourceUpdate) isUpdate()    {}
func (RemoveAudioSourceUpdate) isUpdate() {}
func (AddAudioSinkUpdate) isUpdate()      {}
func (RemoveAudioSinkUpdate) isUpdate()   {}
func (AddMidiSourceUpdate) isUpdate()     {}
func (RemoveMidiSourceUpdate) isUpdate()  {}
func (AddMidiSinkUpdate) isUpdate()       {}
func (RemoveMidiSinkUpdate) isUpdate()    {}

// Event is a message from the audio thread back to the editor, delivered
// at block granularity.
type Event interface{ isEvent() }

// NodeStateUpdatesEvent reports stateful nodes' new states.
type NodeStateUpdatesEvent struct{ Changes []NodeStateChange }

// RequestedStateUpdatesEvent relays state writes nodes asked for.
type RequestedStateUpdatesEvent struct{ Updates []StateUpdate }

// GraphStateRequestedEvent asks the editor for a full state snapshot.
type GraphStateRequestedEvent struct{}

func (NodeStateUpdatesEvent) isEvent()      {}
func (RequestedStateUpdatesEvent) isEvent() {}
func (GraphStateRequestedEvent) isEvent()   {}

// maxUpdatesPerBlock bounds how many editor updates one block will apply,
// keeping block timing predictable under edit storms.
const maxUpdatesPerBlock = 64

// Driver owns the audio thread's world: the current traverser, the message
// store, the open device endpoints, and the routing table. It never blocks
// on the editor.
type Driver struct {
	config    SoundConfig
	store     *midi.Store
	resources *Resources

	traverser *Traverser

	updates <-chan Update
	events  chan<- Event

	rules        []RouteRule
	audioSources map[string]AudioSource
	audioSinks   map[string]AudioSink
	midiSources  map[string]MidiSource
	midiSinks    map[string]MidiSink

	pendingStates []StateUpdate
	graphState    map[graph.NodeIndex]graph.NodeState

	midiScratch   []midi.Message
	sourceScratch map[string][][]float32

	underruns uint64
}

// NewDriver creates a driver. The updates channel is the editor→audio
// path; events is audio→editor. Both must be buffered; the driver never
// blocks on either.
func NewDriver(config SoundConfig, store *midi.Store, resources *Resources, updates <-chan Update, events chan<- Event) *Driver {
	return &Driver{
		config:        config,
		store:         store,
		resources:     resources,
		updates:       updates,
		events:        events,
		audioSources:  map[string]AudioSource{},
		audioSinks:    map[string]AudioSink{},
		midiSources:   map[string]MidiSource{},
		midiSinks:     map[string]MidiSink{},
		midiScratch:   make([]midi.Message, 0, 256),
		sourceScratch: map[string][][]float32{},
	}
}

// Underruns returns how many blocks started late so far.
func (d *Driver) Underruns() uint64 { return d.underruns }

// Run executes blocks on a fixed cadence until the context is canceled.
// It sleeps between blocks; a late block is never aborted, the next one
// simply starts behind and is counted as an underrun.
func (d *Driver) Run(ctx context.Context) {
	blockTime := d.config.BlockDuration()
	next := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.RunBlock()

		next = next.Add(blockTime)
		now := time.Now()
		if now.Before(next) {
			time.Sleep(next.Sub(now))
		} else {
			d.underruns++
			next = now
		}
	}
}

// RunBlock performs exactly one block: apply pending updates, stage device
// sources, step the traverser, drain device sinks, emit events.
func (d *Driver) RunBlock() {
	d.applyPendingUpdates()

	if d.traverser == nil {
		return
	}

	d.stageSources()

	resources := d.resources
	if resources != nil && !resources.TryRLock() {
		// contended: step with the resource table cached last block
		resources = nil
	}

	result := d.traverser.Step(resources, d.pendingStates, d.graphState, d.store)

	if resources != nil {
		resources.RUnlock()
	}

	d.pendingStates = d.pendingStates[:0]
	d.graphState = nil

	d.drainSinks()
	d.emit(result)
}

func (d *Driver) applyPendingUpdates() {
	for i := 0; i < maxUpdatesPerBlock; i++ {
		select {
		case update := <-d.updates:
			d.applyUpdate(update)
		default:
			return
		}
	}
}

func (d *Driver) applyUpdate(update Update) {
	switch u := update.(type) {
	case NewTraverserUpdate:
		// last writer wins across one block's drained updates
		d.traverser = u.Traverser
	case NewDefaultsUpdate:
		if d.traverser == nil {
			return
		}
		for _, def := range u.Defaults {
			// unknown nodes are stale edits racing a rebuild; ignore
			_ = d.traverser.InputValueDefault(def.Node, def.Socket, def.Value)
		}
	case NewNodeStatesUpdate:
		d.pendingStates = append(d.pendingStates, u.States...)
	case CurrentGraphStateUpdate:
		d.graphState = u.States
	case NewRouteRulesUpdate:
		d.rules = u.Rules
	case AddAudioSourceUpdate:
		d.audioSources[u.Source.ID()] = u.Source
		d.sourceScratch[u.Source.ID()] = makeChannels(u.Source.Channels(), d.config.BufferSize)
	case RemoveAudioSourceUpdate:
		delete(d.audioSources, u.ID)
		delete(d.sourceScratch, u.ID)
	case AddAudioSinkUpdate:
		d.audioSinks[u.Sink.ID()] = u.Sink
	case RemoveAudioSinkUpdate:
		delete(d.audioSinks, u.ID)
	case AddMidiSourceUpdate:
		d.midiSources[u.Source.ID()] = u.Source
	case RemoveMidiSourceUpdate:
		delete(d.midiSources, u.ID)
	case AddMidiSinkUpdate:
		d.midiSinks[u.Sink.ID()] = u.Sink
	case RemoveMidiSinkUpdate:
		delete(d.midiSinks, u.ID)
	}
}

// stageSources pulls every source device since the last block and writes
// the routed channels into the graph's inputs nodes.
func (d *Driver) stageSources() {
	for id, source := range d.audioSources {
		scratch := d.sourceScratch[id]
		source.ReadBlock(scratch)

		for _, rule := range d.rules {
			if rule.Direction != DirectionSource || rule.Kind != DeviceStream || rule.DeviceID != id {
				continue
			}
			boundary, ok := d.boundaryInput(rule.Node)
			if !ok {
				continue
			}
			staging := boundary.StreamScratch()
			if rule.SocketIndex >= len(staging) || rule.NodeChannel >= len(staging[rule.SocketIndex]) {
				continue
			}
			if rule.DeviceChannel >= len(scratch) {
				continue
			}
			copy(staging[rule.SocketIndex][rule.NodeChannel], scratch[rule.DeviceChannel])
		}
	}

	for id, source := range d.midiSources {
		d.midiScratch = source.ReadMessages(d.midiScratch[:0])
		if len(d.midiScratch) == 0 {
			continue
		}

		for _, rule := range d.rules {
			if rule.Direction != DirectionSource || rule.Kind != DeviceMidi || rule.DeviceID != id {
				continue
			}
			if boundary, ok := d.boundaryInput(rule.Node); ok {
				boundary.PushMessages(d.midiScratch)
			}
		}
	}
}

// drainSinks reads the outputs nodes and feeds the routed sink devices.
func (d *Driver) drainSinks() {
	for _, rule := range d.rules {
		if rule.Direction != DirectionSink {
			continue
		}
		boundary, ok := d.boundaryOutput(rule.Node)
		if !ok {
			continue
		}

		switch rule.Kind {
		case DeviceStream:
			sink, ok := d.audioSinks[rule.DeviceID]
			if !ok {
				continue
			}
			streams := boundary.OutputStreams()
			if rule.SocketIndex >= len(streams) || rule.NodeChannel >= len(streams[rule.SocketIndex]) {
				continue
			}
			sink.WriteBlock(streams[rule.SocketIndex][rule.NodeChannel : rule.NodeChannel+1])
		case DeviceMidi:
			sink, ok := d.midiSinks[rule.DeviceID]
			if !ok {
				continue
			}
			messages := boundary.OutputMessages()
			if rule.SocketIndex >= len(messages) {
				continue
			}
			if len(messages[rule.SocketIndex]) > 0 {
				sink.WriteMessages(messages[rule.SocketIndex])
			}
		}
	}
}

func (d *Driver) boundaryInput(index graph.NodeIndex) (BoundaryInput, bool) {
	runtime, ok := d.traverser.Runtime(index)
	if !ok {
		return nil, false
	}
	boundary, ok := runtime.(BoundaryInput)
	return boundary, ok
}

func (d *Driver) boundaryOutput(index graph.NodeIndex) (BoundaryOutput, bool) {
	runtime, ok := d.traverser.Runtime(index)
	if !ok {
		return nil, false
	}
	boundary, ok := runtime.(BoundaryOutput)
	return boundary, ok
}

func (d *Driver) emit(result StepResult) {
	if len(result.StateChanges) > 0 {
		d.send(NodeStateUpdatesEvent{Changes: result.StateChanges})
	}
	if len(result.RequestedStateUpdates) > 0 {
		d.send(RequestedStateUpdatesEvent{Updates: result.RequestedStateUpdates})
	}
	if result.RequestForGraphState {
		d.send(GraphStateRequestedEvent{})
	}
}

// send never blocks; a full event channel drops the event (the editor will
// observe the next block's instead).
func (d *Driver) send(event Event) {
	select {
	case d.events <- event:
	default:
	}
}

func makeChannels(channels, samples int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, samples)
	}
	return out
}
