package engine

import (
	"github.com/wwtos/mjuo-sub000/pkg/graph"
	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

// Ins exposes a node's input sockets as borrowed views into the flat I/O
// arrays. A node reads only through Ins; all aliasing was resolved at plan
// time, so views of a producer's outputs and a consumer's inputs share
// backing safely.
type Ins struct {
	streams [][][]float32
	values  [][]graph.Primitive
	midis   [][]midi.Index
}

// NewIns builds an input view over explicit backing slices. The traverser
// builds these from the plan; tests and embedders may build them directly.
func NewIns(streams [][][]float32, values [][]graph.Primitive, midis [][]midi.Index) Ins {
	return Ins{streams: streams, values: values, midis: midis}
}

// NewOuts builds an output view over explicit backing slices.
func NewOuts(streams [][][]float32, values [][]graph.Primitive, midis [][]midi.Index) Outs {
	return Outs{streams: streams, values: values, midis: midis}
}

// Stream returns the channels of stream input socket i; each channel is a
// full block of samples.
func (in Ins) Stream(i int) [][]float32 { return in.streams[i] }

// Value returns the channels of value input socket i. A None primitive
// means "no new value this block".
func (in Ins) Value(i int) []graph.Primitive { return in.values[i] }

// Midi returns the channels of midi input socket i. A zero index means no
// bundle is present.
func (in Ins) Midi(i int) []midi.Index { return in.midis[i] }

// StreamCount returns the number of stream input sockets.
func (in Ins) StreamCount() int { return len(in.streams) }

// ValueCount returns the number of value input sockets.
func (in Ins) ValueCount() int { return len(in.values) }

// MidiCount returns the number of midi input sockets.
func (in Ins) MidiCount() int { return len(in.midis) }

// Outs exposes a node's output sockets with write access. A node writes
// only its own output ranges. Stream outputs must be fully written every
// block; midi outputs must be written every block (a handle, or the zero
// index to clear); value outputs are written only when they change.
type Outs struct {
	streams [][][]float32
	values  [][]graph.Primitive
	midis   [][]midi.Index
}

// Stream returns the writable channels of stream output socket i.
func (o Outs) Stream(i int) [][]float32 { return o.streams[i] }

// Value returns the writable channels of value output socket i.
func (o Outs) Value(i int) []graph.Primitive { return o.values[i] }

// Midi returns the writable channels of midi output socket i.
func (o Outs) Midi(i int) []midi.Index { return o.midis[i] }

// StreamCount returns the number of stream output sockets.
func (o Outs) StreamCount() int { return len(o.streams) }

// ValueCount returns the number of value output sockets.
func (o Outs) ValueCount() int { return len(o.values) }

// MidiCount returns the number of midi output sockets.
func (o Outs) MidiCount() int { return len(o.midis) }
