// Package graph holds the authoritative patch representation: typed nodes,
// sockets, properties and the connections between them. The engine compiles
// a graph into a traversal plan; this package never touches the audio path.
package graph

import (
	"encoding/json"
	"fmt"
)

// SocketType discriminates what kind of data a socket carries.
type SocketType uint8

const (
	// SocketStream carries one audio buffer per channel per block.
	SocketStream SocketType = iota
	// SocketValue carries a single primitive per channel per block.
	SocketValue
	// SocketMidi carries a message bundle handle per channel per block.
	SocketMidi
)

func (t SocketType) String() string {
	switch t {
	case SocketStream:
		return "stream"
	case SocketValue:
		return "value"
	case SocketMidi:
		return "midi"
	}
	return "unknown"
}

// MarshalJSON encodes the socket type by name.
func (t SocketType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a socket type name.
func (t *SocketType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "stream":
		*t = SocketStream
	case "value":
		*t = SocketValue
	case "midi":
		*t = SocketMidi
	default:
		return fmt.Errorf("unknown socket type %q", name)
	}
	return nil
}

// SocketDirection distinguishes a node's inputs from its outputs.
type SocketDirection uint8

const (
	DirectionInput SocketDirection = iota
	DirectionOutput
)

// Socket is a typed port on a node, identified by a stable name. Two
// sockets are the same port iff name, type and channel count all match.
type Socket struct {
	Name     string     `json:"name"`
	Type     SocketType `json:"type"`
	Channels int        `json:"channels"`
}

// StreamSocket builds a stream socket.
func StreamSocket(name string, channels int) Socket {
	return Socket{Name: name, Type: SocketStream, Channels: channels}
}

// ValueSocket builds a value socket.
func ValueSocket(name string, channels int) Socket {
	return Socket{Name: name, Type: SocketValue, Channels: channels}
}

// MidiSocket builds a midi socket.
func MidiSocket(name string, channels int) Socket {
	return Socket{Name: name, Type: SocketMidi, Channels: channels}
}

func (s Socket) String() string {
	return fmt.Sprintf("%s:%s×%d", s.Name, s.Type, s.Channels)
}

// PrimitiveKind discriminates the variants of a Primitive.
type PrimitiveKind uint8

const (
	PrimitiveNone PrimitiveKind = iota
	PrimitiveFloat
	PrimitiveInt
	PrimitiveBool
	PrimitiveString
	// PrimitiveBang is a one-shot trigger with no payload.
	PrimitiveBang
)

// Primitive is the single datum carried on a value wire.
type Primitive struct {
	Kind PrimitiveKind
	F    float32
	I    int32
	B    bool
	S    string
}

// Float wraps a float32 primitive.
func Float(f float32) Primitive { return Primitive{Kind: PrimitiveFloat, F: f} }

// Int wraps an int32 primitive.
func Int(i int32) Primitive { return Primitive{Kind: PrimitiveInt, I: i} }

// Bool wraps a boolean primitive.
func Bool(b bool) Primitive { return Primitive{Kind: PrimitiveBool, B: b} }

// String wraps a string primitive.
func String(s string) Primitive { return Primitive{Kind: PrimitiveString, S: s} }

// Bang is the trigger primitive.
func Bang() Primitive { return Primitive{Kind: PrimitiveBang} }

// None is the absent primitive; the zero value.
func None() Primitive { return Primitive{} }

// AsFloat converts to float32, coercing ints and booleans.
func (p Primitive) AsFloat() (float32, bool) {
	switch p.Kind {
	case PrimitiveFloat:
		return p.F, true
	case PrimitiveInt:
		return float32(p.I), true
	case PrimitiveBool:
		if p.B {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsInt converts to int32, coercing booleans.
func (p Primitive) AsInt() (int32, bool) {
	switch p.Kind {
	case PrimitiveInt:
		return p.I, true
	case PrimitiveBool:
		if p.B {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsBool returns the boolean payload.
func (p Primitive) AsBool() (bool, bool) {
	if p.Kind == PrimitiveBool {
		return p.B, true
	}
	return false, false
}

// AsBang reports whether the primitive is a trigger.
func (p Primitive) AsBang() bool { return p.Kind == PrimitiveBang }

// IsNone reports whether the primitive is absent.
func (p Primitive) IsNone() bool { return p.Kind == PrimitiveNone }

type primitiveJSON struct {
	Kind  string      `json:"kind"`
	Value interface{} `json:"value,omitempty"`
}

// MarshalJSON encodes the primitive as {kind, value}.
func (p Primitive) MarshalJSON() ([]byte, error) {
	out := primitiveJSON{}
	switch p.Kind {
	case PrimitiveNone:
		out.Kind = "none"
	case PrimitiveFloat:
		out.Kind = "float"
		out.Value = p.F
	case PrimitiveInt:
		out.Kind = "int"
		out.Value = p.I
	case PrimitiveBool:
		out.Kind = "bool"
		out.Value = p.B
	case PrimitiveString:
		out.Kind = "string"
		out.Value = p.S
	case PrimitiveBang:
		out.Kind = "bang"
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a {kind, value} primitive.
func (p *Primitive) UnmarshalJSON(data []byte) error {
	var in primitiveJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "none", "":
		*p = None()
	case "float":
		f, _ := in.Value.(float64)
		*p = Float(float32(f))
	case "int":
		f, _ := in.Value.(float64)
		*p = Int(int32(f))
	case "bool":
		b, _ := in.Value.(bool)
		*p = Bool(b)
	case "string":
		s, _ := in.Value.(string)
		*p = String(s)
	case "bang":
		*p = Bang()
	default:
		return fmt.Errorf("unknown primitive kind %q", in.Kind)
	}
	return nil
}

// SocketDefault is the default injected into an unconnected input socket.
// Stream inputs read a constant sample, value inputs a primitive, and midi
// inputs read no bundle.
type SocketDefault struct {
	Type      SocketType `json:"type"`
	Primitive Primitive  `json:"primitive,omitempty"`
	Sample    float32    `json:"sample,omitempty"`
}

// StreamDefault is the default for a stream input socket.
func StreamDefault(sample float32) SocketDefault {
	return SocketDefault{Type: SocketStream, Sample: sample}
}

// ValueDefault is the default for a value input socket.
func ValueDefault(p Primitive) SocketDefault {
	return SocketDefault{Type: SocketValue, Primitive: p}
}

// MidiDefault is the (empty) default for a midi input socket.
func MidiDefault() SocketDefault {
	return SocketDefault{Type: SocketMidi}
}
