package graph

import (
	"encoding/json"
	"fmt"
)

// PropertyKind discriminates the variants of a Property value.
type PropertyKind uint8

const (
	PropertyString PropertyKind = iota
	PropertyInteger
	PropertyFloat
	PropertyBool
	PropertyMultipleChoice
	PropertyResource
	PropertySocketList
)

func (k PropertyKind) String() string {
	switch k {
	case PropertyString:
		return "string"
	case PropertyInteger:
		return "integer"
	case PropertyFloat:
		return "float"
	case PropertyBool:
		return "bool"
	case PropertyMultipleChoice:
		return "multipleChoice"
	case PropertyResource:
		return "resource"
	case PropertySocketList:
		return "socketList"
	}
	return "unknown"
}

// ResourceRef names a resource in the shared catalog, e.g.
// {"samples", "piano-c4"}.
type ResourceRef struct {
	Namespace string `json:"namespace"`
	Resource  string `json:"resource"`
}

func (r ResourceRef) String() string {
	return r.Namespace + ":" + r.Resource
}

// Property is a configuration value attached to a node instance. The set of
// properties a node carries is declared by its property rows.
type Property struct {
	Kind     PropertyKind
	S        string
	I        int32
	F        float32
	B        bool
	Ref      ResourceRef
	Sockets  []Socket
}

// StringProp wraps a string property value.
func StringProp(s string) Property { return Property{Kind: PropertyString, S: s} }

// IntegerProp wraps an integer property value.
func IntegerProp(i int32) Property { return Property{Kind: PropertyInteger, I: i} }

// FloatProp wraps a float property value.
func FloatProp(f float32) Property { return Property{Kind: PropertyFloat, F: f} }

// BoolProp wraps a boolean property value.
func BoolProp(b bool) Property { return Property{Kind: PropertyBool, B: b} }

// ChoiceProp wraps a multiple-choice selection.
func ChoiceProp(choice string) Property {
	return Property{Kind: PropertyMultipleChoice, S: choice}
}

// ResourceProp wraps a resource reference.
func ResourceProp(ref ResourceRef) Property {
	return Property{Kind: PropertyResource, Ref: ref}
}

// SocketListProp wraps a socket list (used by the inputs/outputs nodes).
func SocketListProp(sockets []Socket) Property {
	return Property{Kind: PropertySocketList, Sockets: sockets}
}

// AsString returns the string payload of string-like properties.
func (p Property) AsString() (string, bool) {
	if p.Kind == PropertyString || p.Kind == PropertyMultipleChoice {
		return p.S, true
	}
	return "", false
}

// AsInteger returns the integer payload.
func (p Property) AsInteger() (int32, bool) {
	if p.Kind == PropertyInteger {
		return p.I, true
	}
	return 0, false
}

// AsFloat returns the float payload.
func (p Property) AsFloat() (float32, bool) {
	if p.Kind == PropertyFloat {
		return p.F, true
	}
	return 0, false
}

// AsBool returns the boolean payload.
func (p Property) AsBool() (bool, bool) {
	if p.Kind == PropertyBool {
		return p.B, true
	}
	return false, false
}

// AsChoice returns the selected choice of a multiple-choice property.
func (p Property) AsChoice() (string, bool) {
	if p.Kind == PropertyMultipleChoice {
		return p.S, true
	}
	return "", false
}

// AsResource returns the resource reference payload.
func (p Property) AsResource() (ResourceRef, bool) {
	if p.Kind == PropertyResource {
		return p.Ref, true
	}
	return ResourceRef{}, false
}

// AsSocketList returns the socket list payload.
func (p Property) AsSocketList() ([]Socket, bool) {
	if p.Kind == PropertySocketList {
		return p.Sockets, true
	}
	return nil, false
}

// Equal reports deep equality of two property values.
func (p Property) Equal(other Property) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case PropertyString, PropertyMultipleChoice:
		return p.S == other.S
	case PropertyInteger:
		return p.I == other.I
	case PropertyFloat:
		return p.F == other.F
	case PropertyBool:
		return p.B == other.B
	case PropertyResource:
		return p.Ref == other.Ref
	case PropertySocketList:
		if len(p.Sockets) != len(other.Sockets) {
			return false
		}
		for i := range p.Sockets {
			if p.Sockets[i] != other.Sockets[i] {
				return false
			}
		}
		return true
	}
	return true
}

type propertyJSON struct {
	Kind    string       `json:"kind"`
	String  *string      `json:"string,omitempty"`
	Int     *int32       `json:"int,omitempty"`
	Float   *float32     `json:"float,omitempty"`
	Bool    *bool        `json:"bool,omitempty"`
	Ref     *ResourceRef `json:"ref,omitempty"`
	Sockets []Socket     `json:"sockets,omitempty"`
}

// MarshalJSON encodes the property with an explicit kind tag.
func (p Property) MarshalJSON() ([]byte, error) {
	out := propertyJSON{Kind: p.Kind.String()}
	switch p.Kind {
	case PropertyString, PropertyMultipleChoice:
		out.String = &p.S
	case PropertyInteger:
		out.Int = &p.I
	case PropertyFloat:
		out.Float = &p.F
	case PropertyBool:
		out.Bool = &p.B
	case PropertyResource:
		out.Ref = &p.Ref
	case PropertySocketList:
		out.Sockets = p.Sockets
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a kind-tagged property.
func (p *Property) UnmarshalJSON(data []byte) error {
	var in propertyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "string":
		p.Kind = PropertyString
		if in.String != nil {
			p.S = *in.String
		}
	case "multipleChoice":
		p.Kind = PropertyMultipleChoice
		if in.String != nil {
			p.S = *in.String
		}
	case "integer":
		p.Kind = PropertyInteger
		if in.Int != nil {
			p.I = *in.Int
		}
	case "float":
		p.Kind = PropertyFloat
		if in.Float != nil {
			p.F = *in.Float
		}
	case "bool":
		p.Kind = PropertyBool
		if in.Bool != nil {
			p.B = *in.Bool
		}
	case "resource":
		p.Kind = PropertyResource
		if in.Ref != nil {
			p.Ref = *in.Ref
		}
	case "socketList":
		p.Kind = PropertySocketList
		p.Sockets = in.Sockets
	default:
		return fmt.Errorf("unknown property kind %q", in.Kind)
	}
	return nil
}
