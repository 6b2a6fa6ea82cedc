// Package nodes implements every node kind the engine knows. Kinds are a
// closed set bound through two pure functions: NewVariant constructs a
// runtime for a kind tag, VariantIO computes a kind's rows from its
// properties. There is no process-wide registry.
package nodes

import (
	"fmt"

	"github.com/wwtos/mjuo-sub000/pkg/engine"
	"github.com/wwtos/mjuo-sub000/pkg/graph"
)

// Kind tags.
const (
	KindGain             = "gain"
	KindOscillator       = "oscillator"
	KindEnvelope         = "envelope"
	KindBiquadFilter     = "biquadFilter"
	KindMixer            = "mixer"
	KindInputs           = "inputs"
	KindOutputs          = "outputs"
	KindPolyphonic       = "polyphonic"
	KindFunction         = "function"
	KindMidiToValues     = "midiToValues"
	KindMidiTranspose    = "midiTranspose"
	KindMidiFilter       = "midiFilter"
	KindMidiSwitch       = "midiSwitch"
	KindMidiMerger       = "midiMerger"
	KindNoteMerger       = "noteMerger"
	KindPortamento       = "portamento"
	KindExpression       = "expression"
	KindStreamExpression = "streamExpression"
	KindToggle           = "toggle"
	KindMemory           = "memory"
	KindSamplePlayer     = "samplePlayer"
	KindRankPlayer       = "rankPlayer"
	KindSoundFontPlayer  = "soundFontPlayer"
)

// NewVariant constructs a fresh runtime for a node kind.
func NewVariant(kind string, config engine.SoundConfig) (engine.Runtime, error) {
	switch kind {
	case KindGain:
		return newGainNode(config), nil
	case KindOscillator:
		return newOscillatorNode(config), nil
	case KindEnvelope:
		return newEnvelopeNode(config), nil
	case KindBiquadFilter:
		return newBiquadFilterNode(config), nil
	case KindMixer:
		return newMixerNode(config), nil
	case KindInputs:
		return newInputsNode(config), nil
	case KindOutputs:
		return newOutputsNode(config), nil
	case KindPolyphonic:
		return newPolyphonicNode(config), nil
	case KindFunction:
		return newFunctionNode(config), nil
	case KindMidiToValues:
		return newMidiToValuesNode(config), nil
	case KindMidiTranspose:
		return newMidiTransposeNode(config), nil
	case KindMidiFilter:
		return newMidiFilterNode(config), nil
	case KindMidiSwitch:
		return newMidiSwitchNode(config), nil
	case KindMidiMerger:
		return newMidiMergerNode(config), nil
	case KindNoteMerger:
		return newNoteMergerNode(config), nil
	case KindPortamento:
		return newPortamentoNode(config), nil
	case KindExpression:
		return newExpressionNode(config), nil
	case KindStreamExpression:
		return newStreamExpressionNode(config), nil
	case KindToggle:
		return newToggleNode(config), nil
	case KindMemory:
		return newMemoryNode(config), nil
	case KindSamplePlayer:
		return newSamplePlayerNode(config), nil
	case KindRankPlayer:
		return newRankPlayerNode(config), nil
	case KindSoundFontPlayer:
		return newSoundFontPlayerNode(config), nil
	}
	return nil, fmt.Errorf("%q: %w", kind, graph.ErrNodeTypeDoesNotExist)
}

// VariantIO computes the rows for a node kind. It is pure in its
// arguments.
func VariantIO(kind string, ctx graph.IoContext, props map[string]graph.Property) (graph.NodeIo, error) {
	switch kind {
	case KindGain:
		return gainIo(ctx, props), nil
	case KindOscillator:
		return oscillatorIo(ctx, props), nil
	case KindEnvelope:
		return envelopeIo(ctx, props), nil
	case KindBiquadFilter:
		return biquadFilterIo(ctx, props), nil
	case KindMixer:
		return mixerIo(ctx, props), nil
	case KindInputs:
		return inputsIo(ctx, props), nil
	case KindOutputs:
		return outputsIo(ctx, props), nil
	case KindPolyphonic:
		return polyphonicIo(ctx, props), nil
	case KindFunction:
		return functionIo(ctx, props), nil
	case KindMidiToValues:
		return midiToValuesIo(ctx, props), nil
	case KindMidiTranspose:
		return midiTransposeIo(ctx, props), nil
	case KindMidiFilter:
		return midiFilterIo(ctx, props), nil
	case KindMidiSwitch:
		return midiSwitchIo(ctx, props), nil
	case KindMidiMerger:
		return midiMergerIo(ctx, props), nil
	case KindNoteMerger:
		return noteMergerIo(ctx, props), nil
	case KindPortamento:
		return portamentoIo(ctx, props), nil
	case KindExpression:
		return expressionIo(ctx, props), nil
	case KindStreamExpression:
		return streamExpressionIo(ctx, props), nil
	case KindToggle:
		return toggleIo(ctx, props), nil
	case KindMemory:
		return memoryIo(ctx, props), nil
	case KindSamplePlayer:
		return samplePlayerIo(ctx, props), nil
	case KindRankPlayer:
		return rankPlayerIo(ctx, props), nil
	case KindSoundFontPlayer:
		return soundFontPlayerIo(ctx, props), nil
	}
	return graph.NodeIo{}, fmt.Errorf("%q: %w", kind, graph.ErrNodeTypeDoesNotExist)
}

// Registry bundles the kind namespace for the engine and editor.
func Registry() engine.Registry {
	return engine.Registry{New: NewVariant, IO: VariantIO}
}

// defaultChannels reads a node's `channels` property, falling back to the
// graph default.
func defaultChannels(props map[string]graph.Property, fallback int) int {
	if prop, ok := props["channels"]; ok {
		if n, ok := prop.AsInteger(); ok && n >= 1 {
			return int(n)
		}
	}
	return fallback
}

// withChannels is the property row that lets a node override its channel
// count.
func withChannels(defaultCount int) graph.NodeRow {
	return graph.PropertyRow("channels", graph.PropertyInteger, graph.IntegerProp(int32(defaultCount)))
}

// propChoice reads a multiple-choice property with a fallback.
func propChoice(props map[string]graph.Property, name, fallback string) string {
	if prop, ok := props[name]; ok {
		if choice, ok := prop.AsChoice(); ok && choice != "" {
			return choice
		}
	}
	return fallback
}

// propInt reads an integer property with a fallback.
func propInt(props map[string]graph.Property, name string, fallback int32) int32 {
	if prop, ok := props[name]; ok {
		if n, ok := prop.AsInteger(); ok {
			return n
		}
	}
	return fallback
}

// propFloat reads a float property with a fallback.
func propFloat(props map[string]graph.Property, name string, fallback float32) float32 {
	if prop, ok := props[name]; ok {
		if f, ok := prop.AsFloat(); ok {
			return f
		}
	}
	return fallback
}

// propString reads a string property with a fallback.
func propString(props map[string]graph.Property, name, fallback string) string {
	if prop, ok := props[name]; ok {
		if s, ok := prop.AsString(); ok {
			return s
		}
	}
	return fallback
}
