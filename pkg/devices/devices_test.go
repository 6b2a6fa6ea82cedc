package devices

import (
	"testing"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wwtos/mjuo-sub000/pkg/midi"
)

func TestFloatRingPushPop(t *testing.T) {
	ring := NewFloatRing(8)

	n := ring.Push([]float32{1, 2, 3})
	require.Equal(t, 3, n)
	require.Equal(t, 3, ring.Len())

	dst := make([]float32, 2)
	n = ring.Pop(dst)
	require.Equal(t, 2, n)
	require.Equal(t, []float32{1, 2}, dst)
	require.Equal(t, 1, ring.Len())
}

func TestFloatRingOverflowDropsExcess(t *testing.T) {
	ring := NewFloatRing(4)
	n := ring.Push([]float32{1, 2, 3, 4, 5, 6})
	require.Equal(t, 4, n)
	require.Equal(t, 0, ring.Free())
}

func TestFloatRingWraparoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ring := NewFloatRing(16)
		var next float32
		var expect []float32

		t.Repeat(map[string]func(*rapid.T){
			"push": func(t *rapid.T) {
				count := rapid.IntRange(1, 8).Draw(t, "count")
				src := make([]float32, count)
				for i := range src {
					src[i] = next
					next++
				}
				pushed := ring.Push(src)
				expect = append(expect, src[:pushed]...)
			},
			"pop": func(t *rapid.T) {
				count := rapid.IntRange(1, 8).Draw(t, "count")
				dst := make([]float32, count)
				popped := ring.Pop(dst)
				if popped > len(expect) {
					t.Fatalf("popped %d with only %d buffered", popped, len(expect))
				}
				for i := 0; i < popped; i++ {
					if dst[i] != expect[i] {
						t.Fatalf("out of order: got %v want %v", dst[i], expect[i])
					}
				}
				expect = expect[popped:]
			},
		})
	})
}

func TestOscMappingRoundTrip(t *testing.T) {
	for _, message := range []midi.Message{
		midi.NewNoteOn(2, 64, 100, 0),
		midi.NewNoteOff(2, 64, 0, 0),
		midi.NewControlChange(0, midi.CCSustain, 127, 0),
		midi.NewPitchBend(1, -1024, 0),
		{Kind: midi.KindReset},
	} {
		packet := MessageToOsc(message)
		require.NotNil(t, packet, message.String())

		back, ok := OscToMessage(packet)
		require.True(t, ok, message.String())
		require.Equal(t, message.Kind, back.Kind)
		require.Equal(t, message.Channel, back.Channel)
		require.Equal(t, message.Data1, back.Data1)
		require.Equal(t, message.Bend, back.Bend)
	}
}

func TestOscUnknownAddressRejected(t *testing.T) {
	_, ok := OscToMessage(osc.NewMessage("/unknown", int32(1)))
	require.False(t, ok)
}
