package midi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	m := ParseBytes([]byte{0x90, 60, 100}, 0)
	require.Equal(t, KindNoteOn, m.Kind)
	require.Equal(t, uint8(0), m.Channel)
	require.Equal(t, uint8(60), m.Note())
	require.Equal(t, uint8(100), m.Velocity())

	// note-on with velocity zero is a note-off
	m = ParseBytes([]byte{0x93, 60, 0}, 0)
	require.Equal(t, KindNoteOff, m.Kind)
	require.Equal(t, uint8(3), m.Channel)

	m = ParseBytes([]byte{0xE0, 0x00, 0x40}, 0)
	require.Equal(t, KindPitchBend, m.Kind)
	require.Equal(t, int16(0), m.Bend)
}

func TestBytesRoundTrip(t *testing.T) {
	for _, msg := range []Message{
		NewNoteOn(2, 64, 90, 0),
		NewControlChange(1, CCSustain, 127, 0),
		NewPitchBend(0, -1024, 0),
		{Kind: KindReset},
	} {
		got := ParseBytes(msg.Bytes(), 0)
		require.Equal(t, msg.Kind, got.Kind)
		require.Equal(t, msg.Channel, got.Channel)
		require.Equal(t, msg.Bend, got.Bend)
	}
}

func TestIsReset(t *testing.T) {
	require.True(t, Message{Kind: KindReset}.IsReset())
	require.True(t, NewControlChange(0, CCAllNotesOff, 0, 0).IsReset())
	require.False(t, NewNoteOn(0, 60, 1, 0).IsReset())
}

func TestNoteToFrequency(t *testing.T) {
	require.InDelta(t, 440.0, NoteToFrequency(69, 0), 1e-9)
	require.InDelta(t, 880.0, NoteToFrequency(81, 0), 1e-9)
	require.Equal(t, uint8(69), FrequencyToNote(440, 0))
	require.Equal(t, "A4", NoteName(69))
}
