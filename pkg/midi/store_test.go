package midi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegisterAndBorrow(t *testing.T) {
	s := NewStore(256, 16)

	ix, ok := s.Register([]Message{
		NewNoteOn(0, 60, 100, 0),
		NewNoteOff(0, 60, 0, 0),
	})
	require.True(t, ok)
	require.True(t, ix.Valid())

	msgs := s.Borrow(ix)
	require.Len(t, msgs, 2)
	require.Equal(t, KindNoteOn, msgs[0].Kind)
	require.Equal(t, uint8(60), msgs[0].Note())
}

func TestStaleHandleAfterRelease(t *testing.T) {
	s := NewStore(256, 16)

	ix, ok := s.Register([]Message{NewNoteOn(0, 60, 100, 0)})
	require.True(t, ok)

	s.Release(ix)
	require.Nil(t, s.Borrow(ix))

	// the slot is reused, but the old handle's generation no longer matches
	ix2, ok := s.Register([]Message{NewNoteOn(0, 64, 100, 0)})
	require.True(t, ok)
	require.Nil(t, s.Borrow(ix))
	require.NotNil(t, s.Borrow(ix2))
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	s := NewStore(256, 16)

	ix, _ := s.Register([]Message{NewNoteOn(0, 60, 100, 0)})
	before := s.FreeSlots()
	s.Release(ix)
	after := s.FreeSlots()
	require.Greater(t, after, before)

	s.Release(ix)
	require.Equal(t, after, s.FreeSlots())
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewStore(256, 16)

	ix, _ := s.Register([]Message{NewNoteOn(0, 60, 100, 0)})
	clone, ok := s.Clone(ix)
	require.True(t, ok)

	s.Release(ix)
	msgs := s.Borrow(clone)
	require.Len(t, msgs, 1)
	require.Equal(t, uint8(60), msgs[0].Note())
}

func TestMap(t *testing.T) {
	s := NewStore(256, 16)

	ix, _ := s.Register([]Message{
		NewNoteOn(0, 60, 100, 0),
		NewNoteOn(0, 64, 100, 0),
	})

	transposed, ok := s.Map(ix, 2, func(src []Message, i int) Message {
		m := src[i]
		m.Data1 += 12
		return m
	})
	require.True(t, ok)

	msgs := s.Borrow(transposed)
	require.Equal(t, uint8(72), msgs[0].Note())
	require.Equal(t, uint8(76), msgs[1].Note())
}

func TestExhaustionDropsBundle(t *testing.T) {
	s := NewStore(4, 4)

	_, ok := s.Register(make([]Message, 4))
	require.True(t, ok)

	_, ok = s.Register(make([]Message, 1))
	require.False(t, ok)
	require.Equal(t, uint64(1), s.DroppedCount())
}

func TestZeroIndex(t *testing.T) {
	s := NewStore(16, 4)
	require.False(t, Index{}.Valid())
	require.Nil(t, s.Borrow(Index{}))
	s.Release(Index{}) // no-op
}

func TestStoreHandleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore(512, 32)
		live := map[uint8]Index{}
		released := []Index{}
		var id uint8

		t.Repeat(map[string]func(*rapid.T){
			"register": func(t *rapid.T) {
				n := rapid.IntRange(1, 8).Draw(t, "n")
				ix, ok := s.Register(make([]Message, n))
				if !ok {
					return
				}
				live[id] = ix
				id++
			},
			"release": func(t *rapid.T) {
				if len(live) == 0 {
					t.Skip()
				}
				keys := make([]uint8, 0, len(live))
				for k := range live {
					keys = append(keys, k)
				}
				k := rapid.SampledFrom(keys).Draw(t, "k")
				s.Release(live[k])
				released = append(released, live[k])
				delete(live, k)
			},
			"": func(t *rapid.T) {
				for _, ix := range live {
					if s.Borrow(ix) == nil {
						t.Fatalf("live handle went stale")
					}
				}
				for _, ix := range released {
					if s.Borrow(ix) != nil {
						t.Fatalf("released handle still borrows")
					}
				}
			},
		})
	})
}
