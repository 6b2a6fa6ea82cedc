package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAllocAndFree(t *testing.T) {
	r := NewRegion[int](64)
	require.Equal(t, 64, r.Capacity())
	require.Equal(t, 64, r.FreeSlots())

	s, err := r.AllocSliceFunc(3, func(i int) int { return i + 1 })
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, s.Values())
	// 3 rounds up to a block of 4
	require.Equal(t, 60, r.FreeSlots())

	r.Free(s)
	require.Equal(t, 64, r.FreeSlots())
}

func TestAllocCopy(t *testing.T) {
	r := NewRegion[byte](16)
	s, err := r.AllocSliceCopy([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), s.Values())
}

func TestExhaustion(t *testing.T) {
	r := NewRegion[int](8)

	a, err := r.AllocSlice(8)
	require.NoError(t, err)

	_, err = r.AllocSlice(1)
	require.ErrorIs(t, err, ErrOutOfArena)

	r.Free(a)
	_, err = r.AllocSlice(1)
	require.NoError(t, err)
}

func TestOversizedRequest(t *testing.T) {
	r := NewRegion[int](8)
	_, err := r.AllocSlice(9)
	require.ErrorIs(t, err, ErrOutOfArena)
}

func TestCoalescing(t *testing.T) {
	r := NewRegion[int](8)

	// carve the region into single-slot blocks, then free them all
	slices := make([]Slice[int], 0, 8)
	for i := 0; i < 8; i++ {
		s, err := r.AllocSlice(1)
		require.NoError(t, err)
		slices = append(slices, s)
	}
	require.Equal(t, 0, r.FreeSlots())

	for _, s := range slices {
		r.Free(s)
	}
	require.Equal(t, 8, r.FreeSlots())

	// buddies must have merged back into one max-size block
	full, err := r.AllocSlice(8)
	require.NoError(t, err)
	r.Free(full)
}

func TestAllocFreeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegion[int](128)
		live := map[int]Slice[int]{}
		next := 0

		t.Repeat(map[string]func(*rapid.T){
			"alloc": func(t *rapid.T) {
				n := rapid.IntRange(1, 32).Draw(t, "n")
				s, err := r.AllocSlice(n)
				if err != nil {
					return
				}
				live[next] = s
				next++
			},
			"free": func(t *rapid.T) {
				if len(live) == 0 {
					t.Skip()
				}
				keys := make([]int, 0, len(live))
				for k := range live {
					keys = append(keys, k)
				}
				k := rapid.SampledFrom(keys).Draw(t, "k")
				r.Free(live[k])
				delete(live, k)
			},
			"": func(t *rapid.T) {
				if r.FreeSlots() < 0 || r.FreeSlots() > r.Capacity() {
					t.Fatalf("free slots out of range: %d", r.FreeSlots())
				}
			},
		})

		for _, s := range live {
			r.Free(s)
		}
		if r.FreeSlots() != r.Capacity() {
			t.Fatalf("leaked slots: %d of %d free", r.FreeSlots(), r.Capacity())
		}
	})
}
