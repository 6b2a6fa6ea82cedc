package midi

import (
	"github.com/wwtos/mjuo-sub000/pkg/arena"
)

// Index is a generational handle to a message bundle owned by a Store.
// The zero Index denotes "no bundle". An Index on a wire stays valid until
// the traverser's garbage collection releases it at a block boundary.
type Index struct {
	slot uint32
	gen  uint32
}

// Valid reports whether the index refers to any bundle at all. It does not
// check liveness; Borrow does.
func (ix Index) Valid() bool { return ix.gen != 0 }

type storeEntry struct {
	gen   uint32
	live  bool
	alloc arena.Slice[Message]
}

// Store owns every message bundle in flight. Bundles live in a fixed arena
// region; handles are generational so a stale Index can never observe a
// reused slot. The Store is mutated only by the audio thread.
type Store struct {
	region  *arena.Region[Message]
	entries []storeEntry
	freed   []uint32
	dropped uint64
}

// NewStore creates a store with an arena of at least `slots` message slots
// and room for `bundles` concurrently live bundles before the entry table
// grows (the table may grow off the hot path; the arena never does).
func NewStore(slots, bundles int) *Store {
	return &Store{
		region:  arena.NewRegion[Message](slots),
		entries: make([]storeEntry, 0, bundles),
		freed:   make([]uint32, 0, bundles),
	}
}

// Register copies msgs into the arena and returns a handle to the bundle.
// Returns a zero Index when the arena is exhausted; the caller drops the
// bundle, and the store counts the drop for per-block diagnostics.
func (s *Store) Register(msgs []Message) (Index, bool) {
	alloc, err := s.region.AllocSliceCopy(msgs)
	if err != nil {
		s.dropped++
		return Index{}, false
	}
	return s.insert(alloc), true
}

// RegisterFunc arena-allocates a bundle of n messages, each produced by f.
func (s *Store) RegisterFunc(n int, f func(i int) Message) (Index, bool) {
	alloc, err := s.region.AllocSliceFunc(n, f)
	if err != nil {
		s.dropped++
		return Index{}, false
	}
	return s.insert(alloc), true
}

// Borrow returns the bundle for ix, or nil if the handle is stale or zero.
func (s *Store) Borrow(ix Index) []Message {
	e := s.entry(ix)
	if e == nil {
		return nil
	}
	return e.alloc.Values()
}

// Clone arena-copies the bundle behind ix into an independent new bundle.
func (s *Store) Clone(ix Index) (Index, bool) {
	src := s.Borrow(ix)
	if src == nil {
		return Index{}, false
	}
	return s.Register(src)
}

// Map produces a new bundle of n messages where each message is computed
// from the source bundle and its index.
func (s *Store) Map(ix Index, n int, f func(src []Message, i int) Message) (Index, bool) {
	src := s.Borrow(ix)
	if src == nil {
		return Index{}, false
	}
	return s.RegisterFunc(n, func(i int) Message { return f(src, i) })
}

// Release frees the bundle behind ix. Releasing a stale or zero handle is
// a no-op; the generation counter guarantees exactly-once semantics.
func (s *Store) Release(ix Index) {
	e := s.entry(ix)
	if e == nil {
		return
	}
	s.region.Free(e.alloc)
	e.live = false
	e.alloc = arena.Slice[Message]{}
	s.freed = append(s.freed, ix.slot)
}

// FreeSlots reports the arena's available capacity, for diagnostics.
func (s *Store) FreeSlots() int { return s.region.FreeSlots() }

// DroppedCount returns how many bundles were dropped on arena exhaustion.
func (s *Store) DroppedCount() uint64 { return s.dropped }

// LiveBundles returns the number of bundles currently registered.
func (s *Store) LiveBundles() int {
	n := 0
	for i := range s.entries {
		if s.entries[i].live {
			n++
		}
	}
	return n
}

func (s *Store) insert(alloc arena.Slice[Message]) Index {
	if n := len(s.freed); n > 0 {
		slot := s.freed[n-1]
		s.freed = s.freed[:n-1]
		e := &s.entries[slot]
		e.gen++
		e.live = true
		e.alloc = alloc
		return Index{slot: slot, gen: e.gen}
	}

	s.entries = append(s.entries, storeEntry{gen: 1, live: true, alloc: alloc})
	return Index{slot: uint32(len(s.entries) - 1), gen: 1}
}

func (s *Store) entry(ix Index) *storeEntry {
	if !ix.Valid() || int(ix.slot) >= len(s.entries) {
		return nil
	}
	e := &s.entries[ix.slot]
	if !e.live || e.gen != ix.gen {
		return nil
	}
	return e
}
