package engine

import (
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/wwtos/mjuo-sub000/pkg/graph"
)

// Sample is a decoded mono audio sample resource.
type Sample struct {
	Data       []float32
	SampleRate int
	// RootNote is the MIDI note the sample is pitched at.
	RootNote uint8
	// LoopStart/LoopEnd bound the sustain loop; both zero means no loop.
	LoopStart int
	LoopEnd   int
}

// Rank maps note numbers to the sample recorded for each note, the way a
// pipe organ rank has one pipe per key. Rank samples play at their natural
// rate; only detune bends them.
type Rank struct {
	Samples map[uint8]*Sample
}

// SampleFor returns the sample recorded for a note, if the rank has one.
func (r *Rank) SampleFor(note uint8) (*Sample, bool) {
	sample, ok := r.Samples[note]
	return sample, ok
}

// ResourceType discriminates the resource namespaces.
type ResourceType uint8

const (
	ResourceSample ResourceType = iota
	ResourceRank
	ResourceSoundFont
	ResourceUI
)

const (
	NamespaceSamples    = "samples"
	NamespaceRanks      = "ranks"
	NamespaceSoundFonts = "soundfonts"
	NamespaceUI         = "ui"
)

// TypedIndex is a dense index into one of the catalog's namespaces, so the
// traverser can resolve resources once per block without hashing.
type TypedIndex struct {
	Type  ResourceType
	Index int
}

// Resource is a resolved resource handed to Process. The zero value is
// "not found".
type Resource struct {
	Type      ResourceType
	Found     bool
	Sample    *Sample
	Rank      *Rank
	SoundFont *meltysynth.SoundFont
	UI        string
}

// list is an append-only named collection; indices are stable forever.
type list[T any] struct {
	names []string
	items []T
	index map[string]int
}

func newList[T any]() *list[T] {
	return &list[T]{index: map[string]int{}}
}

func (l *list[T]) add(name string, item T) int {
	if i, ok := l.index[name]; ok {
		l.items[i] = item
		return i
	}
	l.names = append(l.names, name)
	l.items = append(l.items, item)
	l.index[name] = len(l.items) - 1
	return len(l.items) - 1
}

func (l *list[T]) indexOf(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

func (l *list[T]) get(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, false
	}
	return l.items[i], true
}

// Resources is the shared catalog of samples, soundfonts and UI assets.
// The editor writes under the write lock; the audio thread reads under a
// try-lock and falls back to its cached index table when contended.
type Resources struct {
	mu         sync.RWMutex
	samples    *list[*Sample]
	ranks      *list[*Rank]
	soundFonts *list[*meltysynth.SoundFont]
	ui         *list[string]
}

// NewResources creates an empty catalog.
func NewResources() *Resources {
	return &Resources{
		samples:    newList[*Sample](),
		ranks:      newList[*Rank](),
		soundFonts: newList[*meltysynth.SoundFont](),
		ui:         newList[string](),
	}
}

// AddSample registers a sample under a name.
func (r *Resources) AddSample(name string, sample *Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples.add(name, sample)
}

// AddRank registers a rank under a name.
func (r *Resources) AddRank(name string, rank *Rank) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranks.add(name, rank)
}

// AddSoundFont registers a soundfont under a name.
func (r *Resources) AddSoundFont(name string, sf *meltysynth.SoundFont) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.soundFonts.add(name, sf)
}

// AddUI registers a UI asset under a name.
func (r *Resources) AddUI(name, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ui.add(name, content)
}

// TryRLock attempts the shared lock without blocking.
func (r *Resources) TryRLock() bool { return r.mu.TryRLock() }

// RLock takes the shared lock.
func (r *Resources) RLock() { r.mu.RLock() }

// RUnlock releases the shared lock.
func (r *Resources) RUnlock() { r.mu.RUnlock() }

// IndexOf resolves a resource reference to its dense index. Callers must
// hold the read lock.
func (r *Resources) IndexOf(ref graph.ResourceRef) (TypedIndex, bool) {
	switch ref.Namespace {
	case NamespaceSamples:
		if i, ok := r.samples.indexOf(ref.Resource); ok {
			return TypedIndex{Type: ResourceSample, Index: i}, true
		}
	case NamespaceRanks:
		if i, ok := r.ranks.indexOf(ref.Resource); ok {
			return TypedIndex{Type: ResourceRank, Index: i}, true
		}
	case NamespaceSoundFonts:
		if i, ok := r.soundFonts.indexOf(ref.Resource); ok {
			return TypedIndex{Type: ResourceSoundFont, Index: i}, true
		}
	case NamespaceUI:
		if i, ok := r.ui.indexOf(ref.Resource); ok {
			return TypedIndex{Type: ResourceUI, Index: i}, true
		}
	}
	return TypedIndex{}, false
}

// Resolve fetches the resource behind a dense index. Callers must hold the
// read lock.
func (r *Resources) Resolve(ix TypedIndex) (Resource, bool) {
	switch ix.Type {
	case ResourceSample:
		if s, ok := r.samples.get(ix.Index); ok {
			return Resource{Type: ResourceSample, Found: true, Sample: s}, true
		}
	case ResourceRank:
		if rank, ok := r.ranks.get(ix.Index); ok {
			return Resource{Type: ResourceRank, Found: true, Rank: rank}, true
		}
	case ResourceSoundFont:
		if sf, ok := r.soundFonts.get(ix.Index); ok {
			return Resource{Type: ResourceSoundFont, Found: true, SoundFont: sf}, true
		}
	case ResourceUI:
		if u, ok := r.ui.get(ix.Index); ok {
			return Resource{Type: ResourceUI, Found: true, UI: u}, true
		}
	}
	return Resource{}, false
}
