// Package devices binds external audio/MIDI/OSC endpoints to the engine's
// boundary nodes. Endpoints own lock-free rings; the audio driver drains
// and fills them at block boundaries.
package devices

import "sync/atomic"

// FloatRing is a single-producer single-consumer ring of float32 frames.
// The device callback is the producer for sources and the consumer for
// sinks; the audio driver is on the other side. Capacity is rounded up to
// a power of two.
type FloatRing struct {
	buf  []float32
	mask uint64
	head atomic.Uint64 // read position
	tail atomic.Uint64 // write position
}

// NewFloatRing creates a ring holding at least `capacity` samples.
func NewFloatRing(capacity int) *FloatRing {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &FloatRing{buf: make([]float32, size), mask: uint64(size - 1)}
}

// Len returns how many samples are buffered.
func (r *FloatRing) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns how many samples fit before the ring is full.
func (r *FloatRing) Free() int {
	return len(r.buf) - r.Len()
}

// Push writes as many samples as fit, returning how many were written.
func (r *FloatRing) Push(src []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	free := len(r.buf) - int(tail-head)
	n := len(src)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[(tail+uint64(i))&r.mask] = src[i]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// Pop reads up to len(dst) samples, returning how many were read.
func (r *FloatRing) Pop(dst []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	available := int(tail - head)
	n := len(dst)
	if n > available {
		n = available
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(head+uint64(i))&r.mask]
	}
	r.head.Store(head + uint64(n))
	return n
}
