package dsp

import "math"

// FilterShape selects a biquad response.
type FilterShape uint8

const (
	ShapeLowpass FilterShape = iota
	ShapeHighpass
	ShapeBandpass
)

// FilterShapeByName maps the filter node's property values to shapes.
func FilterShapeByName(name string) FilterShape {
	switch name {
	case "highpass":
		return ShapeHighpass
	case "bandpass":
		return ShapeBandpass
	}
	return ShapeLowpass
}

// Biquad is a second-order IIR filter, direct form I, with per-channel
// state preallocated at construction.
type Biquad struct {
	b0, b1, b2 float32
	a1, a2     float32

	x1, x2 []float32
	y1, y2 []float32
}

// NewBiquad creates a pass-through biquad for the given channel count.
func NewBiquad(channels int) *Biquad {
	return &Biquad{
		b0: 1.0,
		x1: make([]float32, channels),
		x2: make([]float32, channels),
		y1: make([]float32, channels),
		y2: make([]float32, channels),
	}
}

// Reset clears the delay lines.
func (b *Biquad) Reset() {
	for i := range b.x1 {
		b.x1[i], b.x2[i], b.y1[i], b.y2[i] = 0, 0, 0, 0
	}
}

// Design configures the filter response. q below 0.01 is clamped.
func (b *Biquad) Design(shape FilterShape, sampleRate, frequency, q float64) {
	if q < 0.01 {
		q = 0.01
	}
	if frequency < 1 {
		frequency = 1
	}
	nyquist := sampleRate / 2
	if frequency > nyquist*0.99 {
		frequency = nyquist * 0.99
	}

	omega := 2.0 * math.Pi * frequency / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	alpha := sinOmega / (2.0 * q)

	var b0, b1, b2 float64
	switch shape {
	case ShapeLowpass:
		b0 = (1.0 - cosOmega) / 2.0
		b1 = 1.0 - cosOmega
		b2 = (1.0 - cosOmega) / 2.0
	case ShapeHighpass:
		b0 = (1.0 + cosOmega) / 2.0
		b1 = -(1.0 + cosOmega)
		b2 = (1.0 + cosOmega) / 2.0
	case ShapeBandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	}
	a0 := 1.0 + alpha
	a1 := -2.0 * cosOmega
	a2 := 1.0 - alpha

	inv := 1.0 / a0
	b.b0 = float32(b0 * inv)
	b.b1 = float32(b1 * inv)
	b.b2 = float32(b2 * inv)
	b.a1 = float32(a1 * inv)
	b.a2 = float32(a2 * inv)
}

// Process filters one channel's buffer in place.
func (b *Biquad) Process(buffer []float32, channel int) {
	x1 := b.x1[channel]
	x2 := b.x2[channel]
	y1 := b.y1[channel]
	y2 := b.y2[channel]

	for i := range buffer {
		x0 := buffer[i]
		y0 := b.b0*x0 + b.b1*x1 + b.b2*x2 - b.a1*y1 - b.a2*y2
		x2, x1 = x1, x0
		y2, y1 = y1, y0
		buffer[i] = y0
	}

	b.x1[channel] = x1
	b.x2[channel] = x2
	b.y1[channel] = y1
	b.y2[channel] = y2
}
