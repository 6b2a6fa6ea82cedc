// Package dsp holds the low-level signal building blocks the node kinds
// call: oscillators, envelopes, filters and gain math. Everything here is
// allocation-free after construction.
package dsp

import "math"

// Waveform selects an oscillator shape.
type Waveform uint8

const (
	WaveSine Waveform = iota
	WaveSaw
	WaveSquare
	WaveTriangle
)

// WaveformByName maps the oscillator node's property values to shapes.
func WaveformByName(name string) Waveform {
	switch name {
	case "saw":
		return WaveSaw
	case "square":
		return WaveSquare
	case "triangle":
		return WaveTriangle
	}
	return WaveSine
}

// Oscillator generates periodic waveforms with phase continuity across
// frequency changes.
type Oscillator struct {
	sampleRate float64
	frequency  float64
	phase      float64
	phaseInc   float64
}

// NewOscillator creates an oscillator at 440 Hz.
func NewOscillator(sampleRate float64) *Oscillator {
	return &Oscillator{
		sampleRate: sampleRate,
		frequency:  440.0,
		phaseInc:   440.0 / sampleRate,
	}
}

// SetFrequency sets the frequency in Hz.
func (o *Oscillator) SetFrequency(freq float64) {
	o.frequency = freq
	o.phaseInc = freq / o.sampleRate
}

// Frequency returns the current frequency in Hz.
func (o *Oscillator) Frequency() float64 { return o.frequency }

// Reset rewinds the phase to zero.
func (o *Oscillator) Reset() { o.phase = 0 }

func (o *Oscillator) advance() {
	o.phase += o.phaseInc
	if o.phase >= 1.0 {
		o.phase -= math.Floor(o.phase)
	}
}

// Next produces one sample of the selected waveform.
func (o *Oscillator) Next(wave Waveform) float32 {
	var sample float32
	switch wave {
	case WaveSine:
		sample = float32(math.Sin(2.0 * math.Pi * o.phase))
	case WaveSaw:
		sample = float32(2.0*o.phase - 1.0)
	case WaveSquare:
		if o.phase < 0.5 {
			sample = 1.0
		} else {
			sample = -1.0
		}
	case WaveTriangle:
		if o.phase < 0.5 {
			sample = float32(4.0*o.phase - 1.0)
		} else {
			sample = float32(3.0 - 4.0*o.phase)
		}
	}
	o.advance()
	return sample
}

// Fill writes a full buffer of the selected waveform.
func (o *Oscillator) Fill(buffer []float32, wave Waveform) {
	for i := range buffer {
		buffer[i] = o.Next(wave)
	}
}
