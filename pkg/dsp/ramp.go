package dsp

import (
	"errors"
	"math"
)

// RampType selects the glide curve.
type RampType uint8

const (
	RampLinear RampType = iota
	RampExponential
)

// ErrRampOutOfRange is returned when an exponential ramp is given a
// non-positive endpoint.
var ErrRampOutOfRange = errors.New("exponential ramp endpoints must be positive")

// Ramp glides from one value to another over a duration. Exponential
// ramps move at a constant rate in log space, which is what a frequency
// glide should sound like.
type Ramp struct {
	sampleRate float64
	rampType   RampType

	from float64
	to   float64

	// at advances linearly between fromProc and toProc; Position maps it
	// back through the curve
	at       float64
	speed    float64
	fromProc float64
	toProc   float64
}

// NewRamp creates a settled ramp holding a start value.
func NewRamp(sampleRate, start float64) *Ramp {
	return &Ramp{
		sampleRate: sampleRate,
		from:       start,
		to:         start,
		at:         start,
		fromProc:   start,
		toProc:     start,
	}
}

// SetType switches the curve. The current segment is re-derived so the
// ramp keeps gliding from its present position.
func (r *Ramp) SetType(rampType RampType) {
	if rampType == r.rampType {
		return
	}
	position := r.Position()
	r.rampType = rampType
	remaining := 0.0
	if r.speed != 0 {
		remaining = math.Abs(r.toProc-r.at) / math.Abs(r.speed) / r.sampleRate
	}
	_ = r.Set(position, r.to, remaining)
}

// Set starts a glide from `from` to `to` taking `duration` seconds.
// A zero duration snaps to the target.
func (r *Ramp) Set(from, to, duration float64) error {
	r.from = from
	r.to = to

	switch r.rampType {
	case RampLinear:
		r.fromProc = from
		r.toProc = to
	case RampExponential:
		if from <= 0 || to <= 0 {
			return ErrRampOutOfRange
		}
		r.fromProc = math.Log2(from)
		r.toProc = math.Log2(to)
	}

	r.at = r.fromProc
	if duration <= 0 {
		r.at = r.toProc
		r.speed = 0
		return nil
	}
	r.speed = (r.toProc - r.fromProc) / duration / r.sampleRate
	return nil
}

// Advance moves the ramp forward by a number of samples.
func (r *Ramp) Advance(samples int) {
	r.at += r.speed * float64(samples)
	lo := math.Min(r.fromProc, r.toProc)
	hi := math.Max(r.fromProc, r.toProc)
	if r.at < lo {
		r.at = lo
	}
	if r.at > hi {
		r.at = hi
	}
}

// Position returns the ramp's current value.
func (r *Ramp) Position() float64 {
	if r.rampType == RampExponential {
		return math.Exp2(r.at)
	}
	return r.at
}

// Target returns the value the ramp is gliding toward.
func (r *Ramp) Target() float64 { return r.to }

// Done reports whether the ramp has reached its target.
func (r *Ramp) Done() bool { return r.at == r.toProc }

// Snap jumps directly to a value with no glide.
func (r *Ramp) Snap(value float64) {
	_ = r.Set(value, value, 0)
}
