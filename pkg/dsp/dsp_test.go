package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOscillatorSineRMS(t *testing.T) {
	osc := NewOscillator(48000)
	osc.SetFrequency(1000)

	buffer := make([]float32, 4800)
	osc.Fill(buffer, WaveSine)

	var sum float64
	for _, s := range buffer {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(buffer)))
	require.InDelta(t, 1.0/math.Sqrt2, rms, 0.01)
}

func TestOscillatorPhaseContinuity(t *testing.T) {
	osc := NewOscillator(48000)
	osc.SetFrequency(440)
	prev := osc.Next(WaveSine)
	osc.SetFrequency(441)
	next := osc.Next(WaveSine)
	// no discontinuity on frequency change
	require.Less(t, math.Abs(float64(next-prev)), 0.1)
}

func TestADSRStages(t *testing.T) {
	const sr = 48000.0
	env := NewADSR(sr, 0.01, 0.1, 0.5, 0.2)

	// attack completes in ~10ms
	for i := 0; i < int(sr*0.012); i++ {
		env.Next(true)
	}
	require.Greater(t, env.Value(), 0.9)

	// decay settles to sustain
	for i := 0; i < int(sr*0.15); i++ {
		env.Next(true)
	}
	require.InDelta(t, 0.5, env.Value(), 1e-6)
	require.Equal(t, StageSustaining, env.Stage())

	// release decays to silence in ~200ms
	for i := 0; i < int(sr*0.25); i++ {
		env.Next(false)
	}
	require.Less(t, env.Value(), 0.001)
}

func TestADSRReattackFromCurrentLevel(t *testing.T) {
	const sr = 48000.0
	env := NewADSR(sr, 0.1, 0.1, 0.8, 1.0)

	for i := 0; i < int(sr*0.05); i++ {
		env.Next(true)
	}
	for i := 0; i < int(sr*0.05); i++ {
		env.Next(false)
	}
	mid := env.Value()
	require.Greater(t, mid, 0.1)

	// re-trigger: level must continue from mid, not restart at zero
	env.Next(true)
	require.GreaterOrEqual(t, env.Value(), mid-0.01)
}

func TestBiquadLowpassAttenuatesHighs(t *testing.T) {
	const sr = 48000.0
	filter := NewBiquad(1)
	filter.Design(ShapeLowpass, sr, 500, 0.707)

	osc := NewOscillator(sr)
	osc.SetFrequency(8000)

	buffer := make([]float32, 4800)
	osc.Fill(buffer, WaveSine)
	filter.Process(buffer, 0)

	var peak float64
	for _, s := range buffer[2400:] {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	require.Less(t, peak, 0.05)
}

func TestDbConversions(t *testing.T) {
	require.InDelta(t, 1.0, DbToLinear(0), 1e-12)
	require.InDelta(t, 0.501187, DbToLinear(-6), 1e-5)
	require.InDelta(t, -6.0, LinearToDb(DbToLinear(-6)), 1e-9)
	require.Equal(t, 0.0, DbToLinear(MinDB))
}

func TestSmoothedGainSettles(t *testing.T) {
	g := NewSmoothedGain(0, 64)
	g.SetTarget(1)

	src := make([]float32, 256)
	dst := make([]float32, 256)
	for i := range src {
		src[i] = 1
	}
	g.Apply(dst, src)
	require.InDelta(t, 1.0, float64(dst[255]), 0.01)
}
