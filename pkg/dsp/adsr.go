package dsp

// GateThreshold is the level above which a gate stream reads as engaged.
const GateThreshold = 0.001

// EnvelopeStage is the ADSR state machine position.
type EnvelopeStage uint8

const (
	StageAttacking EnvelopeStage = iota
	StageDecaying
	StageSustaining
	StageReleasing
)

// ADSR is a linear attack-decay-sustain-release envelope driven by a gate
// signal. A re-trigger before complete release attacks from the current
// level rather than jumping to zero; the attack still takes the full
// attack time.
type ADSR struct {
	sampleRate float64

	Attack  float64
	Decay   float64
	Sustain float64
	Release float64

	stage         EnvelopeStage
	curvePosition float64
	// amplitudeAnchor is where the current segment started from
	amplitudeAnchor float64
	currentValue    float64
}

// NewADSR creates an envelope in the released state.
func NewADSR(sampleRate float64, attack, decay, sustain, release float64) *ADSR {
	return &ADSR{
		sampleRate: sampleRate,
		Attack:     attack,
		Decay:      decay,
		Sustain:    sustain,
		Release:    release,
		stage:      StageReleasing,
	}
}

// Value returns the envelope's current output level.
func (e *ADSR) Value() float64 { return e.currentValue }

// Stage returns the current state machine position.
func (e *ADSR) Stage() EnvelopeStage { return e.stage }

// Reset snaps the envelope to silence.
func (e *ADSR) Reset() {
	e.stage = StageReleasing
	e.curvePosition = 0
	e.amplitudeAnchor = 0
	e.currentValue = 0
}

// Next advances one sample with the given gate state and returns the new
// level.
func (e *ADSR) Next(gateEngaged bool) float64 {
	if gateEngaged {
		e.stepEngaged()
	} else {
		e.stepReleased()
	}
	return e.currentValue
}

// Fill renders a block of envelope values from a gate stream.
func (e *ADSR) Fill(out []float32, gate []float32) {
	for i := range out {
		out[i] = float32(e.Next(gate[i] > GateThreshold))
	}
}

func (e *ADSR) stepEngaged() {
	switch e.stage {
	case StageAttacking:
		rate := (1.0 / e.sampleRate) / e.Attack
		e.curvePosition += rate
		e.currentValue = lerp(e.amplitudeAnchor, 1.0, e.curvePosition)
		if e.currentValue >= 1.0 {
			e.currentValue = 1.0
			e.curvePosition = 0
			e.stage = StageDecaying
		}
	case StageDecaying:
		rate := (1.0 / e.sampleRate) / e.Decay
		e.curvePosition += rate
		e.currentValue = lerp(1.0, e.Sustain, e.curvePosition)
		if e.currentValue <= e.Sustain {
			e.currentValue = e.Sustain
			e.curvePosition = 0
			e.stage = StageSustaining
		}
	case StageSustaining:
		e.currentValue = e.Sustain
	case StageReleasing:
		// gate came back on: attack from wherever we are
		e.curvePosition = 0
		e.amplitudeAnchor = e.currentValue
		e.stage = StageAttacking
	}
}

func (e *ADSR) stepReleased() {
	switch e.stage {
	case StageAttacking, StageDecaying, StageSustaining:
		e.curvePosition = 0
		e.amplitudeAnchor = e.currentValue
		e.stage = StageReleasing
	case StageReleasing:
		rate := (1.0 / e.sampleRate) / e.Release
		e.curvePosition += rate
		e.currentValue = lerp(e.amplitudeAnchor, 0.0, e.curvePosition)
		if e.currentValue <= 0 {
			e.currentValue = 0
		}
	}
}

func lerp(from, to, position float64) float64 {
	if position >= 1 {
		return to
	}
	if position <= 0 {
		return from
	}
	return from + (to-from)*position
}
