package graph

import "math"

type (
	// envelope is a linear attack, decay, sustain, release envelope.
	envelope struct {
		attack, decay, sustain, release float64 // seconds, except sustain level
	}

	stage int

	// voice is the per-note state of an instrument.
	voice struct {
		key               int
		velocity          float64
		level             float64
		releaseStep       float64
		stage             stage
		gate              int // frames until release; 0 = held until released
		sustain           bool
		samplesSinceEvent int
	}
)

const (
	stageIdle stage = iota
	stageAttack
	stageDecay
	stageSustain
	stageRelease
)

func keyToFrequency(key int, detuneCents float64) float64 {
	return 440 * math.Pow(2, (float64(key)-69)/12+detuneCents/1200)
}

func decibelsToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

func (v *voice) start(key int, velocity float64, gateFrames int) {
	*v = voice{key: key, velocity: velocity, stage: stageAttack, gate: gateFrames, sustain: true, level: v.level}
}

func (v *voice) stop(env envelope) {
	if v.stage == stageIdle || v.stage == stageRelease {
		v.sustain = false
		return
	}
	v.sustain = false
	v.samplesSinceEvent = 0
	v.stage = stageRelease
	v.releaseStep = v.level / max(env.release*SampleRate, 1)
}

// next advances the gate and the envelope by one frame and returns the
// envelope level.
func (v *voice) next(env envelope) float64 {
	v.samplesSinceEvent++
	if v.sustain && v.gate > 0 {
		v.gate--
		if v.gate == 0 {
			v.stop(env)
		}
	}
	switch v.stage {
	case stageAttack:
		v.level += 1 / max(env.attack*SampleRate, 1)
		if v.level >= 1 {
			v.level = 1
			v.stage = stageDecay
		}
	case stageDecay:
		v.level -= (1 - env.sustain) / max(env.decay*SampleRate, 1)
		if v.level <= env.sustain {
			v.level = env.sustain
			v.stage = stageSustain
		}
	case stageRelease:
		v.level -= v.releaseStep
		if v.level <= 0 {
			v.level = 0
			v.stage = stageIdle
		}
	}
	return v.level
}

func (v *voice) active() bool { return v.stage != stageIdle }

// allocate picks the voice to trigger a new note on: a released voice is
// preferred over one still playing, and among equals the one whose last event
// is the oldest.
func allocate(voices []voice) int {
	age := 0
	oldestReleased := false
	oldestVoice := 0
	for i := range voices {
		if (!voices[i].sustain && !oldestReleased) ||
			(!voices[i].sustain == oldestReleased && voices[i].samplesSinceEvent >= age) {
			oldestVoice = i
			oldestReleased = !voices[i].sustain
			age = voices[i].samplesSinceEvent
		}
	}
	return oldestVoice
}
