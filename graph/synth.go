package graph

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

type (
	// Synth is the oscillator instrument behind every synth kind. The kind
	// selects the voice algorithm: plain oscillator, frequency modulation,
	// amplitude modulation or Karplus-Strong pluck. Monophonic kinds have a
	// single voice that every trigger restarts; polysynth allocates voices by
	// stealing the oldest released one.
	Synth struct {
		base
		wave   waveform
		voices []synthVoice
	}

	synthVoice struct {
		voice
		freq     float64
		target   float64
		phase    float64
		modPhase float64
		pluck    []float32
		pluckPos int
	}

	waveform int
)

const (
	sine waveform = iota
	square
	sawtooth
	triangle
)

var waveforms = map[string]waveform{"sine": sine, "square": square, "sawtooth": sawtooth, "triangle": triangle}

// SynthConstructor returns the constructor of one of the synth kinds.
func SynthConstructor(kind string) Constructor {
	kind = jmon.NormalizeKind(kind)
	return func(id string, _ map[string]any) (Node, error) {
		return NewSynth(id, kind)
	}
}

// NewSynth creates a synth of the given kind. Options are applied afterwards
// through SetParameter and SetOption; the only non-numeric option is
// "oscillator.type", one of sine, square, sawtooth and triangle.
func NewSynth(id, kind string) (*Synth, error) {
	doc, ok := jmon.NodeKinds[kind]
	if !ok || doc.Role != jmon.RoleInstrument {
		return nil, fmt.Errorf("%w: %q is not a synth kind", ErrUnknownNode, kind)
	}
	s := &Synth{wave: triangle}
	s.init(id, kind)
	if kind == "fmsynth" || kind == "amsynth" {
		s.wave = sine
	}
	s.resize()
	return s, nil
}

func (s *Synth) SetOption(name string, value any) error {
	if name != "oscillator.type" {
		return fmt.Errorf("%w %q for %s", ErrUnknownParameter, name, s.kind)
	}
	str, _ := value.(string)
	w, ok := waveforms[strings.ToLower(str)]
	if !ok {
		return fmt.Errorf("unknown oscillator type %v", value)
	}
	s.mu.Lock()
	s.wave = w
	s.mu.Unlock()
	return nil
}

func (s *Synth) SetParameter(name string, value float64) error {
	if err := s.base.SetParameter(name, value); err != nil {
		return err
	}
	if strings.EqualFold(name, "maxPolyphony") {
		s.resize()
	}
	return nil
}

func (s *Synth) resize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 1
	if s.doc.Voicing == jmon.Polyphonic {
		n = max(int(s.params["maxPolyphony"]), 1)
	}
	if len(s.voices) == n {
		return
	}
	voices := make([]synthVoice, n)
	copy(voices, s.voices)
	s.voices = voices
}

func (s *Synth) Voicing() jmon.Voicing { return s.doc.Voicing }

func (s *Synth) Trigger(keys []int, velocity, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	gate := max(int(math.Round(duration*SampleRate)), 1)
	for _, key := range keys {
		if key < 0 || key > 127 {
			return fmt.Errorf("key %d out of range", key)
		}
		i := 0
		if s.doc.Voicing == jmon.Polyphonic {
			i = allocate(voicesOf(s.voices))
		}
		s.startVoice(&s.voices[i], key, velocity, gate)
	}
	return nil
}

func voicesOf(v []synthVoice) []voice {
	ret := make([]voice, len(v))
	for i := range v {
		ret[i] = v[i].voice
	}
	return ret
}

func (s *Synth) startVoice(v *synthVoice, key int, velocity float64, gate int) {
	target := keyToFrequency(key, s.params["detune"])
	glide := s.params["portamento"] > 0 && v.active()
	v.voice.start(key, velocity, gate)
	v.target = target
	if !glide {
		v.freq = target
	}
	if s.kind == "plucksynth" {
		n := max(int(SampleRate/target), 2)
		v.pluck = make([]float32, n)
		for i := range v.pluck {
			v.pluck[i] = float32(rand.Float64()*2 - 1)
		}
		v.pluckPos = 0
		v.level = 1
		v.stage = stageSustain
	}
}

func (s *Synth) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := s.envelope()
	for i := range s.voices {
		s.voices[i].stop(env)
	}
}

// Active returns the number of voices currently sounding.
func (s *Synth) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.voices {
		if s.voices[i].active() {
			n++
		}
	}
	return n
}

func (s *Synth) envelope() envelope {
	if s.kind == "plucksynth" {
		return envelope{sustain: 1, release: 0.1}
	}
	return envelope{
		attack:  s.params["envelope.attack"],
		decay:   s.params["envelope.decay"],
		sustain: s.params["envelope.sustain"],
		release: s.params["envelope.release"],
	}
}

func (s *Synth) Process(in, out []float32) {
	copy(out, in)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	env := s.envelope()
	gain := decibelsToGain(s.params["volume"]) * 0.25
	glide := 1.0
	if p := s.params["portamento"]; p > 0 {
		glide = 1 / (p * SampleRate)
	}
	for i := range s.voices {
		v := &s.voices[i]
		if !v.active() {
			continue
		}
		for j := range out {
			level := v.next(env)
			v.freq += (v.target - v.freq) * glide
			out[j] += float32(s.sample(v) * level * v.velocity * gain)
			if !v.active() {
				break
			}
		}
	}
}

func (s *Synth) sample(v *synthVoice) float64 {
	switch s.kind {
	case "plucksynth":
		n := len(v.pluck)
		if n == 0 {
			return 0
		}
		x := v.pluck[v.pluckPos]
		next := v.pluck[(v.pluckPos+1)%n]
		feedback := 0.95 + 0.05*s.params["resonance"]
		damp := s.params["dampening"] / 20000
		v.pluck[v.pluckPos] = float32(feedback * (damp*float64(x) + (1-damp)*0.5*float64(x+next)))
		v.pluckPos = (v.pluckPos + 1) % n
		return float64(x)
	case "fmsynth":
		ret := math.Sin(2*math.Pi*v.phase + s.params["modulationIndex"]*math.Sin(2*math.Pi*v.modPhase))
		s.advance(v, s.params["harmonicity"])
		return ret
	case "amsynth":
		ret := oscillate(s.wave, v.phase) * (0.5 + 0.5*math.Sin(2*math.Pi*v.modPhase))
		s.advance(v, s.params["harmonicity"])
		return ret
	}
	ret := oscillate(s.wave, v.phase)
	s.advance(v, 0)
	return ret
}

func (s *Synth) advance(v *synthVoice, harmonicity float64) {
	v.phase += v.freq / SampleRate
	v.phase -= math.Floor(v.phase)
	if harmonicity > 0 {
		v.modPhase += v.freq * harmonicity / SampleRate
		v.modPhase -= math.Floor(v.modPhase)
	}
}

func oscillate(w waveform, phase float64) float64 {
	switch w {
	case square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case sawtooth:
		return 2*phase - 1
	case triangle:
		return 1 - 4*math.Abs(phase-0.5)
	}
	return math.Sin(2 * math.Pi * phase)
}
