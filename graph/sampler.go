package graph

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

type (
	// Sampler plays MP3 samples mapped to keys, pitch shifted to the nearest
	// mapped key. Samples load in the background; until they are loaded the
	// sampler is not Ready and queues its triggers.
	Sampler struct {
		base
		files   map[int]string
		samples map[int]*sample
		ready   bool
		err     error
		waiting []func()
		voices  []samplerVoice
	}

	sample struct {
		data []float32
		rate float64
	}

	samplerVoice struct {
		voice
		sample *sample
		pos    float64
		step   float64
	}
)

const samplerVoices = 16

// NewSampler creates a sampler from the options "urls.<note>", mapping note
// names or MIDI numbers to MP3 files, and "baseUrl", the directory the files
// are relative to. Loading starts immediately.
func NewSampler(id string, opts map[string]any) (Node, error) {
	s := &Sampler{
		files:   map[int]string{},
		samples: map[int]*sample{},
		voices:  make([]samplerVoice, samplerVoices),
	}
	s.init(id, "sampler")
	dir, _ := opts["baseUrl"].(string)
	for k, v := range opts {
		note, ok := strings.CutPrefix(k, "urls.")
		if !ok {
			continue
		}
		key, err := jmon.KeyFromName(note)
		if n, nerr := strconv.Atoi(note); nerr == nil && n >= 0 && n <= 127 {
			key, err = n, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sampler url key %q: %w", note, err)
		}
		file, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("sampler url for %s must be a string", note)
		}
		if dir != "" && !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		s.files[key] = file
	}
	if len(s.files) == 0 {
		s.ready = true
		return s, nil
	}
	go s.load()
	return s, nil
}

func (s *Sampler) load() {
	samples := make(map[int]*sample, len(s.files))
	var err error
	for key, file := range s.files {
		smp, e := loadMP3(file)
		if e != nil {
			err = fmt.Errorf("sampler %s: %w", s.id, e)
			continue
		}
		samples[key] = smp
	}
	s.mu.Lock()
	s.samples = samples
	s.err = err
	s.ready = true
	waiting := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	for _, fn := range waiting {
		fn()
	}
}

func loadMP3(file string) (*sample, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", file, err)
	}
	b, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", file, err)
	}
	// the decoder always outputs 16-bit little endian stereo
	frames := len(b) / 4
	data := make([]float32, frames)
	for i := range data {
		l := int16(binary.LittleEndian.Uint16(b[i*4:]))
		r := int16(binary.LittleEndian.Uint16(b[i*4+2:]))
		data[i] = (float32(l) + float32(r)) / 65536
	}
	return &sample{data: data, rate: float64(d.SampleRate())}, nil
}

func (s *Sampler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Sampler) OnReady(fn func()) {
	s.mu.Lock()
	if !s.ready {
		s.waiting = append(s.waiting, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Err returns the error of loading the samples, if any of them failed.
func (s *Sampler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sampler) Voicing() jmon.Voicing { return jmon.Polyphonic }

func (s *Sampler) Trigger(keys []int, velocity, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if !s.ready {
		k := append([]int(nil), keys...)
		s.waiting = append(s.waiting, func() { s.Trigger(k, velocity, duration) })
		return nil
	}
	if len(s.samples) == 0 {
		return s.err
	}
	gate := max(int(math.Round(duration*SampleRate)), 1)
	for _, key := range keys {
		nearest, smp := s.nearest(key)
		vs := make([]voice, len(s.voices))
		for i := range s.voices {
			vs[i] = s.voices[i].voice
		}
		v := &s.voices[allocate(vs)]
		v.voice.start(key, velocity, gate)
		v.sample = smp
		v.pos = 0
		v.step = math.Pow(2, float64(key-nearest)/12) * smp.rate / SampleRate
	}
	return nil
}

func (s *Sampler) nearest(key int) (int, *sample) {
	best, dist := 0, math.MaxInt
	for k := range s.samples {
		d := key - k
		if d < 0 {
			d = -d
		}
		if d < dist || (d == dist && k < best) {
			best, dist = k, d
		}
	}
	return best, s.samples[best]
}

// ReleaseAll releases the sounding voices. Callbacks waiting for the samples
// to load are kept; they run once loading is done.
func (s *Sampler) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := s.envelope()
	for i := range s.voices {
		s.voices[i].stop(env)
	}
}

func (s *Sampler) envelope() envelope {
	return envelope{attack: s.params["attack"], sustain: 1, release: s.params["release"]}
}

func (s *Sampler) Process(in, out []float32) {
	copy(out, in)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	env := s.envelope()
	gain := decibelsToGain(s.params["volume"])
	for i := range s.voices {
		v := &s.voices[i]
		if !v.active() || v.sample == nil {
			continue
		}
		data := v.sample.data
		for j := range out {
			idx := int(v.pos)
			if idx+1 >= len(data) {
				v.stage, v.sustain = stageIdle, false
				break
			}
			frac := float32(v.pos - float64(idx))
			x := data[idx]*(1-frac) + data[idx+1]*frac
			out[j] += x * float32(v.next(env)*v.velocity*gain)
			v.pos += v.step
			if !v.active() {
				break
			}
		}
	}
}
