package graph

import (
	"fmt"
	"math"
	"strings"

	"github.com/viterin/vek/vek32"
)

type (
	// Gain scales its input.
	Gain struct{ base }

	// Delay is a feedback delay line.
	Delay struct {
		base
		line []float32
		pos  int
	}

	// Distortion is a tanh waveshaper.
	Distortion struct{ base }

	// Filter is a one-pole lowpass or highpass filter.
	Filter struct {
		base
		highpass bool
		state    float64
	}

	// Tremolo modulates the amplitude of its input with a sine LFO.
	Tremolo struct {
		base
		phase float64
	}

	// Passthrough copies its input. It stands in for effects of unknown kinds
	// so that the signal path stays intact.
	Passthrough struct{ base }

	// Destination is the root of the graph; its output is the output of the
	// whole graph.
	Destination struct{ base }
)

// maxDelay is the longest delay time the delay line can hold, in seconds.
const maxDelay = 2

func NewGain(id string, _ map[string]any) (Node, error) {
	g := &Gain{}
	g.init(id, "gain")
	return g, nil
}

func (g *Gain) Process(in, out []float32) {
	vek32.MulNumber_Into(out, in, float32(g.Parameter("gain")))
}

func NewDelay(id string, _ map[string]any) (Node, error) {
	d := &Delay{line: make([]float32, maxDelay*SampleRate+1)}
	d.init(id, "delay")
	return d, nil
}

func (d *Delay) Process(in, out []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.line)
	offset := min(max(int(d.params["delayTime"]*SampleRate), 1), n-1)
	feedback := float32(d.params["feedback"])
	wet := float32(d.params["wet"])
	for i, x := range in {
		delayed := d.line[(d.pos-offset+n)%n]
		d.line[d.pos] = x + delayed*feedback
		d.pos = (d.pos + 1) % n
		out[i] = x*(1-wet) + delayed*wet
	}
}

func NewDistortion(id string, _ map[string]any) (Node, error) {
	d := &Distortion{}
	d.init(id, "distortion")
	return d, nil
}

func (d *Distortion) Process(in, out []float32) {
	k := 1 + 50*d.Parameter("distortion")
	wet := d.Parameter("wet")
	norm := math.Tanh(k)
	for i, x := range in {
		shaped := math.Tanh(k*float64(x)) / norm
		out[i] = float32(float64(x)*(1-wet) + shaped*wet)
	}
}

// NewFilter creates a lowpass filter; the "type" option switches it to a
// highpass.
func NewFilter(id string, _ map[string]any) (Node, error) {
	f := &Filter{}
	f.init(id, "filter")
	return f, nil
}

func (f *Filter) SetOption(name string, value any) error {
	if name != "type" {
		return fmt.Errorf("%w %q for filter", ErrUnknownParameter, name)
	}
	str, _ := value.(string)
	f.mu.Lock()
	defer f.mu.Unlock()
	switch strings.ToLower(str) {
	case "lowpass":
		f.highpass = false
	case "highpass":
		f.highpass = true
	default:
		return fmt.Errorf("unsupported filter type %v", value)
	}
	return nil
}

func (f *Filter) Process(in, out []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := 1 - math.Exp(-2*math.Pi*f.params["frequency"]/SampleRate)
	wet := f.params["wet"]
	for i, x := range in {
		f.state += a * (float64(x) - f.state)
		y := f.state
		if f.highpass {
			y = float64(x) - f.state
		}
		out[i] = float32(float64(x)*(1-wet) + y*wet)
	}
}

func NewTremolo(id string, _ map[string]any) (Node, error) {
	t := &Tremolo{}
	t.init(id, "tremolo")
	return t, nil
}

func (t *Tremolo) Process(in, out []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	step := t.params["frequency"] / SampleRate
	depth := t.params["depth"]
	wet := t.params["wet"]
	for i, x := range in {
		g := 1 - depth*(0.5+0.5*math.Sin(2*math.Pi*t.phase))
		t.phase += step
		t.phase -= math.Floor(t.phase)
		out[i] = float32(float64(x) * (1 - wet + g*wet))
	}
}

func NewPassthrough(id string, _ map[string]any) (Node, error) {
	p := &Passthrough{}
	p.init(id, "passthrough")
	return p, nil
}

func (p *Passthrough) Process(in, out []float32) { copy(out, in) }

func NewDestination(id string, _ map[string]any) (Node, error) {
	d := &Destination{}
	d.init(id, "destination")
	return d, nil
}

func (d *Destination) Process(in, out []float32) {
	vek32.MulNumber_Into(out, in, float32(decibelsToGain(d.Parameter("volume"))))
}
