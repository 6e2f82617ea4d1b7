// Package oto plays a rendered audio graph on the sound card through
// ebitengine/oto. The output drives a clock.Sample, so the transport
// schedules against the audio actually played.
package oto

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/jmonlabs/jmon-daw-sub001/clock"
	"github.com/jmonlabs/jmon-daw-sub001/graph"
)

type (
	// Renderer renders one block of mono audio. Both *graph.Graph and
	// *transport.Transport are Renderers.
	Renderer interface {
		Render(buf []float32)
	}

	Context struct {
		ctx        *oto.Context
		sampleRate int
	}

	// Output is an io.Reader pulling audio from a Renderer; every read
	// advances the clock by the number of frames read.
	Output struct {
		mu       sync.Mutex
		renderer Renderer
		clock    *clock.Sample
		player   *oto.Player
		mono     []float32
		closed   bool
	}
)

const (
	DefaultSampleRate = graph.SampleRate
	bufferDuration    = 50 * time.Millisecond
	bytesPerFrame     = 8 // stereo float32
)

// NewContext opens the sound card. Only one context can exist per process.
func NewContext(sampleRate int) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

func (c *Context) SampleRate() int { return c.sampleRate }

// Play starts pulling audio from r, advancing c as frames are played.
func (c *Context) Play(r Renderer, clk *clock.Sample) *Output {
	o := NewOutput(r, clk)
	o.player = c.ctx.NewPlayer(o)
	o.player.Play()
	return o
}

// Suspend pauses the sound card; the clock stops with it.
func (c *Context) Suspend() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (c *Context) Resume() error {
	if err := c.ctx.Resume(); err != nil {
		return fmt.Errorf("cannot resume oto context: %w", err)
	}
	return nil
}

// NewOutput returns an Output that is not attached to a sound card; reading
// from it renders audio as fast as it is read.
func NewOutput(r Renderer, clk *clock.Sample) *Output {
	return &Output{renderer: r, clock: clk}
}

func (o *Output) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := len(p) / bytesPerFrame
	if o.closed || frames == 0 {
		clear(p)
		return len(p), nil
	}
	if cap(o.mono) < frames {
		o.mono = make([]float32, frames)
	}
	mono := o.mono[:frames]
	offset := 0
	o.clock.Process(frames, func(n int) {
		o.renderer.Render(mono[offset : offset+n])
		offset += n
	})
	MonoToStereoFloat32LE(mono, p[:0])
	clear(p[frames*bytesPerFrame:])
	return len(p), nil
}

// Close stops the player. Reads after Close return silence.
func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	if o.player == nil {
		return nil
	}
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
