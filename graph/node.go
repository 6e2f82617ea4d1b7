package graph

import (
	"errors"
	"fmt"
	"sync"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

type (
	// Node is one node of the audio graph. Process renders one block of mono
	// audio: in holds the mixed outputs of the nodes connected to this node,
	// out receives the output of the node. Both have the same length. Process
	// is only ever called from the goroutine rendering the graph.
	Node interface {
		ID() string
		Kind() string
		Connect(target Node) error
		Disconnect()
		Dispose()
		SetParameter(name string, value float64) error
		Process(in, out []float32)
	}

	// Instrument is a Node that sounds notes. Trigger starts the keys with the
	// given velocity (0..1) and releases them by itself after duration seconds
	// of rendered audio.
	Instrument interface {
		Node
		Trigger(keys []int, velocity, duration float64) error
		ReleaseAll()
		Voicing() jmon.Voicing
	}

	// Gate is implemented by instruments that need to load assets before they
	// can sound. OnReady calls fn once the instrument is ready, immediately if
	// it already is.
	Gate interface {
		Ready() bool
		OnReady(fn func())
	}

	// OptionSetter is implemented by nodes that accept non-numeric options,
	// e.g. the oscillator type of a synth or the sample files of a sampler.
	OptionSetter interface {
		SetOption(name string, value any) error
	}
)

var (
	ErrUnknownNode      = errors.New("unknown node")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrCycle            = errors.New("connection would create a cycle")
	ErrDisposed         = errors.New("node is disposed")
)

// SampleRate is the rate, in Hz, every node renders at.
const SampleRate = 44100

// base implements the bookkeeping shared by all nodes: identity, outgoing
// connections and documented parameters. Embedders implement Process.
type base struct {
	id       string
	kind     string
	doc      jmon.NodeKind
	mu       sync.Mutex
	params   map[string]float64
	targets  []Node
	disposed bool
}

func (b *base) init(id, kind string) {
	b.id, b.kind = id, kind
	b.doc = jmon.NodeKinds[kind]
	b.params = make(map[string]float64, len(b.doc.Parameters))
	for _, p := range b.doc.Parameters {
		b.params[p.Name] = p.Default
	}
}

func (b *base) ID() string   { return b.id }
func (b *base) Kind() string { return b.kind }

func (b *base) Connect(target Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ErrDisposed
	}
	for _, t := range b.targets {
		if t == target {
			return nil
		}
	}
	b.targets = append(b.targets, target)
	return nil
}

func (b *base) Disconnect() {
	b.mu.Lock()
	b.targets = nil
	b.mu.Unlock()
}

func (b *base) Dispose() {
	b.mu.Lock()
	b.targets = nil
	b.disposed = true
	b.mu.Unlock()
}

// Disposed reports if Dispose has been called.
func (b *base) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

func (b *base) SetParameter(name string, value float64) error {
	p, ok := b.doc.Parameter(name)
	if !ok {
		return fmt.Errorf("%w %q for %s", ErrUnknownParameter, name, b.kind)
	}
	b.mu.Lock()
	b.params[p.Name] = p.Clamp(value)
	b.mu.Unlock()
	return nil
}

// Parameter returns the current value of a parameter.
func (b *base) Parameter(name string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params[name]
}
