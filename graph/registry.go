package graph

import (
	"fmt"
	"maps"
	"slices"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

type (
	// Constructor creates a node of one kind. opts are the options of the
	// declaration with nested maps flattened into dotted names; constructors
	// read the non-numeric ones they need, the builder applies the numeric
	// ones through SetParameter.
	Constructor func(id string, opts map[string]any) (Node, error)

	// Registry is the closed set of node kinds the builder can create.
	Registry struct {
		constructors map[string]Constructor
	}

	// BuildWarning reports a declaration the builder could not honor as
	// written, for example an unknown node kind that was replaced by a
	// fallback.
	BuildWarning struct {
		NodeID string
		Reason string
	}
)

// Fallback kinds for declarations of unknown kinds.
const (
	FallbackInstrument = "synth"
	FallbackEffect     = "passthrough"
)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// DefaultRegistry returns a registry with every built-in kind. The MIDI
// instrument has no output; register MIDIConstructor to send notes somewhere.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, kind := range []string{"synth", "monosynth", "fmsynth", "amsynth", "plucksynth", "polysynth"} {
		r.Register(kind, SynthConstructor(kind))
	}
	r.Register("sampler", NewSampler)
	r.Register("midi", MIDIConstructor(nil))
	r.Register("gain", NewGain)
	r.Register("delay", NewDelay)
	r.Register("distortion", NewDistortion)
	r.Register("filter", NewFilter)
	r.Register("tremolo", NewTremolo)
	r.Register("passthrough", NewPassthrough)
	r.Register("destination", NewDestination)
	return r
}

// Register adds or replaces the constructor of a kind.
func (r *Registry) Register(kind string, c Constructor) {
	r.constructors[jmon.NormalizeKind(kind)] = c
}

// Lookup returns the constructor of a kind, by any spelling of its name.
func (r *Registry) Lookup(kind string) (Constructor, bool) {
	c, ok := r.constructors[jmon.NormalizeKind(kind)]
	return c, ok
}

// Kinds returns the registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	return slices.Sorted(maps.Keys(r.constructors))
}

// Copy returns a registry with the same constructors.
func (r *Registry) Copy() *Registry {
	return &Registry{constructors: maps.Clone(r.constructors)}
}

// create builds a node of the given kind, falling back to the default kind of
// the role if the kind is unknown or its constructor fails. Instruments are
// guaranteed to implement Instrument.
func (r *Registry) create(id, kind string, role jmon.NodeRole, opts map[string]any) (Node, []BuildWarning) {
	var warnings []BuildWarning
	fallback := FallbackEffect
	if role == jmon.RoleInstrument {
		fallback = FallbackInstrument
	}
	if c, ok := r.Lookup(kind); ok {
		n, err := c(id, opts)
		if err == nil && (role != jmon.RoleInstrument || isInstrument(n)) {
			return n, nil
		}
		if err == nil {
			err = fmt.Errorf("%s is not an instrument", kind)
			n.Dispose()
		}
		warnings = append(warnings, BuildWarning{NodeID: id, Reason: fmt.Sprintf("could not create %q (%v), using %s", kind, err, fallback)})
	} else {
		warnings = append(warnings, BuildWarning{NodeID: id, Reason: fmt.Sprintf("unknown node type %q, using %s", kind, fallback)})
	}
	if c, ok := r.Lookup(fallback); ok {
		if n, err := c(id, opts); err == nil {
			return n, warnings
		}
	}
	// the registry lacks the fallback kind itself; the built-ins always work
	if role == jmon.RoleInstrument {
		n, _ := NewSynth(id, FallbackInstrument)
		return n, warnings
	}
	n, _ := NewPassthrough(id, nil)
	return n, warnings
}

func isInstrument(n Node) bool {
	_, ok := n.(Instrument)
	return ok
}

func (w BuildWarning) String() string {
	return fmt.Sprintf("node %s: %s", w.NodeID, w.Reason)
}
