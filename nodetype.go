package jmon

import (
	"strings"

	"golang.org/x/text/cases"
)

// NodeRole tells where a node kind can appear in the audio graph.
type NodeRole int

const (
	RoleInstrument NodeRole = iota
	RoleEffect
	RoleDestination
)

// NodeParameter documents one numeric parameter that a node kind takes.
type NodeParameter struct {
	Name    string  // dotted name, e.g. "envelope.attack"
	Min     float64 // inclusive
	Max     float64 // inclusive
	Default float64
}

// NodeKind documents a node kind: its role, the voice capacity of
// instruments, the numeric parameters it accepts, and the names of the
// non-numeric options it reads. An option name ending in ".*" accepts any
// nested key.
type NodeKind struct {
	Role       NodeRole
	Voicing    Voicing
	Parameters []NodeParameter
	Options    []string
}

var envelope = []NodeParameter{
	{Name: "volume", Min: -60, Max: 12, Default: 0},
	{Name: "detune", Min: -1200, Max: 1200, Default: 0},
	{Name: "envelope.attack", Min: 0, Max: 10, Default: 0.005},
	{Name: "envelope.decay", Min: 0, Max: 10, Default: 0.1},
	{Name: "envelope.sustain", Min: 0, Max: 1, Default: 0.3},
	{Name: "envelope.release", Min: 0, Max: 10, Default: 1},
}

func params(base []NodeParameter, extra ...NodeParameter) []NodeParameter {
	ret := make([]NodeParameter, 0, len(base)+len(extra))
	ret = append(ret, base...)
	return append(ret, extra...)
}

var oscillator = []string{"oscillator.type"}

var wet = NodeParameter{Name: "wet", Min: 0, Max: 1, Default: 1}

// NodeKinds documents all the node kinds the engine can build. Keys are case
// folded kind names.
var NodeKinds = map[string]NodeKind{
	"synth":      {Role: RoleInstrument, Voicing: Monophonic, Parameters: envelope, Options: oscillator},
	"monosynth":  {Role: RoleInstrument, Voicing: Monophonic, Parameters: params(envelope, NodeParameter{Name: "portamento", Min: 0, Max: 1, Default: 0}), Options: oscillator},
	"fmsynth":    {Role: RoleInstrument, Voicing: Monophonic, Parameters: params(envelope, NodeParameter{Name: "harmonicity", Min: 0.1, Max: 20, Default: 3}, NodeParameter{Name: "modulationIndex", Min: 0, Max: 100, Default: 10}), Options: oscillator},
	"amsynth":    {Role: RoleInstrument, Voicing: Monophonic, Parameters: params(envelope, NodeParameter{Name: "harmonicity", Min: 0.1, Max: 20, Default: 3}), Options: oscillator},
	"plucksynth": {Role: RoleInstrument, Voicing: Monophonic, Parameters: []NodeParameter{{Name: "volume", Min: -60, Max: 12, Default: 0}, {Name: "resonance", Min: 0, Max: 0.999, Default: 0.7}, {Name: "dampening", Min: 20, Max: 20000, Default: 4000}}},
	"polysynth":  {Role: RoleInstrument, Voicing: Polyphonic, Parameters: params(envelope, NodeParameter{Name: "maxPolyphony", Min: 1, Max: 32, Default: 8}), Options: oscillator},
	"sampler":    {Role: RoleInstrument, Voicing: Polyphonic, Parameters: []NodeParameter{{Name: "volume", Min: -60, Max: 12, Default: 0}, {Name: "attack", Min: 0, Max: 10, Default: 0}, {Name: "release", Min: 0, Max: 10, Default: 0.1}}, Options: []string{"urls.*", "baseUrl"}},
	"midi":       {Role: RoleInstrument, Voicing: Polyphonic, Parameters: []NodeParameter{{Name: "channel", Min: 0, Max: 15, Default: 0}}},

	"gain":        {Role: RoleEffect, Parameters: []NodeParameter{{Name: "gain", Min: 0, Max: 4, Default: 1}}},
	"delay":       {Role: RoleEffect, Parameters: []NodeParameter{{Name: "delayTime", Min: 0, Max: 2, Default: 0.25}, {Name: "feedback", Min: 0, Max: 0.95, Default: 0.5}, wet}},
	"distortion":  {Role: RoleEffect, Parameters: []NodeParameter{{Name: "distortion", Min: 0, Max: 1, Default: 0.4}, wet}},
	"filter":      {Role: RoleEffect, Parameters: []NodeParameter{{Name: "frequency", Min: 20, Max: 20000, Default: 1000}, wet}, Options: []string{"type"}},
	"tremolo":     {Role: RoleEffect, Parameters: []NodeParameter{{Name: "frequency", Min: 0, Max: 40, Default: 10}, {Name: "depth", Min: 0, Max: 1, Default: 0.5}, wet}},
	"passthrough": {Role: RoleEffect},

	"destination": {Role: RoleDestination, Parameters: []NodeParameter{{Name: "volume", Min: -60, Max: 12, Default: 0}}},
}

var kindAliases = map[string]string{
	"feedbackdelay": "delay",
}

// NormalizeKind case folds a kind name and resolves aliases, so that "PolySynth",
// "polysynth" and "POLYSYNTH" all name the same kind.
func NormalizeKind(kind string) string {
	k := cases.Fold().String(strings.TrimSpace(kind))
	if a, ok := kindAliases[k]; ok {
		return a
	}
	return k
}

// LookupKind returns the documentation of a kind, by any spelling of its
// name.
func LookupKind(kind string) (NodeKind, bool) {
	k, ok := NodeKinds[NormalizeKind(kind)]
	return k, ok
}

// Parameter returns the documentation of the named parameter of the kind.
func (k NodeKind) Parameter(name string) (NodeParameter, bool) {
	for _, p := range k.Parameters {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return NodeParameter{}, false
}

// HasOption reports if the kind reads the named non-numeric option.
func (k NodeKind) HasOption(name string) bool {
	for _, o := range k.Options {
		if prefix, ok := strings.CutSuffix(o, ".*"); ok && strings.HasPrefix(name, prefix+".") {
			return true
		}
		if strings.EqualFold(o, name) {
			return true
		}
	}
	return false
}

// Clamp limits a value to the documented range of the parameter.
func (p NodeParameter) Clamp(v float64) float64 {
	return min(max(v, p.Min), p.Max)
}

func (r NodeRole) String() string {
	switch r {
	case RoleInstrument:
		return "instrument"
	case RoleEffect:
		return "effect"
	case RoleDestination:
		return "destination"
	}
	return "unknown"
}
