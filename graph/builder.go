package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

// Build creates the audio graph of a song. The declared nodes are created
// first, then the declared connections are applied, then every sequence gets
// its chain: instrument -> effects[0] -> ... -> destination, or the declared
// node named by its SynthRef. Nothing in the song is dropped silently: unknown
// kinds are replaced by fallbacks, and connections that name unknown nodes or
// would close a cycle are ignored, each with a BuildWarning.
func Build(song *jmon.Song, registry *Registry) (*Graph, []BuildWarning) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	g := newGraph(registry)
	g.mu.Lock()
	defer g.mu.Unlock()
	var warnings []BuildWarning
	destinationDeclared := false
	for _, spec := range song.AudioGraph {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}
		doc, known := jmon.LookupKind(spec.Type)
		isDestination := known && doc.Role == jmon.RoleDestination
		if _, taken := g.nodes[g.resolve(id)]; taken && !isDestination {
			warnings = append(warnings, BuildWarning{NodeID: id, Reason: "duplicate node id, declaration ignored"})
			continue
		}
		if isDestination {
			if destinationDeclared {
				warnings = append(warnings, BuildWarning{NodeID: id, Reason: "graph has a single destination; this declaration names the same node"})
			}
			destinationDeclared = true
			if id != DestinationID {
				g.aliases[id] = DestinationID
			}
			warnings = append(warnings, applyOptions(g.nodes[DestinationID], spec.Options)...)
			continue
		}
		role := jmon.RoleEffect
		if known {
			role = doc.Role
		}
		flat := spec.Options.Flatten()
		n, w := registry.create(id, spec.Type, role, flat)
		warnings = append(warnings, w...)
		if len(w) == 0 {
			warnings = append(warnings, applyOptions(n, spec.Options)...)
		}
		g.add(n)
	}
	for _, c := range song.Connections {
		if err := g.connect(g.resolve(c.Source()), g.resolve(c.Target())); err != nil {
			warnings = append(warnings, BuildWarning{NodeID: c.Source(), Reason: fmt.Sprintf("connection %s -> %s ignored: %v", c.Source(), c.Target(), err)})
		}
	}
	g.tracks = make([]track, len(song.Sequences))
	for i := range song.Sequences {
		warnings = append(warnings, g.buildTrack(i, &song.Sequences[i])...)
	}
	return g, warnings
}

// RebuildTrack replaces the chain of one track with the chain of seq. The
// nodes of the previous chain are disposed before the new ones are created.
func (g *Graph) RebuildTrack(index int, seq *jmon.Sequence) ([]BuildWarning, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index < 0 || index > len(g.tracks) {
		return nil, fmt.Errorf("track %d out of range", index)
	}
	if index == len(g.tracks) {
		g.tracks = append(g.tracks, track{})
	}
	for _, id := range g.tracks[index].owned {
		g.remove(id)
	}
	g.tracks[index] = track{}
	return g.buildTrack(index, seq), nil
}

func (g *Graph) buildTrack(index int, seq *jmon.Sequence) []BuildWarning {
	var warnings []BuildWarning
	trackID := seq.ID(index)
	if seq.SynthRef != "" {
		ref := g.resolve(seq.SynthRef)
		if inst, ok := g.nodes[ref].(Instrument); ok {
			g.tracks[index] = track{instrument: inst}
			if len(g.edges[ref]) == 0 {
				warnings = append(warnings, BuildWarning{NodeID: ref, Reason: fmt.Sprintf("referenced by %s but connected to nothing", trackID)})
			}
			return warnings
		}
		reason := fmt.Sprintf("synthRef %q of %s is not a declared instrument, using the own instrument of the track", seq.SynthRef, trackID)
		warnings = append(warnings, BuildWarning{NodeID: seq.SynthRef, Reason: reason})
	}
	t := track{}
	instID := g.uniqueID(trackID + "/synth")
	kind := seq.Synth.Type
	if kind == "" {
		kind = FallbackInstrument
	}
	n, w := g.registry.create(instID, kind, jmon.RoleInstrument, seq.Synth.Options.Flatten())
	warnings = append(warnings, w...)
	if len(w) == 0 {
		warnings = append(warnings, applyOptions(n, seq.Synth.Options)...)
	}
	g.add(n)
	t.instrument = n.(Instrument)
	t.owned = append(t.owned, instID)
	prev := instID
	for j, spec := range seq.Effects {
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("%s/effect-%d", trackID, j)
		}
		id = g.uniqueID(id)
		e, w := g.registry.create(id, spec.Type, jmon.RoleEffect, spec.Options.Flatten())
		warnings = append(warnings, w...)
		if len(w) == 0 {
			warnings = append(warnings, applyOptions(e, spec.Options)...)
		}
		g.add(e)
		t.owned = append(t.owned, id)
		if err := g.connect(prev, id); err != nil {
			warnings = append(warnings, BuildWarning{NodeID: id, Reason: err.Error()})
		}
		prev = id
	}
	if err := g.connect(prev, DestinationID); err != nil {
		warnings = append(warnings, BuildWarning{NodeID: prev, Reason: err.Error()})
	}
	g.tracks[index] = t
	return warnings
}

func (g *Graph) uniqueID(id string) string {
	if _, taken := g.nodes[id]; !taken && g.aliases[id] == "" {
		return id
	}
	return id + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// applyOptions applies numeric options through SetParameter and non-numeric
// ones through SetOption. Options the kind does not document are reported.
func applyOptions(n Node, opts jmon.Options) []BuildWarning {
	var warnings []BuildWarning
	flat := opts.Flatten()
	doc, _ := jmon.LookupKind(n.Kind())
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := flat[k]
		if f, ok := jmon.ToFloat(v); ok {
			if err := n.SetParameter(k, f); err != nil {
				warnings = append(warnings, BuildWarning{NodeID: n.ID(), Reason: err.Error()})
			}
			continue
		}
		if !doc.HasOption(k) {
			warnings = append(warnings, BuildWarning{NodeID: n.ID(), Reason: fmt.Sprintf("option %q ignored by %s", k, n.Kind())})
			continue
		}
		if s, ok := n.(OptionSetter); ok {
			if err := s.SetOption(k, v); err != nil {
				warnings = append(warnings, BuildWarning{NodeID: n.ID(), Reason: err.Error()})
			}
		}
	}
	return warnings
}
