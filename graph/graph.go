package graph

import (
	"fmt"
	"slices"
	"sync"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/viterin/vek/vek32"
)

type (
	// Graph is a DAG of nodes rooted at a single destination node. Nodes
	// declared by the song are shared; every track additionally owns the chain
	// of its own instrument and effects, which RebuildTrack replaces. Render
	// can be called from the audio goroutine while other goroutines trigger
	// instruments.
	Graph struct {
		mu       sync.Mutex
		registry *Registry
		nodes    map[string]Node
		order    []string
		edges    map[string][]string
		aliases  map[string]string
		tracks   []track
		buffers  map[string][]float32
		in       []float32
		peak     float32
	}

	track struct {
		instrument Instrument
		owned      []string // ids of the nodes of the own chain
	}
)

// DestinationID is the id of the destination node of every graph.
const DestinationID = "destination"

func newGraph(registry *Registry) *Graph {
	g := &Graph{
		registry: registry,
		nodes:    map[string]Node{},
		edges:    map[string][]string{},
		aliases:  map[string]string{},
		buffers:  map[string][]float32{},
	}
	dest, warnings := registry.create(DestinationID, "destination", jmon.RoleDestination, nil)
	if len(warnings) > 0 {
		dest.Dispose()
		dest, _ = NewDestination(DestinationID, nil)
	}
	g.add(dest)
	return g
}

func (g *Graph) add(n Node) {
	g.nodes[n.ID()] = n
	g.order = append(g.order, n.ID())
}

func (g *Graph) resolve(id string) string {
	if a, ok := g.aliases[id]; ok {
		return a
	}
	return id
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[g.resolve(id)]
}

// Destination returns the root node of the graph.
func (g *Graph) Destination() Node {
	return g.Node(DestinationID)
}

// Nodes returns all the nodes, in the order they were created.
func (g *Graph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	ret := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		ret = append(ret, g.nodes[id])
	}
	return ret
}

// Tracks returns the number of tracks.
func (g *Graph) Tracks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tracks)
}

// Instrument returns the instrument the notes of a track trigger, or nil.
func (g *Graph) Instrument(track int) Instrument {
	g.mu.Lock()
	defer g.mu.Unlock()
	if track < 0 || track >= len(g.tracks) {
		return nil
	}
	return g.tracks[track].instrument
}

// Targets returns the ids of the nodes the given node is connected to.
func (g *Graph) Targets(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.edges[g.resolve(id)])
}

// Connect adds the edge source -> target. Unknown ids are ErrUnknownNode and
// edges that would close a cycle are ErrCycle; the graph is unchanged then.
func (g *Graph) Connect(source, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connect(g.resolve(source), g.resolve(target))
}

func (g *Graph) connect(source, target string) error {
	src, ok := g.nodes[source]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNode, source)
	}
	dst, ok := g.nodes[target]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownNode, target)
	}
	if source == target || g.reachable(target, source) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, source, target)
	}
	if slices.Contains(g.edges[source], target) {
		return nil
	}
	if err := src.Connect(dst); err != nil {
		return err
	}
	g.edges[source] = append(g.edges[source], target)
	return nil
}

func (g *Graph) reachable(from, to string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.edges[id]...)
	}
	return false
}

// remove disposes a node and drops every edge to and from it.
func (g *Graph) remove(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.Dispose()
	delete(g.nodes, id)
	delete(g.edges, id)
	delete(g.buffers, id)
	g.order = slices.DeleteFunc(g.order, func(o string) bool { return o == id })
	for src, targets := range g.edges {
		if slices.Contains(targets, id) {
			g.edges[src] = slices.DeleteFunc(targets, func(t string) bool { return t == id })
			g.nodes[src].Disconnect()
			for _, t := range g.edges[src] {
				g.nodes[src].Connect(g.nodes[t])
			}
		}
	}
}

// topological returns the node ids so that every node comes after all the
// nodes connected to it. Ties keep the creation order.
func (g *Graph) topological() []string {
	indegree := make(map[string]int, len(g.order))
	for _, targets := range g.edges {
		for _, t := range targets {
			indegree[t]++
		}
	}
	ret := make([]string, 0, len(g.order))
	done := make(map[string]bool, len(g.order))
	for len(ret) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			ret = append(ret, id)
			for _, t := range g.edges[id] {
				indegree[t]--
			}
			progressed = true
		}
		if !progressed {
			break // unreachable: connect rejects cycles
		}
	}
	return ret
}

// Render renders one block of mono audio into buf. Every node is processed,
// so instruments not routed to the destination still advance their gates, but
// only the output of the destination reaches buf.
func (g *Graph) Render(buf []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(buf)
	if cap(g.in) < n {
		g.in = make([]float32, n)
	}
	in := g.in[:n]
	inputs := map[string][]string{}
	for src, targets := range g.edges {
		for _, t := range targets {
			inputs[t] = append(inputs[t], src)
		}
	}
	for _, id := range g.topological() {
		vek32.Zeros_Into(in, n)
		for _, src := range inputs[id] {
			vek32.Add_Inplace(in, g.buffers[src][:n])
		}
		out := g.buffers[id]
		if cap(out) < n {
			out = make([]float32, n)
			g.buffers[id] = out
		}
		g.nodes[id].Process(in, out[:n])
	}
	copy(buf, g.buffers[DestinationID][:n])
	if n > 0 {
		vek32.Abs_Into(in, buf)
		g.peak = vek32.Max(in)
	}
}

// Peak returns the absolute peak of the last rendered block.
func (g *Graph) Peak() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// ReleaseAll releases every sounding note of every instrument.
func (g *Graph) ReleaseAll() {
	for _, n := range g.Nodes() {
		if i, ok := n.(Instrument); ok {
			i.ReleaseAll()
		}
	}
}

// Dispose disposes every node. The graph renders silence afterwards.
func (g *Graph) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range slices.Clone(g.order) {
		if id != DestinationID {
			g.remove(id)
		}
	}
	g.nodes[DestinationID].Dispose()
	g.tracks = nil
}
