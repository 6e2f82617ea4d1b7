package transport_test

import (
	"errors"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/jmonlabs/jmon-daw-sub001/clock"
	"github.com/jmonlabs/jmon-daw-sub001/graph"
	"github.com/jmonlabs/jmon-daw-sub001/transport"
)

type (
	hit struct {
		Key   int
		At    float64
		Param string
		Value float64
	}

	recording struct {
		mu   sync.Mutex
		hits []hit
	}

	// recorder is an instrument that records what it is asked to play.
	recorder struct {
		id, kind string
		clock    *clock.Manual
		rec      *recording
		panicKey int
	}
)

func (r *recording) add(h hit) {
	r.mu.Lock()
	r.hits = append(r.hits, h)
	r.mu.Unlock()
}

func (r *recording) keys() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []int
	for _, h := range r.hits {
		if h.Param == "" {
			ret = append(ret, h.Key)
		}
	}
	return ret
}

func (r *recording) all() []hit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hit(nil), r.hits...)
}

func (r *recorder) ID() string                { return r.id }
func (r *recorder) Kind() string              { return r.kind }
func (r *recorder) Connect(graph.Node) error  { return nil }
func (r *recorder) Disconnect()               {}
func (r *recorder) Dispose()                  {}
func (r *recorder) Process(in, out []float32) { clear(out) }
func (r *recorder) ReleaseAll()               {}
func (r *recorder) Voicing() jmon.Voicing     { return jmon.Polyphonic }
func (r *recorder) SetParameter(name string, v float64) error {
	r.rec.add(hit{At: r.clock.Now(), Param: name, Value: v})
	return nil
}

func (r *recorder) Trigger(keys []int, velocity, duration float64) error {
	for _, k := range keys {
		if k == r.panicKey {
			panic("boom")
		}
		r.rec.add(hit{Key: k, At: r.clock.Now()})
	}
	return nil
}

// gated is a recorder that is not ready until setReady is called.
type gated struct {
	*recorder
	mu      sync.Mutex
	ready   bool
	waiting []func()
}

func (g *gated) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

func (g *gated) OnReady(fn func()) {
	g.mu.Lock()
	if !g.ready {
		g.waiting = append(g.waiting, fn)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	fn()
}

func (g *gated) setReady() {
	g.mu.Lock()
	g.ready = true
	waiting := g.waiting
	g.waiting = nil
	g.mu.Unlock()
	for _, fn := range waiting {
		fn()
	}
}

func newTransport(c *clock.Manual, rec *recording, panicKey int, opts ...transport.Option) *transport.Transport {
	registry := graph.DefaultRegistry()
	registry.Register("recorder", func(id string, _ map[string]any) (graph.Node, error) {
		return &recorder{id: id, kind: "recorder", clock: c, rec: rec, panicKey: panicKey}, nil
	})
	return newTransportWith(c, registry, opts...)
}

// newGatedTransport registers the "gated" instrument; the returned function
// gives the instrument built by the last Load.
func newGatedTransport(c *clock.Manual, rec *recording) (*transport.Transport, func() *gated) {
	registry := graph.DefaultRegistry()
	var last *gated
	registry.Register("gated", func(id string, _ map[string]any) (graph.Node, error) {
		last = &gated{recorder: &recorder{id: id, kind: "gated", clock: c, rec: rec, panicKey: -1}}
		return last, nil
	})
	return newTransportWith(c, registry), func() *gated { return last }
}

func newTransportWith(c *clock.Manual, registry *graph.Registry, opts ...transport.Option) *transport.Transport {
	opts = append([]transport.Option{
		transport.WithRegistry(registry),
		transport.WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
	return transport.New(c, opts...)
}

// song returns a single track song of notes half a second apart, lasting half
// a second each.
func song(keys ...int) jmon.Song {
	notes := make([]jmon.Note, len(keys))
	for i, k := range keys {
		notes[i] = jmon.Note{
			Pitch:    jmon.Single(k),
			Time:     jmon.SecondsTime(float64(i) * 0.5),
			Duration: jmon.SecondsTime(0.5),
		}
	}
	return jmon.Song{
		Tempo:     120,
		Sequences: []jmon.Sequence{{Label: "lead", Synth: jmon.InstrumentSpec{Type: "recorder"}, Notes: notes}},
	}
}

func load(t *testing.T, tr *transport.Transport, s jmon.Song) {
	t.Helper()
	if _, err := tr.Load(s); err != nil {
		t.Fatalf("Load error: %v", err)
	}
}

func drainStatus(tr *transport.Transport) []transport.StatusEvent {
	var ret []transport.StatusEvent
	for {
		select {
		case m := <-tr.Broker().Status:
			ret = append(ret, m.Event)
		default:
			return ret
		}
	}
}

func TestPlayToEnd(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	load(t, tr, song(60, 62, 64))
	if d := tr.Duration(); d != 1.5 {
		t.Fatalf("Duration = %v, want 1.5", d)
	}
	if err := tr.Play(); err != nil {
		t.Fatalf("Play error: %v", err)
	}
	c.AdvanceTo(2)
	want := []hit{{Key: 60, At: 0}, {Key: 62, At: 0.5}, {Key: 64, At: 1}}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got hits %v, want %v", got, want)
	}
	if s := tr.State(); s != transport.StateStopped {
		t.Errorf("state after the end = %v, want stopped", s)
	}
	if p := tr.Position(); p != 0 {
		t.Errorf("position after the end = %v, want 0", p)
	}
	events := drainStatus(tr)
	if len(events) == 0 || events[len(events)-1] != transport.Ended {
		t.Errorf("status events %v do not end with %v", events, transport.Ended)
	}
}

func TestPauseResume(t *testing.T) {
	for _, pauseAt := range []float64{0.6, 0.5, 0.999} {
		c := clock.NewManual()
		rec := &recording{}
		tr := newTransport(c, rec, -1)
		load(t, tr, song(60, 62, 64))
		tr.Play()
		c.AdvanceTo(pauseAt)
		if err := tr.Pause(); err != nil {
			t.Fatalf("Pause error: %v", err)
		}
		before := rec.keys()
		if p := tr.Position(); math.Abs(p-pauseAt) > 1e-9 {
			t.Fatalf("paused position = %v, want %v", p, pauseAt)
		}
		c.AdvanceTo(5)
		if got := rec.keys(); !reflect.DeepEqual(got, before) {
			t.Fatalf("notes triggered while paused: %v -> %v", before, got)
		}
		if p := tr.Position(); math.Abs(p-pauseAt) > 1e-9 {
			t.Fatalf("position moved while paused: %v", p)
		}
		tr.Play()
		c.AdvanceTo(10)
		if got, want := rec.keys(), []int{60, 62, 64}; !reflect.DeepEqual(got, want) {
			t.Errorf("pause at %v: got keys %v, want %v", pauseAt, got, want)
		}
		hits := rec.all()
		if last := hits[len(hits)-1]; math.Abs(last.At-(5+1-pauseAt)) > 1e-9 {
			t.Errorf("pause at %v: last note at %v, want %v", pauseAt, last.At, 5+1-pauseAt)
		}
	}
}

func TestSeekBackwards(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	load(t, tr, song(60, 62, 64))
	tr.Play()
	c.AdvanceTo(1.2)
	if err := tr.Seek(0.4); err != nil {
		t.Fatalf("Seek error: %v", err)
	}
	c.AdvanceTo(5)
	if got, want := rec.keys(), []int{60, 62, 64, 62, 64}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
	if err := tr.Seek(-1); !errors.Is(err, transport.ErrInvalidPosition) {
		t.Errorf("Seek(-1) error = %v, want %v", err, transport.ErrInvalidPosition)
	}
}

func TestSeekWhileStopped(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	load(t, tr, song(60, 62, 64))
	tr.Seek(0.5)
	tr.Play()
	c.AdvanceTo(5)
	if got, want := rec.keys(), []int{62, 64}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	load(t, tr, song(60, 62, 64))
	tr.Play()
	c.AdvanceTo(0.6)
	tr.Stop()
	if n := c.Pending(); n != 0 {
		t.Errorf("%d callbacks still pending after Stop", n)
	}
	c.AdvanceTo(5)
	if got, want := rec.keys(), []int{60, 62}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
	if p := tr.Position(); p != 0 {
		t.Errorf("position after Stop = %v, want 0", p)
	}
}

func TestPauseNotPlaying(t *testing.T) {
	tr := newTransport(clock.NewManual(), &recording{}, -1)
	if err := tr.Pause(); !errors.Is(err, transport.ErrNotPlaying) {
		t.Fatalf("Pause error = %v, want %v", err, transport.ErrNotPlaying)
	}
	if err := tr.Play(); !errors.Is(err, transport.ErrNoSong) {
		t.Fatalf("Play error = %v, want %v", err, transport.ErrNoSong)
	}
}

func TestSetTempoKeepsFraction(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	s := song(60, 62, 64, 65)
	for i := range s.Sequences[0].Notes {
		s.Sequences[0].Notes[i].Time = jmon.BeatsTime(float64(i))
		s.Sequences[0].Notes[i].Duration = jmon.BeatsTime(1)
	}
	load(t, tr, s)
	tr.Play()
	c.AdvanceTo(1)
	if err := tr.SetTempo(60); err != nil {
		t.Fatalf("SetTempo error: %v", err)
	}
	if d := tr.Duration(); d != 4 {
		t.Errorf("Duration = %v, want 4", d)
	}
	if p := tr.Position(); math.Abs(p-2) > 1e-9 {
		t.Errorf("Position = %v, want 2", p)
	}
	c.AdvanceTo(10)
	want := []hit{{Key: 60, At: 0}, {Key: 62, At: 0.5}, {Key: 64, At: 1}, {Key: 65, At: 2}}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got hits %v, want %v", got, want)
	}
	if err := tr.SetTempo(0); !errors.Is(err, jmon.ErrInvalidTempo) {
		t.Errorf("SetTempo(0) error = %v, want %v", err, jmon.ErrInvalidTempo)
	}
}

func TestLoopWraps(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	load(t, tr, song(60, 62, 64, 65))
	if err := tr.SetLoopPoints(0, 1); err != nil {
		t.Fatalf("SetLoopPoints error: %v", err)
	}
	if !tr.ToggleLoop() {
		t.Fatalf("ToggleLoop did not enable the loop")
	}
	tr.Play()
	c.AdvanceTo(1.9)
	if got, want := rec.keys(), []int{60, 62, 60, 62}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
	if p := tr.Position(); math.Abs(p-0.9) > 1e-9 {
		t.Errorf("Position = %v, want 0.9", p)
	}
	looped := false
	for _, e := range drainStatus(tr) {
		looped = looped || e == transport.Looped
	}
	if !looped {
		t.Errorf("no %v status published", transport.Looped)
	}
	if err := tr.SetLoopPoints(1, 1); !errors.Is(err, transport.ErrInvalidLoop) {
		t.Errorf("SetLoopPoints(1, 1) error = %v, want %v", err, transport.ErrInvalidLoop)
	}
}

func TestPanickingEventIsIsolated(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, 62)
	load(t, tr, song(60, 62, 64, 65))
	tr.Play()
	c.AdvanceTo(1.2)
	if got, want := rec.keys(), []int{60, 64}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
	if s := tr.State(); s != transport.StatePlaying {
		t.Errorf("state = %v, want playing", s)
	}
}

func TestAutomationBeforeNotes(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1, transport.WithResolution(0.5))
	s := song(60, 62, 64)
	s.Sequences[0].Automation = []jmon.Channel{{
		ID:     "volume",
		Range:  [2]float64{-60, 0},
		Points: []jmon.Point{{Time: 0, Value: -10}, {Time: 4, Value: -10}},
	}}
	load(t, tr, s)
	tr.Play()
	c.AdvanceTo(2)
	hits := rec.all()
	if len(hits) == 0 || hits[0].Param != "volume" {
		t.Fatalf("first hit %v is not the automation write", hits)
	}
	params := 0
	for _, h := range hits {
		if h.Param == "" {
			continue
		}
		params++
		if h.Value != -10 {
			t.Errorf("automation wrote %v at %v, want -10", h.Value, h.At)
		}
	}
	if params != 4 {
		t.Errorf("got %d automation writes, want 4", params)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	c := clock.NewManual()
	tr := newTransport(c, &recording{}, -1)
	load(t, tr, song(60, 62))
	bad := song(60)
	bad.Tempo = 0
	if _, err := tr.Load(bad); !errors.Is(err, jmon.ErrInvalidTempo) {
		t.Fatalf("Load error = %v, want %v", err, jmon.ErrInvalidTempo)
	}
	if d := tr.Duration(); d != 1 {
		t.Errorf("Duration after rejected load = %v, want 1", d)
	}
}

func TestLoadReportsWarnings(t *testing.T) {
	tr := newTransport(clock.NewManual(), &recording{}, -1)
	s := song(60, 62)
	s.Sequences = append(s.Sequences, jmon.Sequence{
		Synth: jmon.InstrumentSpec{Type: "Theremin"},
		Notes: []jmon.Note{{Pitch: jmon.Chord(60, 64, 67)}},
	})
	warnings, err := tr.Load(s)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	var build, poly bool
	for _, w := range warnings {
		switch w.(type) {
		case graph.BuildWarning:
			build = true
		case jmon.PolyphonyWarning:
			poly = true
		}
	}
	if !build {
		t.Errorf("no BuildWarning for the unknown instrument in %v", warnings)
	}
	if !poly {
		t.Errorf("no PolyphonyWarning for the chord on a monophonic synth in %v", warnings)
	}
}

func TestUpdateSequence(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr := newTransport(c, rec, -1)
	load(t, tr, song(60, 62))
	tr.Play()
	c.AdvanceTo(0.2)
	next := song(72, 74, 76).Sequences[0]
	if _, err := tr.UpdateSequence(0, next); err != nil {
		t.Fatalf("UpdateSequence error: %v", err)
	}
	if s := tr.State(); s != transport.StateStopped {
		t.Errorf("state after UpdateSequence = %v, want stopped", s)
	}
	if d := tr.Duration(); d != 1.5 {
		t.Errorf("Duration = %v, want 1.5", d)
	}
	if _, err := tr.UpdateSequence(1, next); err != nil {
		t.Fatalf("UpdateSequence append error: %v", err)
	}
	if n := tr.Graph().Tracks(); n != 2 {
		t.Errorf("graph has %d tracks, want 2", n)
	}
	if _, err := tr.UpdateSequence(5, next); !errors.Is(err, transport.ErrTrackOutOfRange) {
		t.Errorf("UpdateSequence(5) error = %v, want %v", err, transport.ErrTrackOutOfRange)
	}
}

func TestScheduleOrdering(t *testing.T) {
	s := jmon.Song{
		Tempo: 120,
		Sequences: []jmon.Sequence{
			{Notes: []jmon.Note{{Pitch: jmon.Single(64), Time: jmon.SecondsTime(0.5)}, {Pitch: jmon.Single(60)}}},
			{Notes: []jmon.Note{{Pitch: jmon.Single(48)}}},
		},
	}
	events, total := transport.BuildSchedule(&s, 120, jmon.DefaultResolution, nil)
	if total != 1 {
		t.Fatalf("total = %v, want 1", total)
	}
	var got [][2]int
	for _, e := range events {
		got = append(got, [2]int{e.Track, e.Index})
	}
	want := [][2]int{{0, 1}, {1, 0}, {0, 0}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got order %v, want %v", got, want)
	}
}

func TestSeekRearmsFromTarget(t *testing.T) {
	build := func() (*clock.Manual, *recording, *transport.Transport) {
		c := clock.NewManual()
		rec := &recording{}
		tr := newTransport(c, rec, -1, transport.WithResolution(0.5))
		s := song(60, 62, 64)
		s.Sequences[0].Automation = []jmon.Channel{{
			ID:     "volume",
			Range:  [2]float64{-60, 0},
			Points: []jmon.Point{{Time: 0, Value: -20}, {Time: 3, Value: -5}},
		}}
		load(t, tr, s)
		return c, rec, tr
	}
	for _, pause := range []bool{false, true} {
		c1, rec1, twice := build()
		c2, _, direct := build()
		for _, step := range []struct {
			c  *clock.Manual
			tr *transport.Transport
		}{{c1, twice}, {c2, direct}} {
			step.tr.Play()
			step.c.AdvanceTo(1.2)
			if pause {
				step.tr.Pause()
			}
		}
		twice.Seek(0.2)
		twice.Seek(0.5)
		direct.Seek(0.5)
		got, want := twice.Scheduled(), direct.Scheduled()
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("pause %v: Seek(0.2) then Seek(0.5) armed %v, Seek(0.5) armed %v", pause, got, want)
		}
		var notes []int
		for _, e := range got {
			if e.Time < 0.5-0.01 {
				t.Errorf("pause %v: event %v before the seek target is armed", pause, e)
			}
			if e.Kind == transport.NoteEvent {
				notes = append(notes, e.Index)
			}
		}
		if !reflect.DeepEqual(notes, []int{1, 2}) {
			t.Errorf("pause %v: armed notes %v, want [1 2]", pause, notes)
		}
		if pause {
			twice.Play()
		}
		c1.AdvanceTo(5)
		if got, want := rec1.keys(), []int{60, 62, 64, 62, 64}; !reflect.DeepEqual(got, want) {
			t.Errorf("pause %v: got keys %v, want %v", pause, got, want)
		}
	}
}

func TestTickPublishesWhilePlaying(t *testing.T) {
	c := clock.NewManual()
	tr := newTransport(c, &recording{}, -1)
	load(t, tr, song(60, 62, 64, 65))
	if _, ok := tr.Tick(); ok {
		t.Fatalf("Tick published while stopped")
	}
	tr.Play()
	for _, at := range []float64{0.25, 0.5, 0.75} {
		c.AdvanceTo(at)
		u, ok := tr.Tick()
		if !ok {
			t.Fatalf("Tick at %v did not publish", at)
		}
		got, ok := transport.TimeoutReceive(tr.Broker().Positions, time.Second)
		if !ok {
			t.Fatalf("no position update at %v", at)
		}
		if got != u || math.Abs(got.Seconds-at) > 1e-9 {
			t.Errorf("position update %v, want %v at %v", got, u, at)
		}
	}
	if got, want := jmon.MusicalTimeFromSeconds(0.75, 120), (jmon.MusicalTime{Beats: 1, Ticks: 240}); got != want {
		t.Errorf("musical position %v, want %v", got, want)
	}
	tr.Pause()
	c.AdvanceTo(1)
	if _, ok := tr.Tick(); ok {
		t.Errorf("Tick published while paused")
	}
	if u, ok := transport.TimeoutReceive(tr.Broker().Positions, 10*time.Millisecond); ok {
		t.Errorf("position update %v while paused", u)
	}
	tr.Stop()
	if _, ok := tr.Tick(); ok {
		t.Errorf("Tick published while stopped")
	}
	if u, ok := transport.TimeoutReceive(tr.Broker().Positions, 10*time.Millisecond); ok {
		t.Errorf("position update %v while stopped", u)
	}
}

func gatedSong(keys ...int) jmon.Song {
	s := song(keys...)
	s.Sequences[0].Synth.Type = "gated"
	return s
}

func TestTriggerWaitsForInstrument(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr, inst := newGatedTransport(c, rec)
	load(t, tr, gatedSong(60, 62, 64))
	tr.Play()
	c.AdvanceTo(0.6)
	if got := rec.keys(); len(got) != 0 {
		t.Fatalf("instrument sounded %v before it was ready", got)
	}
	inst().setReady()
	want := []hit{{Key: 60, At: 0.6}, {Key: 62, At: 0.6}}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got hits %v once ready, want %v", got, want)
	}
	c.AdvanceTo(5)
	if got, want := rec.keys(), []int{60, 62, 64}; !reflect.DeepEqual(got, want) {
		t.Errorf("got keys %v, want %v", got, want)
	}
}

func TestWaitingTriggerAcrossPause(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr, inst := newGatedTransport(c, rec)
	load(t, tr, gatedSong(60, 62, 64))
	tr.Play()
	c.AdvanceTo(0.6)
	tr.Pause()
	inst().setReady()
	if got := rec.keys(); len(got) != 0 {
		t.Fatalf("instrument sounded %v while paused", got)
	}
	c.AdvanceTo(2)
	tr.Play()
	if got, want := rec.keys(), []int{60, 62}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got keys %v on resume, want %v", got, want)
	}
	c.AdvanceTo(5)
	if got, want := rec.keys(), []int{60, 62, 64}; !reflect.DeepEqual(got, want) {
		t.Errorf("got keys %v, want %v", got, want)
	}
}

func TestStopDropsWaitingTriggers(t *testing.T) {
	c := clock.NewManual()
	rec := &recording{}
	tr, inst := newGatedTransport(c, rec)
	load(t, tr, gatedSong(60, 62, 64))
	tr.Play()
	c.AdvanceTo(0.6)
	tr.Stop()
	inst().setReady()
	c.AdvanceTo(5)
	if got := rec.keys(); len(got) != 0 {
		t.Errorf("instrument sounded %v after Stop", got)
	}
}
