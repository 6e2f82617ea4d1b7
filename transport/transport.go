// Package transport implements the transport of the engine: the Stopped /
// Playing / Paused state machine that owns the playback position, turns the
// loaded song into timed note triggers and parameter writes on a host clock,
// and reschedules whenever playback is resumed, sought, looped or re-tempoed.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/jmonlabs/jmon-daw-sub001/clock"
	"github.com/jmonlabs/jmon-daw-sub001/graph"
)

type (
	// Clock is the host clock the transport schedules against. Callbacks
	// must be called without any lock of the clock held.
	Clock interface {
		ScheduleAt(at float64, fn func()) clock.Handle
		Cancel(h clock.Handle)
		Now() float64
	}

	State int

	// Transport is the playback controller of one engine instance. All its
	// methods are safe for concurrent use.
	Transport struct {
		mu       sync.Mutex
		clock    Clock
		log      *slog.Logger
		broker   *Broker
		registry *graph.Registry

		resolution            float64
		resumeTolerance       float64
		simultaneousTolerance float64

		song     *jmon.Song
		graph    *graph.Graph
		current  atomic.Pointer[graph.Graph] // graph, readable by Render without mu
		tempo    float64
		schedule []Event
		duration float64

		state     State
		position  float64 // seconds; while playing, the position at startedAt
		startedAt float64 // clock time the current scheduling pass started
		loop      bool
		loopStart float64
		loopEnd   float64

		handles []clock.Handle
		pending []Event
		session uint64
		fired   map[eventKey]bool

		// epoch changes whenever fired notes are forgotten: on stop, seek,
		// loop wrap and load. Triggers waiting for an instrument to get ready
		// only run in the epoch they were queued in, and wait in parked while
		// the transport is paused.
		epoch  uint64
		parked []func()
	}
)

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

var (
	ErrNotPlaying      = errors.New("not currently playing")
	ErrNoSong          = errors.New("no song loaded")
	ErrInvalidLoop     = errors.New("loop end must be after loop start")
	ErrInvalidPosition = errors.New("position must be a non-negative number")
	ErrTrackOutOfRange = errors.New("track index out of range")
)

// New creates a transport scheduling against the given clock.
func New(c Clock, opts ...Option) *Transport {
	t := &Transport{
		clock:                 c,
		log:                   slog.Default(),
		broker:                NewBroker(),
		registry:              graph.DefaultRegistry(),
		resolution:            jmon.DefaultResolution,
		resumeTolerance:       DefaultResumeTolerance,
		simultaneousTolerance: jmon.DefaultSimultaneousTolerance,
		tempo:                 jmon.DefaultTempo,
		fired:                 map[eventKey]bool{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) Broker() *Broker { return t.broker }

// Load replaces the song. Structural problems reject the song and leave the
// transport as it was. Otherwise the transport stops if it was playing or
// paused, the audio graph is rebuilt, and the warnings of building the graph,
// parsing the song and analysing its polyphony are returned and published.
func (t *Transport) Load(song jmon.Song) ([]Warning, error) {
	if err := song.Validate(); err != nil {
		return nil, fmt.Errorf("song rejected: %w", err)
	}
	snapshot := song.Copy()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStopped {
		t.stop()
	}
	t.forget()
	if t.graph != nil {
		t.graph.Dispose()
	}
	g, buildWarnings := graph.Build(&snapshot, t.registry)
	t.song, t.graph, t.tempo = &snapshot, g, snapshot.Tempo
	t.current.Store(g)
	var warnings []Warning
	for _, w := range buildWarnings {
		warnings = append(warnings, w)
	}
	warnings = append(warnings, t.rebuildSchedule()...)
	for i := range snapshot.Sequences {
		warnings = append(warnings, t.analyze(i)...)
	}
	t.position = min(t.position, t.duration)
	t.clampLoop()
	t.publish(warnings...)
	t.status(Loaded)
	t.log.Debug("song loaded", "tracks", len(snapshot.Sequences), "duration", t.duration, "warnings", len(warnings))
	return warnings, nil
}

// UpdateSequence replaces one track, rebuilding only its chain of the graph.
// An index equal to the number of tracks appends a track. The transport stops
// first if it is playing or paused.
func (t *Transport) UpdateSequence(index int, seq jmon.Sequence) ([]Warning, error) {
	for _, c := range seq.Automation {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("automation %q rejected: %w", c.ID, err)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		return nil, ErrNoSong
	}
	if index < 0 || index > len(t.song.Sequences) {
		return nil, fmt.Errorf("%w: %d", ErrTrackOutOfRange, index)
	}
	if t.state != StateStopped {
		t.stop()
	}
	next := t.song.Copy()
	if index == len(next.Sequences) {
		next.Sequences = append(next.Sequences, seq.Copy())
	} else {
		next.Sequences[index] = seq.Copy()
	}
	buildWarnings, err := t.graph.RebuildTrack(index, &next.Sequences[index])
	if err != nil {
		return nil, err
	}
	t.song = &next
	var warnings []Warning
	for _, w := range buildWarnings {
		warnings = append(warnings, w)
	}
	warnings = append(warnings, t.rebuildSchedule()...)
	warnings = append(warnings, t.analyze(index)...)
	t.position = min(t.position, t.duration)
	t.clampLoop()
	t.publish(warnings...)
	return warnings, nil
}

// rebuildSchedule recomputes the schedule and the duration of the song at
// the current tempo, returning the parse warnings.
func (t *Transport) rebuildSchedule() []Warning {
	var warnings []Warning
	report := func(err error) {
		var ne *jmon.NoteError
		if errors.As(err, &ne) {
			warnings = append(warnings, ParseWarning{TrackID: t.song.Sequences[ne.Track].ID(ne.Track), Index: ne.Index, Err: err})
			return
		}
		warnings = append(warnings, ParseWarning{Index: -1, Err: err})
	}
	t.schedule, t.duration = BuildSchedule(t.song, t.tempo, t.resolution, report)
	for i, seq := range t.song.Sequences {
		for j := range seq.Notes {
			if err := seq.Notes[j].PitchErr(); err != nil {
				warnings = append(warnings, ParseWarning{TrackID: seq.ID(i), Index: j, Err: err})
			}
		}
	}
	t.fired = map[eventKey]bool{}
	return warnings
}

func (t *Transport) analyze(track int) []Warning {
	seq := &t.song.Sequences[track]
	var notes []jmon.NoteEvent
	for _, e := range t.schedule {
		if e.Kind == NoteEvent && e.Track == track {
			notes = append(notes, e.Note)
		}
	}
	voicing, kind := jmon.VoicingOf(seq.Synth.Type), seq.Synth.Type
	if inst := t.graph.Instrument(track); inst != nil {
		voicing = inst.Voicing()
		if seq.SynthRef != "" {
			kind = inst.Kind()
		}
	}
	var ret []Warning
	for _, w := range jmon.AnalyzePolyphony(seq.ID(track), kind, voicing, notes, t.simultaneousTolerance) {
		ret = append(ret, w)
	}
	return ret
}

// Play starts playback. From Stopped the whole song is scheduled from the
// current position; from Paused only the events at or after the position that
// have not fired yet are. Playing is a no-op.
func (t *Transport) Play() error {
	parked, err := t.play()
	for _, fn := range parked {
		fn()
	}
	return err
}

// play does the transition of Play and returns the triggers parked while
// paused, to be run once mu is released.
func (t *Transport) play() ([]func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		return nil, ErrNoSong
	}
	switch t.state {
	case StatePlaying:
		return nil, nil
	case StatePaused:
		t.state = StatePlaying
		t.reschedule(t.position, true)
		t.status(Resumed)
		t.log.Debug("resumed", "position", t.position, "parked", len(t.parked))
		parked := t.parked
		t.parked = nil
		return parked, nil
	}
	t.rebuildSchedule()
	t.state = StatePlaying
	t.reschedule(t.position, false)
	t.status(Started)
	t.log.Debug("started", "position", t.position, "events", len(t.pending))
	return nil, nil
}

// Pause freezes the position and releases all sounding voices. The events
// already scheduled stay with the clock but discard themselves when they fire;
// the next Play or Stop cancels them.
func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePlaying {
		return ErrNotPlaying
	}
	t.position = t.currentPosition()
	t.state = StatePaused
	t.graph.ReleaseAll()
	t.status(Paused)
	t.log.Debug("paused", "position", t.position)
	return nil
}

// Stop cancels every scheduled event and rewinds to the start. It is valid in
// every state.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	t.status(Stopped)
}

func (t *Transport) stop() {
	t.cancelAll()
	t.session++
	t.state = StateStopped
	t.position = 0
	t.forget()
	if t.graph != nil {
		t.graph.ReleaseAll()
	}
}

// forget clears the fired notes and drops the triggers still waiting for an
// instrument.
func (t *Transport) forget() {
	t.fired = map[eventKey]bool{}
	t.epoch++
	t.parked = nil
}

// Seek moves the position. Every event from the new position on is armed
// again, including one that starts exactly at the new position and already
// fired; so is every event between the new and the old position when moving
// backwards. While playing the armed events are scheduled at once, otherwise
// on the next Play. Positions past the end are clamped to the end.
func (t *Transport) Seek(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ErrInvalidPosition
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seek(min(seconds, t.duration))
	t.status(Sought)
	return nil
}

func (t *Transport) seek(seconds float64) {
	t.forget()
	if t.state != StatePlaying {
		t.cancelAll()
		t.session++
		t.position = seconds
		t.pending = t.armed(seconds, t.state == StatePaused)
		return
	}
	if t.graph != nil {
		t.graph.ReleaseAll()
	}
	t.reschedule(seconds, true)
}

// SetTempo changes the tempo keeping the relative position: the fraction of
// the song already played is the same before and after. Loop points scale
// with the tempo. The schedule is recomputed, and while playing only the
// events from the new position on are scheduled.
func (t *Transport) SetTempo(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return jmon.ErrInvalidTempo
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.song == nil {
		t.tempo = bpm
		return nil
	}
	fraction := 0.0
	if t.duration > 0 {
		fraction = t.currentPosition() / t.duration
	}
	ratio := jmon.SecondsPerBeat(bpm) / jmon.SecondsPerBeat(t.tempo)
	t.tempo = bpm
	t.song.Tempo = bpm
	fired := t.fired
	t.rebuildSchedule()
	for k := range fired {
		// note keys are tempo independent; automation samples are not
		if k.kind == NoteEvent {
			t.fired[k] = true
		}
	}
	t.loopStart *= ratio
	t.loopEnd *= ratio
	position := fraction * t.duration
	if t.state == StatePlaying {
		t.reschedule(position, false)
	} else {
		t.position = position
	}
	t.status(TempoChanged)
	t.log.Debug("tempo changed", "bpm", bpm, "position", position)
	return nil
}

// SetLoopPoints sets the loop region, in seconds. While the loop is enabled
// the transport plays [start, end) and jumps back to start at end.
func (t *Transport) SetLoopPoints(start, end float64) error {
	if start < 0 || !(end > start) || math.IsInf(end, 0) {
		return fmt.Errorf("%w: [%v, %v)", ErrInvalidLoop, start, end)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loopStart, t.loopEnd = start, end
	if t.loop && t.state == StatePlaying {
		t.relooped()
	}
	return nil
}

// ToggleLoop enables or disables the loop and returns the new setting. A
// loop without loop points covers the whole song.
func (t *Transport) ToggleLoop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop = !t.loop
	if t.loop && t.loopEnd <= t.loopStart {
		t.loopStart, t.loopEnd = 0, t.duration
	}
	if t.state == StatePlaying {
		t.relooped()
	}
	return t.loop
}

// relooped reschedules after the loop settings changed while playing.
func (t *Transport) relooped() {
	pos := t.currentPosition()
	if t.loop && (pos >= t.loopEnd || pos < t.loopStart) {
		t.forget()
		pos = t.loopStart
	}
	t.reschedule(pos, true)
}

func (t *Transport) clampLoop() {
	if t.loopEnd > t.duration {
		t.loopEnd = t.duration
	}
	if t.loopStart >= t.loopEnd {
		t.loopStart, t.loopEnd = 0, t.duration
	}
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Position returns the playback position in seconds.
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentPosition()
}

func (t *Transport) currentPosition() float64 {
	if t.state != StatePlaying {
		return t.position
	}
	pos := t.position + t.clock.Now() - t.startedAt
	end := t.duration
	if t.loop {
		end = t.loopEnd
	}
	return min(max(pos, 0), end)
}

// MusicalPosition returns the playback position as bars:beats:ticks.
func (t *Transport) MusicalPosition() jmon.MusicalTime {
	t.mu.Lock()
	defer t.mu.Unlock()
	return jmon.MusicalTimeFromSeconds(t.currentPosition(), t.tempo)
}

func (t *Transport) Tempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempo
}

// Duration returns the length of the song in seconds at the current tempo.
func (t *Transport) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Loop returns the loop setting and the loop points.
func (t *Transport) Loop() (enabled bool, start, end float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop, t.loopStart, t.loopEnd
}

// Graph returns the audio graph of the loaded song, or nil.
func (t *Transport) Graph() *graph.Graph {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.graph
}

// Render renders one block of the current audio graph; silence if no song is
// loaded.
func (t *Transport) Render(buf []float32) {
	g := t.current.Load()
	if g == nil {
		clear(buf)
		return
	}
	g.Render(buf)
}

// Schedule returns the complete schedule at the current tempo.
func (t *Transport) Schedule() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.schedule...)
}

// Scheduled returns the events armed to fire: while playing those of the
// current scheduling pass that have not fired yet, otherwise those the next
// Play schedules.
func (t *Transport) Scheduled() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ret []Event
	for _, e := range t.pending {
		if !t.fired[e.key()] {
			ret = append(ret, e)
		}
	}
	return ret
}

// Tick publishes the current position while playing. Call it once per host
// or UI frame.
func (t *Transport) Tick() (PositionUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePlaying {
		return PositionUpdate{}, false
	}
	pos := t.currentPosition()
	u := PositionUpdate{Seconds: pos, Musical: jmon.MusicalTimeFromSeconds(pos, t.tempo)}
	TrySend(t.broker.Positions, u)
	return u, true
}

// Close stops the transport and disposes the audio graph.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	if t.graph != nil {
		t.graph.Dispose()
		t.graph = nil
		t.current.Store(nil)
	}
}

func (t *Transport) cancelAll() {
	for _, h := range t.handles {
		t.clock.Cancel(h)
	}
	t.handles = t.handles[:0]
	t.pending = nil
}

// reschedule cancels everything scheduled and schedules the events from pos
// on, starting now. The events that already fired in this session are
// skipped; with tolerance, events slightly before pos are included.
func (t *Transport) reschedule(pos float64, tolerance bool) {
	t.cancelAll()
	t.session++
	session := t.session
	now := t.clock.Now()
	t.position, t.startedAt = pos, now
	t.pending = t.armed(pos, tolerance)
	for _, e := range t.pending {
		t.handles = append(t.handles, t.clock.ScheduleAt(now+max(e.Time-pos, 0), t.fire(session, e)))
	}
	if t.loop {
		t.handles = append(t.handles, t.clock.ScheduleAt(now+max(t.loopEnd-pos, 0), t.wrap(session)))
		return
	}
	t.handles = append(t.handles, t.clock.ScheduleAt(now+max(t.duration-pos, 0), t.end(session)))
}

// armed returns the events of the schedule from pos on that have not fired,
// up to the loop end when looping. With tolerance, events slightly before pos
// are included.
func (t *Transport) armed(pos float64, tolerance bool) []Event {
	from := pos
	if tolerance {
		from -= t.resumeTolerance * jmon.SecondsPerMeasure(t.tempo)
	}
	to := -1.0
	if t.loop {
		to = t.loopEnd
	}
	var ret []Event
	for _, e := range window(t.schedule, from, to) {
		if !t.fired[e.key()] {
			ret = append(ret, e)
		}
	}
	return ret
}

func (t *Transport) fire(session uint64, e Event) func() {
	return func() {
		t.mu.Lock()
		if session != t.session || t.state != StatePlaying {
			t.mu.Unlock()
			return
		}
		t.fired[e.key()] = true
		g, epoch := t.graph, t.epoch
		t.mu.Unlock()
		t.apply(g, e, epoch)
	}
}

func (t *Transport) wrap(session uint64) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if session != t.session || t.state != StatePlaying {
			return
		}
		t.forget()
		t.graph.ReleaseAll()
		t.reschedule(t.loopStart, false)
		t.status(Looped)
	}
}

func (t *Transport) end(session uint64) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if session != t.session || t.state != StatePlaying {
			return
		}
		t.stop()
		t.status(Ended)
		t.log.Debug("ended")
	}
}

// apply executes one event against the graph. Failures, including panics,
// are logged and never propagate: sibling events and the transport state are
// unaffected.
func (t *Transport) apply(g *graph.Graph, e Event, epoch uint64) {
	defer t.recoverEvent(e)
	if g == nil {
		return
	}
	if e.Kind == ParamEvent {
		t.applyParam(g, e)
		return
	}
	if err := pitchErr(e.Note.Pitch); err != nil {
		t.log.Warn("note skipped", "track", e.Track, "note", e.Index, "error", err)
		return
	}
	inst := g.Instrument(e.Track)
	if inst == nil {
		t.log.Error("no instrument for track", "track", e.Track)
		return
	}
	trigger := func() {
		if err := inst.Trigger(e.Note.Pitch.Keys(), e.Note.Velocity, e.Note.Duration); err != nil {
			t.log.Error("trigger failed", "event", e.String(), "error", err)
		}
	}
	if gate, ok := inst.(graph.Gate); ok && !gate.Ready() {
		t.log.Debug("instrument not ready, trigger queued", "track", e.Track, "note", e.Index)
		gate.OnReady(t.deferred(epoch, func() {
			defer t.recoverEvent(e)
			trigger()
		}))
		return
	}
	trigger()
}

func (t *Transport) recoverEvent(e Event) {
	if r := recover(); r != nil {
		t.log.Error("event panicked", "event", e.String(), "panic", r)
	}
}

// deferred wraps fn so that it only runs in the given epoch. If the transport
// is paused when it runs, fn is parked until the next resume.
func (t *Transport) deferred(epoch uint64, fn func()) func() {
	var run func()
	run = func() {
		t.mu.Lock()
		if epoch != t.epoch {
			t.mu.Unlock()
			return
		}
		if t.state != StatePlaying {
			t.parked = append(t.parked, run)
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		fn()
	}
	return run
}

func pitchErr(p jmon.Pitch) error {
	if err := p.Err(); err != nil {
		return err
	}
	if len(p.Keys()) == 0 {
		return jmon.ErrNoPitch
	}
	return nil
}

func (t *Transport) applyParam(g *graph.Graph, e Event) {
	var node graph.Node
	if e.Target.Node == "" {
		if inst := g.Instrument(e.Track); inst != nil {
			node = inst
		}
	} else {
		node = g.Node(e.Target.Node)
	}
	if node == nil {
		t.log.Error("automation target not found", "event", e.String(), "node", e.Target.Node)
		return
	}
	if err := node.SetParameter(e.Param, e.Value); err != nil {
		t.log.Error("automation write failed", "event", e.String(), "error", err)
	}
}

func (t *Transport) publish(warnings ...Warning) {
	for _, w := range warnings {
		t.log.Warn("song warning", "warning", w.String())
		TrySend(t.broker.Warnings, w)
	}
}

func (t *Transport) status(e StatusEvent) {
	TrySend(t.broker.Status, StatusMsg{Event: e, State: t.state, Position: t.currentPosition()})
}

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}
