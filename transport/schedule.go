package transport

import (
	"cmp"
	"fmt"
	"slices"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/samber/lo"
)

type (
	// Event is one entry of the schedule: a note trigger or a parameter write,
	// at an absolute time in seconds from the start of the song.
	Event struct {
		Kind  EventKind
		Time  float64
		Track int
		// Index is the note index for notes and the automation channel index
		// for parameter writes.
		Index int
		// Ordinal tells apart the events sharing Kind, Track and Index: the
		// loop repeat of a note, or the sample number of a parameter write.
		Ordinal int

		Note   jmon.NoteEvent
		Value  float64
		Target jmon.ParamTarget
		Param  string
	}

	EventKind int

	// eventKey identifies an event across scheduling passes at one tempo.
	eventKey struct {
		kind    EventKind
		track   int
		index   int
		ordinal int
	}
)

const (
	ParamEvent EventKind = iota
	NoteEvent
)

func (e *Event) key() eventKey {
	return eventKey{kind: e.Kind, track: e.Track, index: e.Index, ordinal: e.Ordinal}
}

func (e Event) String() string {
	if e.Kind == NoteEvent {
		return fmt.Sprintf("%.3fs track %d note %d %s", e.Time, e.Track, e.Index, e.Note.Pitch)
	}
	return fmt.Sprintf("%.3fs track %d %s = %g", e.Time, e.Track, e.Param, e.Value)
}

func (k EventKind) String() string {
	if k == NoteEvent {
		return "note"
	}
	return "param"
}

// BuildSchedule expands every sequence of the song and samples every
// automation channel at the given tempo, returning the events sorted by time
// and the total duration of the song. Events at the same time are ordered by
// track, parameter writes before notes, then by note or channel index, so
// simultaneous automation writes to one parameter resolve to the last
// channel. Malformed entries are passed to report and replaced by defaults.
func BuildSchedule(song *jmon.Song, bpm, resolution float64, report func(error)) ([]Event, float64) {
	if report == nil {
		report = func(error) {}
	}
	total := jmon.CompositionDuration(song, bpm)
	var events []Event
	for track, notes := range jmon.ExpandSong(song, bpm, report) {
		events = append(events, lo.Map(notes, func(n jmon.NoteEvent, _ int) Event {
			return Event{Kind: NoteEvent, Time: n.Start, Track: track, Index: n.Index, Ordinal: n.Repeat, Note: n}
		})...)
	}
	for track := range song.Sequences {
		for ci := range song.Sequences[track].Automation {
			ch := &song.Sequences[track].Automation[ci]
			for k, p := range ch.Events(bpm, 0, total, resolution) {
				events = append(events, Event{
					Kind:    ParamEvent,
					Time:    p.Time,
					Track:   track,
					Index:   ci,
					Ordinal: k,
					Value:   p.Value,
					Target:  ch.Target,
					Param:   ch.Param(),
				})
			}
		}
	}
	slices.SortStableFunc(events, compareEvents)
	return events, total
}

func compareEvents(a, b Event) int {
	if c := cmp.Compare(a.Time, b.Time); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Track, b.Track); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Index, b.Index); c != 0 {
		return c
	}
	return cmp.Compare(a.Ordinal, b.Ordinal)
}

// window returns the events with from <= Time < to, in order. to < 0 means no
// upper bound.
func window(events []Event, from, to float64) []Event {
	return lo.Filter(events, func(e Event, _ int) bool {
		return e.Time >= from && (to < 0 || e.Time < to)
	})
}
