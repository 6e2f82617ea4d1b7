package jmon

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"gopkg.in/yaml.v3"
)

type (
	// Loop tells if and how a sequence repeats. A disabled Loop plays the notes
	// once. An enabled Loop with a nil Length derives the loop length from the
	// end of the last note; otherwise Length is the explicit loop length.
	Loop struct {
		Enabled bool
		Length  *Time
	}

	// NoteEvent is a note instance at an absolute time, in seconds, produced by
	// loop expansion. Track and Index point back to the note in the document;
	// Repeat is 0 for the original note and k for the k-th loop copy.
	NoteEvent struct {
		Track    int
		Index    int
		Repeat   int
		Pitch    Pitch
		Start    float64
		Duration float64
		Velocity float64
		Looped   bool
	}

	// NoteError reports a problem with one note of the document, for example a
	// malformed duration token. The note is still played using defaults.
	NoteError struct {
		Track int
		Index int
		Field string
		Err   error
	}
)

var ErrZeroLoopLength = errors.New("loop length must be positive")

// endEpsilon absorbs float noise when comparing loop copies against the total
// duration of the song.
const endEpsilon = 1e-9

func (e *NoteError) Error() string {
	return fmt.Sprintf("track %d, note %d, %s: %v", e.Track, e.Index, e.Field, e.Err)
}

func (e *NoteError) Unwrap() error { return e.Err }

// LoopForever returns a Loop that derives its length from the last note.
func LoopForever() Loop { return Loop{Enabled: true} }

// LoopEvery returns a Loop with an explicit length.
func LoopEvery(length Time) Loop { return Loop{Enabled: true, Length: &length} }

// LoopLength returns the length of the loop of the sequence in seconds, and
// false if the sequence does not loop. A zero or malformed loop length is an
// error, and the sequence is then treated as not looping.
func (s *Sequence) LoopLength(bpm float64) (float64, bool, error) {
	if !s.Loop.Enabled {
		return 0, false, nil
	}
	var length float64
	if s.Loop.Length != nil {
		if err := s.Loop.Length.Err(); err != nil {
			return 0, false, err
		}
		length = s.Loop.Length.Seconds(bpm)
	} else {
		length = s.notesEnd(bpm)
	}
	if length <= 0 || math.IsNaN(length) {
		return 0, false, ErrZeroLoopLength
	}
	return length, true, nil
}

func (s *Sequence) notesEnd(bpm float64) float64 {
	end := 0.0
	for i := range s.Notes {
		end = max(end, s.Notes[i].End(bpm))
	}
	return end
}

// Length returns the natural length of the sequence in seconds: the end of the
// last note, or the loop length if it is longer.
func (s *Sequence) Length(bpm float64) float64 {
	end := s.notesEnd(bpm)
	if l, ok, _ := s.LoopLength(bpm); ok {
		end = max(end, l)
	}
	return end
}

// CompositionDuration returns the total duration of the song in seconds: the
// longest natural length of all its sequences. Looping sequences are expanded
// to fill this duration.
func CompositionDuration(song *Song, bpm float64) float64 {
	total := 0.0
	for i := range song.Sequences {
		total = max(total, song.Sequences[i].Length(bpm))
	}
	return total
}

// ExpandSequence converts the notes of a sequence to absolute times and, if the
// sequence loops, repeats them to fill totalDuration. Problems with individual
// notes and loops are passed to report (which can be nil); expansion always
// completes. The result is sorted by start time, then by repeat and note index,
// and depends only on its arguments.
func ExpandSequence(track int, seq *Sequence, totalDuration, bpm float64, report func(error)) []NoteEvent {
	if report == nil {
		report = func(error) {}
	}
	base := make([]NoteEvent, 0, len(seq.Notes))
	for i := range seq.Notes {
		n := &seq.Notes[i]
		start, err := n.Start(bpm)
		if err != nil {
			report(&NoteError{Track: track, Index: i, Field: "time", Err: err})
		}
		duration, err := n.Length(bpm)
		if err != nil {
			report(&NoteError{Track: track, Index: i, Field: "duration", Err: err})
		}
		base = append(base, NoteEvent{
			Track:    track,
			Index:    i,
			Pitch:    n.Pitch,
			Start:    start,
			Duration: duration,
			Velocity: n.Loudness(),
		})
	}
	ret := base
	loopLength, ok, err := seq.LoopLength(bpm)
	if err != nil {
		report(&NoteError{Track: track, Index: -1, Field: "loop", Err: err})
	}
	if ok {
		repeats := int(math.Ceil(totalDuration/loopLength - endEpsilon))
		for k := 1; k < repeats; k++ {
			offset := float64(k) * loopLength
			for _, e := range base {
				e.Start += offset
				if e.Start > totalDuration+endEpsilon {
					continue
				}
				e.Repeat = k
				e.Looped = true
				ret = append(ret, e)
			}
		}
	}
	slices.SortStableFunc(ret, func(a, b NoteEvent) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Repeat, b.Repeat); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return ret
}

// ExpandSong expands every sequence of the song against the composition
// duration, which is computed once. The outer slice is indexed by track.
func ExpandSong(song *Song, bpm float64, report func(error)) [][]NoteEvent {
	total := CompositionDuration(song, bpm)
	ret := make([][]NoteEvent, len(song.Sequences))
	for i := range song.Sequences {
		ret[i] = ExpandSequence(i, &song.Sequences[i], total, bpm, report)
	}
	return ret
}

func (l *Loop) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*l = loopFromValue(v)
	return nil
}

func (l Loop) MarshalJSON() ([]byte, error) {
	v, _ := l.MarshalYAML()
	return json.Marshal(v)
}

func (l *Loop) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	*l = loopFromValue(v)
	return nil
}

func (l Loop) MarshalYAML() (any, error) {
	switch {
	case !l.Enabled:
		return false, nil
	case l.Length == nil:
		return true, nil
	}
	return l.Length.MarshalYAML()
}

func loopFromValue(v any) Loop {
	switch x := v.(type) {
	case nil:
		return Loop{}
	case bool:
		return Loop{Enabled: x}
	}
	t := timeFromValue(v)
	return Loop{Enabled: true, Length: &t}
}
