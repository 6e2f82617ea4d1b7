package jmon_test

import (
	"errors"
	"reflect"
	"testing"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

func mustTime(t *testing.T, token string) jmon.Time {
	t.Helper()
	v, err := jmon.ParseTime(token)
	if err != nil {
		t.Fatalf("ParseTime(%q) error: %v", token, err)
	}
	return v
}

func quarterNotes(t *testing.T, keys ...int) []jmon.Note {
	notes := make([]jmon.Note, len(keys))
	for i, k := range keys {
		notes[i] = jmon.Note{
			Pitch:    jmon.Single(k),
			Time:     jmon.BeatsTime(float64(i)),
			Duration: mustTime(t, "4n"),
		}
	}
	return notes
}

func loopingSong(t *testing.T) jmon.Song {
	return jmon.Song{
		Tempo: 120,
		Sequences: []jmon.Sequence{
			{Label: "riff", Notes: quarterNotes(t, 60, 62, 64, 65), Loop: jmon.LoopEvery(mustTime(t, "1m"))},
			{Label: "pad", Notes: []jmon.Note{{Pitch: jmon.Chord(48, 55), Duration: mustTime(t, "3m")}}},
		},
	}
}

func TestExpandLoopFillsComposition(t *testing.T) {
	song := loopingSong(t)
	total := jmon.CompositionDuration(&song, 120)
	if total != 6 {
		t.Fatalf("CompositionDuration = %v, want 6", total)
	}
	events := jmon.ExpandSequence(0, &song.Sequences[0], total, 120, nil)
	if len(events) != 12 {
		t.Fatalf("got %d notes, want 12", len(events))
	}
	looped := 0
	for i, e := range events {
		if e.Start >= total {
			t.Errorf("note %d starts at %v, past the end %v", i, e.Start, total)
		}
		if i > 0 && e.Start < events[i-1].Start {
			t.Errorf("notes not in start order at %d", i)
		}
		if e.Looped {
			looped++
		}
		if want := float64(i) * 0.5; e.Start != want {
			t.Errorf("note %d starts at %v, want %v", i, e.Start, want)
		}
	}
	if looped != 8 {
		t.Errorf("%d loop generated notes, want 8", looped)
	}
	if events[11].Repeat != 2 || events[11].Index != 3 {
		t.Errorf("last note is repeat %d of note %d, want repeat 2 of note 3", events[11].Repeat, events[11].Index)
	}
}

func TestExpandIsIdempotent(t *testing.T) {
	song := loopingSong(t)
	first := jmon.ExpandSong(&song, 120, nil)
	second := jmon.ExpandSong(&song, 120, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expansion is not deterministic")
	}
	if len(song.Sequences[0].Notes) != 4 {
		t.Fatalf("expansion modified the document")
	}
}

func TestLoopWithoutLength(t *testing.T) {
	song := loopingSong(t)
	song.Sequences[0].Loop = jmon.LoopForever()
	song.Sequences[0].Notes = song.Sequences[0].Notes[:2] // ends at 1 s
	events := jmon.ExpandSequence(0, &song.Sequences[0], 6, 120, nil)
	if len(events) != 12 {
		t.Fatalf("got %d notes, want 12", len(events))
	}
}

func TestNonLoopingIsNotRepeated(t *testing.T) {
	song := loopingSong(t)
	song.Sequences[0].Loop = jmon.Loop{}
	if n := len(jmon.ExpandSequence(0, &song.Sequences[0], 6, 120, nil)); n != 4 {
		t.Fatalf("got %d notes, want 4", n)
	}
}

func TestMalformedNotesUseDefaults(t *testing.T) {
	bad, _ := jmon.ParseTime("soon")
	seq := jmon.Sequence{Notes: []jmon.Note{{Pitch: jmon.Single(60), Time: bad, Duration: bad}}}
	var reported []error
	events := jmon.ExpandSequence(3, &seq, 1, 120, func(err error) { reported = append(reported, err) })
	if len(events) != 1 {
		t.Fatalf("got %d notes, want 1", len(events))
	}
	if events[0].Start != jmon.DefaultPosition || events[0].Duration != jmon.DefaultDuration {
		t.Errorf("got start %v duration %v, want the defaults", events[0].Start, events[0].Duration)
	}
	if len(reported) != 2 {
		t.Fatalf("got %d reports, want 2", len(reported))
	}
	var ne *jmon.NoteError
	if !errors.As(reported[0], &ne) || ne.Track != 3 || ne.Index != 0 {
		t.Errorf("report %v does not point at track 3, note 0", reported[0])
	}
}

func TestZeroLoopLength(t *testing.T) {
	seq := jmon.Sequence{Notes: []jmon.Note{{Pitch: jmon.Single(60)}}, Loop: jmon.LoopEvery(jmon.SecondsTime(0))}
	var reported []error
	events := jmon.ExpandSequence(0, &seq, 4, 120, func(err error) { reported = append(reported, err) })
	if len(events) != 1 {
		t.Errorf("got %d notes, want the note played once", len(events))
	}
	if len(reported) != 1 || !errors.Is(reported[0], jmon.ErrZeroLoopLength) {
		t.Errorf("got reports %v, want %v", reported, jmon.ErrZeroLoopLength)
	}
}
