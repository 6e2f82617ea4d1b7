package jmon_test

import (
	"testing"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

func notesAt(starts ...float64) []jmon.NoteEvent {
	ret := make([]jmon.NoteEvent, len(starts))
	for i, s := range starts {
		ret[i] = jmon.NoteEvent{Index: i, Pitch: jmon.Single(60 + i), Start: s, Duration: 0.5}
	}
	return ret
}

func TestSimultaneousNotes(t *testing.T) {
	warnings := jmon.AnalyzePolyphony("lead", "Synth", jmon.Monophonic, notesAt(0, 0), jmon.DefaultSimultaneousTolerance)
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
	w := warnings[0]
	if w.Kind != jmon.Simultaneous || len(w.Notes) != 2 || w.TrackID != "lead" {
		t.Errorf("got %v, want one simultaneous group of both notes", w)
	}
}

func TestOverlappingNotes(t *testing.T) {
	tests := []struct {
		name   string
		notes  []jmon.NoteEvent
		kinds  []jmon.PolyphonyKind
		voices jmon.Voicing
	}{
		{"sequential", notesAt(0, 0.5, 1), nil, jmon.Monophonic},
		{"overlap", notesAt(0, 0.25), []jmon.PolyphonyKind{jmon.Overlapping}, jmon.Monophonic},
		{"within tolerance", notesAt(0, 0.0005), []jmon.PolyphonyKind{jmon.Simultaneous}, jmon.Monophonic},
		{"polyphonic", notesAt(0, 0, 0.25), nil, jmon.Polyphonic},
		{"chord", []jmon.NoteEvent{{Pitch: jmon.Chord(60, 64), Duration: 1}}, []jmon.PolyphonyKind{jmon.Simultaneous}, jmon.Monophonic},
	}
	for _, tt := range tests {
		warnings := jmon.AnalyzePolyphony("t", "Synth", tt.voices, tt.notes, jmon.DefaultSimultaneousTolerance)
		if len(warnings) != len(tt.kinds) {
			t.Errorf("%s: got %d warnings, want %d: %v", tt.name, len(warnings), len(tt.kinds), warnings)
			continue
		}
		for i, w := range warnings {
			if w.Kind != tt.kinds[i] {
				t.Errorf("%s: warning %d is %v, want %v", tt.name, i, w.Kind, tt.kinds[i])
			}
		}
	}
}

func TestAnalyzeDoesNotModify(t *testing.T) {
	notes := notesAt(1, 0)
	jmon.AnalyzePolyphony("t", "Synth", jmon.Monophonic, notes, jmon.DefaultSimultaneousTolerance)
	if notes[0].Start != 1 || notes[1].Start != 0 {
		t.Fatalf("analysis reordered the notes")
	}
}

func TestVoicingOf(t *testing.T) {
	for kind, want := range map[string]jmon.Voicing{
		"Synth":     jmon.Monophonic,
		"PolySynth": jmon.Polyphonic,
		"sampler":   jmon.Polyphonic,
		"Theremin":  jmon.Monophonic,
	} {
		if got := jmon.VoicingOf(kind); got != want {
			t.Errorf("VoicingOf(%q) = %v, want %v", kind, got, want)
		}
	}
}
