package jmon_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

const jsonSong = `{
  "tempo": 96,
  "timeSignature": [3, 4],
  "sequences": [{
    "label": "bass",
    "synth": {"type": "MonoSynth", "options": {"envelope": {"attack": 0.02}, "oscillator": {"type": "square"}}},
    "loop": "2m",
    "notes": [
      {"note": "E2", "time": "0:0:0", "duration": "8n", "velocity": 0.9},
      {"note": 43, "time": 0.75, "duration": "8n."},
      {"note": ["E3", "G3"], "time": "0:2:240"}
    ],
    "effects": [{"type": "FeedbackDelay", "options": {"delayTime": 0.25}}],
    "automation": [{"id": "detune", "range": [-100, 100], "points": [{"time": 0, "value": 0}, {"time": 8, "value": 50}]}]
  }],
  "audioGraph": [{"id": "verb", "type": "Gain"}],
  "connections": [["verb", "destination"]]
}`

const yamlSong = `
tempo: 96
timeSignature: 3/4
sequences:
  - label: bass
    synth:
      type: MonoSynth
      options:
        envelope: {attack: 0.02}
        oscillator: {type: square}
    loop: 2m
    notes:
      - {note: E2, time: "0:0:0", duration: 8n, velocity: 0.9}
      - {note: 43, time: 0.75, duration: 8n.}
      - {note: [E3, G3], time: "0:2:240"}
    effects:
      - {type: FeedbackDelay, options: {delayTime: 0.25}}
    automation:
      - id: detune
        range: [-100, 100]
        points: [{time: 0, value: 0}, {time: 8, value: 50}]
audioGraph:
  - {id: verb, type: Gain}
connections: [[verb, destination]]
`

func TestReadSong(t *testing.T) {
	for name, doc := range map[string]string{"json": jsonSong, "yaml": yamlSong} {
		song, err := jmon.ReadSong(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("%s: ReadSong error: %v", name, err)
		}
		if err := song.Validate(); err != nil {
			t.Fatalf("%s: Validate error: %v", name, err)
		}
		if song.Tempo != 96 || song.TimeSignature.String() != "3/4" {
			t.Errorf("%s: tempo %v signature %v", name, song.Tempo, song.TimeSignature)
		}
		seq := song.Sequences[0]
		if seq.ID(0) != "bass" || seq.Synth.Type != "MonoSynth" {
			t.Errorf("%s: sequence %q of type %q", name, seq.ID(0), seq.Synth.Type)
		}
		if l, ok, err := seq.LoopLength(96); !ok || err != nil || l != 5 {
			t.Errorf("%s: LoopLength = %v, %v, %v; want 5 s", name, l, ok, err)
		}
		keys := [][]int{{40}, {43}, {52, 55}}
		starts := []float64{0, 0.75, 1.5625}
		for i, n := range seq.Notes {
			if !reflect.DeepEqual(n.Pitch.Keys(), keys[i]) {
				t.Errorf("%s: note %d keys %v, want %v", name, i, n.Pitch.Keys(), keys[i])
			}
			if s, err := n.Start(96); err != nil || s != starts[i] {
				t.Errorf("%s: note %d starts at %v (%v), want %v", name, i, s, err, starts[i])
			}
		}
		if !seq.Notes[2].Pitch.IsChord() {
			t.Errorf("%s: note 2 is not a chord", name)
		}
		if d, _ := seq.Notes[2].Length(96); d != jmon.DefaultDuration {
			t.Errorf("%s: unset duration = %v, want %v", name, d, jmon.DefaultDuration)
		}
		if v := seq.Notes[1].Loudness(); v != jmon.DefaultVelocity {
			t.Errorf("%s: unset velocity = %v, want %v", name, v, jmon.DefaultVelocity)
		}
		flat := seq.Synth.Options.Flatten()
		if flat["envelope.attack"] != 0.02 || flat["oscillator.type"] != "square" {
			t.Errorf("%s: flattened options %v", name, flat)
		}
		if c := song.Connections[0]; c.Source() != "verb" || c.Target() != "destination" {
			t.Errorf("%s: connection %v", name, c)
		}
	}
}

func TestReadSongDefaults(t *testing.T) {
	song, err := jmon.ReadSong(strings.NewReader(`{"sequences": [{"notes": [{"note": "C4"}]}]}`))
	if err != nil {
		t.Fatalf("ReadSong error: %v", err)
	}
	if song.Tempo != jmon.DefaultTempo {
		t.Errorf("tempo = %v, want %v", song.Tempo, jmon.DefaultTempo)
	}
	if song.Sequences[0].ID(0) != "track-0" {
		t.Errorf("unlabeled track id = %q", song.Sequences[0].ID(0))
	}
	if _, err := jmon.ReadSong(strings.NewReader("{not: [valid")); err == nil {
		t.Errorf("ReadSong accepted garbage")
	}
}

func TestExplicitVelocity(t *testing.T) {
	tests := []struct {
		doc  string
		want float64
	}{
		{`{"sequences": [{"notes": [{"note": "C4", "velocity": 0}]}]}`, 0},
		{"sequences:\n  - notes:\n      - {note: C4, velocity: 0}\n", 0},
		{`{"sequences": [{"notes": [{"note": "C4", "velocity": 1.5}]}]}`, 1},
		{`{"sequences": [{"notes": [{"note": "C4", "velocity": -0.5}]}]}`, 0},
		{`{"sequences": [{"notes": [{"note": "C4"}]}]}`, jmon.DefaultVelocity},
	}
	for _, tt := range tests {
		song, err := jmon.ReadSong(strings.NewReader(tt.doc))
		if err != nil {
			t.Fatalf("ReadSong(%q) error: %v", tt.doc, err)
		}
		if v := song.Sequences[0].Notes[0].Loudness(); v != tt.want {
			t.Errorf("ReadSong(%q): loudness %v, want %v", tt.doc, v, tt.want)
		}
	}
}

func TestMalformedPitch(t *testing.T) {
	song, err := jmon.ReadSong(strings.NewReader(`{"sequences": [{"notes": [{"note": "H9"}, {}]}]}`))
	if err != nil {
		t.Fatalf("ReadSong error: %v", err)
	}
	notes := song.Sequences[0].Notes
	if notes[0].PitchErr() == nil {
		t.Errorf("note H9 has no pitch error")
	}
	if err := notes[1].PitchErr(); !errors.Is(err, jmon.ErrNoPitch) {
		t.Errorf("note without pitch: %v, want %v", err, jmon.ErrNoPitch)
	}
}

func TestValidateSong(t *testing.T) {
	song := jmon.Song{Tempo: -1}
	err := song.Validate()
	if !errors.Is(err, jmon.ErrInvalidTempo) || !errors.Is(err, jmon.ErrNoTracks) {
		t.Fatalf("Validate = %v, want both %v and %v", err, jmon.ErrInvalidTempo, jmon.ErrNoTracks)
	}
}

func TestCopyIsDeep(t *testing.T) {
	song, err := jmon.ReadSong(strings.NewReader(jsonSong))
	if err != nil {
		t.Fatalf("ReadSong error: %v", err)
	}
	c := song.Copy()
	*c.Sequences[0].Notes[0].Velocity = 0.1
	c.Sequences[0].Automation[0].Points[0].Value = 99
	c.Sequences[0].Synth.Options["envelope"].(map[string]any)["attack"] = 1.0
	c.Connections[0][0] = "other"
	if v := song.Sequences[0].Notes[0].Loudness(); v != 0.9 {
		t.Errorf("copy shares notes")
	}
	if song.Sequences[0].Automation[0].Points[0].Value != 0 {
		t.Errorf("copy shares automation points")
	}
	if song.Sequences[0].Synth.Options.Flatten()["envelope.attack"] != 0.02 {
		t.Errorf("copy shares nested options")
	}
	if song.Connections[0][0] != "verb" {
		t.Errorf("copy shares connections")
	}
}
