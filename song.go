package jmon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Song is the declarative document the engine schedules: the tempo, a list
	// of sequences (tracks) with their notes, instruments, effects and
	// automation, plus an optional explicit audio graph. The engine treats a
	// Song as a read-only snapshot; edits produce a new Song.
	Song struct {
		Tempo         float64       `json:"tempo" yaml:"tempo"`
		TimeSignature TimeSignature `json:"timeSignature" yaml:"timeSignature"`
		Sequences     []Sequence    `json:"sequences" yaml:"sequences"`
		AudioGraph    []NodeSpec    `json:"audioGraph,omitempty" yaml:"audioGraph,omitempty"`
		Connections   []Connection  `json:"connections,omitempty" yaml:"connections,omitempty,flow"`
	}

	// TimeSignature is stored and exposed for the editor. Time conversions
	// always use BeatsPerBar.
	TimeSignature struct {
		Numerator   int
		Denominator int
	}

	// Sequence is one track: an ordered list of notes, the instrument that
	// plays them, the effect chain the instrument is routed through, and the
	// automation channels of the track. If SynthRef is set, the notes trigger
	// the named node of the audio graph instead of an own instrument and chain.
	Sequence struct {
		Label      string         `json:"label,omitempty" yaml:"label,omitempty"`
		Synth      InstrumentSpec `json:"synth" yaml:"synth"`
		SynthRef   string         `json:"synthRef,omitempty" yaml:"synthRef,omitempty"`
		Notes      []Note         `json:"notes" yaml:"notes"`
		Loop       Loop           `json:"loop" yaml:"loop,omitempty"`
		Effects    []NodeSpec     `json:"effects,omitempty" yaml:"effects,omitempty"`
		Automation []Channel      `json:"automation,omitempty" yaml:"automation,omitempty"`
	}

	// InstrumentSpec declares the instrument of a sequence: a node kind (e.g.
	// "Synth", "PolySynth", "Sampler") and its options.
	InstrumentSpec struct {
		Type    string  `json:"type" yaml:"type"`
		Options Options `json:"options,omitempty" yaml:"options,omitempty"`
	}

	// NodeSpec declares one node of the audio graph.
	NodeSpec struct {
		ID      string  `json:"id" yaml:"id"`
		Type    string  `json:"type" yaml:"type"`
		Options Options `json:"options,omitempty" yaml:"options,omitempty"`
	}

	// Options is a free-form map of node options. Nested maps address grouped
	// parameters, e.g. {"envelope": {"attack": 0.01}} is the parameter
	// "envelope.attack".
	Options map[string]any

	// Connection is a directed edge of the audio graph: [source, target].
	Connection [2]string
)

var (
	ErrInvalidTempo = errors.New("tempo must be positive")
	ErrNoTracks     = errors.New("song contains no sequences")
)

// DefaultVelocity is used for notes that have no velocity.
const DefaultVelocity = 0.8

// ReadSong decodes a song from JSON, or from YAML if the input is not JSON. A
// missing tempo defaults to DefaultTempo.
func ReadSong(r io.Reader) (Song, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Song{}, fmt.Errorf("could not read song: %w", err)
	}
	var song Song
	if errJSON := json.Unmarshal(b, &song); errJSON != nil {
		song = Song{}
		if errYaml := yaml.Unmarshal(b, &song); errYaml != nil {
			return Song{}, fmt.Errorf("the song could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	if song.Tempo == 0 {
		song.Tempo = DefaultTempo
	}
	if song.TimeSignature == (TimeSignature{}) {
		song.TimeSignature = TimeSignature{Numerator: 4, Denominator: 4}
	}
	return song, nil
}

// Validate returns the structural problems of the song: a non-positive tempo,
// no sequences, or automation channels that do not satisfy their invariants.
// Malformed time tokens are not structural; they are reported when scheduling.
func (s *Song) Validate() error {
	var errs []error
	if s.Tempo <= 0 {
		errs = append(errs, ErrInvalidTempo)
	}
	if len(s.Sequences) == 0 {
		errs = append(errs, ErrNoTracks)
	}
	for i, seq := range s.Sequences {
		for _, c := range seq.Automation {
			if err := c.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("track %s, automation %q: %w", seq.ID(i), c.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Copy makes a deep copy of a Song.
func (s *Song) Copy() Song {
	sequences := make([]Sequence, len(s.Sequences))
	for i, seq := range s.Sequences {
		sequences[i] = seq.Copy()
	}
	graph := make([]NodeSpec, len(s.AudioGraph))
	for i, n := range s.AudioGraph {
		graph[i] = n.Copy()
	}
	connections := make([]Connection, len(s.Connections))
	copy(connections, s.Connections)
	return Song{
		Tempo:         s.Tempo,
		TimeSignature: s.TimeSignature,
		Sequences:     sequences,
		AudioGraph:    graph,
		Connections:   connections,
	}
}

// ID returns the identifier of the track at the given index: its label, or
// "track-<index>" for unlabeled tracks.
func (s *Sequence) ID(index int) string {
	if s.Label != "" {
		return s.Label
	}
	return "track-" + strconv.Itoa(index)
}

// Copy makes a deep copy of a Sequence.
func (s *Sequence) Copy() Sequence {
	notes := make([]Note, len(s.Notes))
	for i, n := range s.Notes {
		notes[i] = n.Copy()
	}
	effects := make([]NodeSpec, len(s.Effects))
	for i, e := range s.Effects {
		effects[i] = e.Copy()
	}
	automation := make([]Channel, len(s.Automation))
	for i, c := range s.Automation {
		automation[i] = c.Copy()
	}
	return Sequence{
		Label:      s.Label,
		Synth:      InstrumentSpec{Type: s.Synth.Type, Options: s.Synth.Options.Copy()},
		SynthRef:   s.SynthRef,
		Notes:      notes,
		Loop:       s.Loop,
		Effects:    effects,
		Automation: automation,
	}
}

// Copy makes a deep copy of a NodeSpec.
func (n *NodeSpec) Copy() NodeSpec {
	return NodeSpec{ID: n.ID, Type: n.Type, Options: n.Options.Copy()}
}

// Copy makes a deep copy of the options, including nested maps and slices.
func (o Options) Copy() Options {
	if o == nil {
		return nil
	}
	ret := make(Options, len(o))
	for k, v := range o {
		ret[k] = copyOption(v)
	}
	return ret
}

func copyOption(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return map[string]any(Options(x).Copy())
	case Options:
		return x.Copy()
	case []any:
		ret := make([]any, len(x))
		for i, e := range x {
			ret[i] = copyOption(e)
		}
		return ret
	}
	return v
}

// Flatten returns the options with nested maps joined by dots, e.g.
// "envelope.attack".
func (o Options) Flatten() map[string]any {
	ret := map[string]any{}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			switch x := v.(type) {
			case map[string]any:
				walk(key, x)
			case Options:
				walk(key, x)
			default:
				ret[key] = v
			}
		}
	}
	walk("", o)
	return ret
}

func (c Connection) Source() string { return c[0] }
func (c Connection) Target() string { return c[1] }

func (t TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", t.Numerator, t.Denominator)
}

func (t *TimeSignature) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return t.fromValue(v)
}

func (t TimeSignature) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{t.Numerator, t.Denominator})
}

func (t *TimeSignature) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	return t.fromValue(v)
}

func (t TimeSignature) MarshalYAML() (any, error) {
	return t.String(), nil
}

func (t *TimeSignature) fromValue(v any) error {
	var num, den int
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if _, err := fmt.Sscanf(strings.ReplaceAll(x, " ", ""), "%d/%d", &num, &den); err != nil {
			return fmt.Errorf("invalid time signature %q", x)
		}
	case []any:
		if len(x) != 2 {
			return fmt.Errorf("time signature must have two numbers, got %d", len(x))
		}
		n, ok1 := toInt(x[0])
		d, ok2 := toInt(x[1])
		if !ok1 || !ok2 {
			return fmt.Errorf("invalid time signature %v", x)
		}
		num, den = n, d
	default:
		return fmt.Errorf("invalid time signature %v", v)
	}
	if num <= 0 || den <= 0 {
		return fmt.Errorf("invalid time signature %d/%d", num, den)
	}
	t.Numerator, t.Denominator = num, den
	return nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), x == float64(int(x))
	}
	return 0, false
}

// ToFloat converts a numeric option value to float64. Booleans convert to 0
// and 1.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
