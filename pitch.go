package jmon

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pitch is either a single key or a chord of keys, as MIDI note numbers. Note
// names and numbers are resolved into keys once, when the document is decoded,
// so that scheduling code never needs to check what shape the pitch had in the
// document.
type Pitch struct {
	keys  []int
	chord bool
	err   error
}

var errEmptyChord = errors.New("chord has no notes")

var noteOffsets = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

var noteNames = [...]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Single returns a Pitch of one key.
func Single(key int) Pitch { return Pitch{keys: []int{key}} }

// Chord returns a Pitch of several keys sounding together.
func Chord(keys ...int) Pitch {
	k := make([]int, len(keys))
	copy(k, keys)
	p := Pitch{keys: k, chord: true}
	if len(k) == 0 {
		p.err = errEmptyChord
	}
	return p
}

// Keys returns the MIDI note numbers of the pitch.
func (p Pitch) Keys() []int { return p.keys }

func (p Pitch) IsChord() bool { return p.chord }

// Err returns the error of a pitch that could not be resolved.
func (p Pitch) Err() error { return p.err }

func (p Pitch) Copy() Pitch {
	keys := make([]int, len(p.keys))
	copy(keys, p.keys)
	return Pitch{keys: keys, chord: p.chord, err: p.err}
}

func (p Pitch) String() string {
	names := make([]string, len(p.keys))
	for i, k := range p.keys {
		names[i] = NoteName(k)
	}
	if p.chord {
		return "[" + strings.Join(names, " ") + "]"
	}
	return strings.Join(names, "")
}

// NoteName formats a MIDI note number as a note name; 60 is "C4".
func NoteName(key int) string {
	octave := key/12 - 1
	n := key % 12
	if n < 0 {
		n += 12
		octave--
	}
	return fmt.Sprintf("%s%d", noteNames[n], octave)
}

// KeyFromName parses a note name like "C4", "F#3" or "Bb2" into a MIDI note
// number. Middle C, "C4", is 60.
func KeyFromName(name string) (int, error) {
	s := strings.TrimSpace(name)
	if len(s) < 2 {
		return 0, fmt.Errorf("note name %q too short", name)
	}
	offset, ok := noteOffsets[strings.ToUpper(s[:1])[0]]
	if !ok {
		return 0, fmt.Errorf("invalid note letter in %q", name)
	}
	i := 1
	for i < len(s) && (s[i] == '#' || s[i] == 'b') {
		if s[i] == '#' {
			offset++
		} else {
			offset--
		}
		i++
	}
	octave, err := strconv.Atoi(s[i:])
	if err != nil {
		return 0, fmt.Errorf("invalid octave in note name %q", name)
	}
	key := (octave+1)*12 + offset
	if key < 0 || key > 127 {
		return 0, fmt.Errorf("note %q out of MIDI range", name)
	}
	return key, nil
}

func keyFromValue(v any) (int, error) {
	switch x := v.(type) {
	case string:
		if n, err := strconv.ParseFloat(x, 64); err == nil {
			return keyFromValue(n)
		}
		return KeyFromName(x)
	case int:
		return keyFromValue(float64(x))
	case float64:
		if x != math.Trunc(x) || x < 0 || x > 127 {
			return 0, fmt.Errorf("MIDI note number %v out of range", x)
		}
		return int(x), nil
	}
	return 0, fmt.Errorf("unsupported pitch value %v", v)
}

func pitchFromValue(v any) Pitch {
	if arr, ok := v.([]any); ok {
		keys := make([]int, 0, len(arr))
		for _, e := range arr {
			k, err := keyFromValue(e)
			if err != nil {
				return Pitch{chord: true, err: err}
			}
			keys = append(keys, k)
		}
		return Chord(keys...)
	}
	k, err := keyFromValue(v)
	if err != nil {
		return Pitch{err: err}
	}
	return Single(k)
}

func (p *Pitch) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		p.err = err
		return nil
	}
	*p = pitchFromValue(v)
	return nil
}

func (p Pitch) MarshalJSON() ([]byte, error) {
	if p.chord {
		return json.Marshal(p.keys)
	}
	if len(p.keys) == 1 {
		return json.Marshal(p.keys[0])
	}
	return []byte("null"), nil
}

func (p *Pitch) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		p.err = err
		return nil
	}
	*p = pitchFromValue(v)
	return nil
}

func (p Pitch) MarshalYAML() (any, error) {
	if p.chord {
		return p.keys, nil
	}
	if len(p.keys) == 1 {
		return p.keys[0], nil
	}
	return nil, nil
}
