package jmon

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Musical time uses a fixed resolution: four beats in a bar and 480 ticks in a
// beat, regardless of the time signature of the song.
const (
	BeatsPerBar  = 4
	TicksPerBeat = 480
)

// Defaults substituted for malformed time tokens. Scheduling never aborts over
// a single malformed entry; the anomaly is returned as a *ParseError instead.
const (
	DefaultDuration = 0.5 // seconds
	DefaultPosition = 0.0 // seconds
	DefaultTempo    = 120.0
)

// tickEpsilon snaps float noise away when splitting seconds into bars, beats
// and ticks, so that exact musical positions do not end up as 479.99999 ticks.
const tickEpsilon = 1e-6

type (
	// MusicalTime is a position expressed as bars:beats:ticks. Ticks can be
	// fractional.
	MusicalTime struct {
		Bars  int
		Beats int
		Ticks float64
	}

	// TimeUnit tells if a Time is fixed wall-clock seconds or tempo relative
	// beats.
	TimeUnit int

	// Time is a parsed time token. Plain numbers are seconds and stay fixed when
	// the tempo changes; bars:beats:ticks strings and duration symbols are
	// stored in beats and scale with the tempo. A Time decoded from a document
	// never fails to decode: a malformed token keeps its error, available
	// through Err, and converts to the documented default.
	Time struct {
		Value float64
		Unit  TimeUnit
		token string
		err   error
	}

	// ParseError reports a time token that could not be parsed.
	ParseError struct {
		Token  string
		Reason string
	}
)

const (
	Seconds TimeUnit = iota
	Beats
)

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse time token %q: %s", e.Token, e.Reason)
}

// SecondsTime returns a Time of fixed seconds.
func SecondsTime(s float64) Time { return Time{Value: s, Unit: Seconds} }

// BeatsTime returns a tempo relative Time, in beats.
func BeatsTime(b float64) Time { return Time{Value: b, Unit: Beats} }

// SecondsPerBeat returns the length of one beat at the given tempo. Non-positive
// tempos fall back to DefaultTempo.
func SecondsPerBeat(bpm float64) float64 {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		bpm = DefaultTempo
	}
	return 60 / bpm
}

// SecondsPerMeasure returns the length of one bar at the given tempo.
func SecondsPerMeasure(bpm float64) float64 {
	return BeatsPerBar * SecondsPerBeat(bpm)
}

// SecondsFromMusicalTime converts bars:beats:ticks to seconds.
func SecondsFromMusicalTime(bars, beats int, ticks float64, bpm float64) float64 {
	totalBeats := float64(bars*BeatsPerBar+beats) + ticks/TicksPerBeat
	return totalBeats * SecondsPerBeat(bpm)
}

// MusicalTimeFromSeconds converts seconds to bars:beats:ticks. Negative
// seconds are treated as zero.
func MusicalTimeFromSeconds(seconds, bpm float64) MusicalTime {
	if seconds <= 0 || math.IsNaN(seconds) {
		return MusicalTime{}
	}
	ticks := seconds / SecondsPerBeat(bpm) * TicksPerBeat
	ticks = math.Round(ticks/tickEpsilon) * tickEpsilon
	ticksPerBar := float64(BeatsPerBar * TicksPerBeat)
	bars := math.Floor(ticks / ticksPerBar)
	ticks -= bars * ticksPerBar
	beats := math.Floor(ticks / TicksPerBeat)
	ticks -= beats * TicksPerBeat
	return MusicalTime{Bars: int(bars), Beats: int(beats), Ticks: ticks}
}

// Seconds converts the musical time back to seconds.
func (m MusicalTime) Seconds(bpm float64) float64 {
	return SecondsFromMusicalTime(m.Bars, m.Beats, m.Ticks, bpm)
}

func (m MusicalTime) String() string {
	return fmt.Sprintf("%d:%d:%s", m.Bars, m.Beats, strconv.FormatFloat(m.Ticks, 'f', -1, 64))
}

// SecondsFromDuration converts a duration token to seconds. The token can be
// numeric seconds, bars:beats:ticks, or a duration symbol such as "4n", "8n.",
// "8t" or "1m". Unparseable or non-positive durations return DefaultDuration
// together with a *ParseError.
func SecondsFromDuration(token string, bpm float64) (float64, error) {
	t, err := ParseTime(token)
	if err != nil {
		return DefaultDuration, err
	}
	return t.DurationSeconds(bpm)
}

// SecondsFromPosition converts a position token to seconds, with the same
// grammar as SecondsFromDuration. Failures return DefaultPosition together with
// a *ParseError.
func SecondsFromPosition(token string, bpm float64) (float64, error) {
	t, err := ParseTime(token)
	if err != nil {
		return DefaultPosition, err
	}
	return t.PositionSeconds(bpm)
}

// ParseTime parses a time token into a tempo independent Time.
func ParseTime(token string) (Time, error) {
	t := parseTime(token)
	return t, t.err
}

func parseTime(token string) Time {
	s := strings.TrimSpace(token)
	fail := func(reason string) Time {
		return Time{token: token, err: &ParseError{Token: token, Reason: reason}}
	}
	if s == "" {
		return fail("empty token")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fail("seconds must be a finite non-negative number")
		}
		return Time{Value: v, Unit: Seconds, token: token}
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) > 3 {
			return fail("too many fields in bars:beats:ticks")
		}
		var fields [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
				return fail("bars:beats:ticks fields must be non-negative numbers")
			}
			fields[i] = v
		}
		beats := fields[0]*BeatsPerBar + fields[1] + fields[2]/TicksPerBeat
		return Time{Value: beats, Unit: Beats, token: token}
	}
	last := s[len(s)-1]
	dotted := false
	if last == '.' && len(s) > 2 && s[len(s)-2] == 'n' {
		dotted = true
		s = s[:len(s)-1]
		last = 'n'
	}
	num, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || num <= 0 || math.IsInf(num, 0) {
		return fail("unknown duration symbol")
	}
	var beats float64
	switch last {
	case 'm':
		beats = num * BeatsPerBar
	case 'n', 't':
		if !isNoteDivision(num) {
			return fail("note division must be one of 1, 2, 4, 8, 16, 32, 64")
		}
		beats = BeatsPerBar / num
		if dotted {
			beats *= 1.5
		}
		if last == 't' {
			beats *= 2.0 / 3.0
		}
	case 'i':
		beats = num / TicksPerBeat
	default:
		return fail("unknown duration symbol")
	}
	return Time{Value: beats, Unit: Beats, token: token}
}

func isNoteDivision(n float64) bool {
	switch n {
	case 1, 2, 4, 8, 16, 32, 64:
		return true
	}
	return false
}

// Err returns the parse error of a malformed token, or nil.
func (t Time) Err() error { return t.err }

// Token returns the original token the Time was parsed from, if any.
func (t Time) Token() string { return t.token }

// Seconds converts the time to seconds at the given tempo, ignoring parse
// errors (a malformed Time is zero).
func (t Time) Seconds(bpm float64) float64 {
	if t.Unit == Beats {
		return t.Value * SecondsPerBeat(bpm)
	}
	return t.Value
}

// InBeats converts the time to beats at the given tempo.
func (t Time) InBeats(bpm float64) float64 {
	if t.Unit == Beats {
		return t.Value
	}
	return t.Value / SecondsPerBeat(bpm)
}

// DurationSeconds converts the time to a duration in seconds. Malformed or
// non-positive durations return DefaultDuration together with the error.
func (t Time) DurationSeconds(bpm float64) (float64, error) {
	if t.err != nil {
		return DefaultDuration, t.err
	}
	if t.token == "" && t.Value == 0 {
		return DefaultDuration, nil // unset
	}
	s := t.Seconds(bpm)
	if s <= 0 {
		return DefaultDuration, &ParseError{Token: t.String(), Reason: "duration must be positive"}
	}
	return s, nil
}

// PositionSeconds converts the time to a position in seconds. Malformed times
// return DefaultPosition together with the error.
func (t Time) PositionSeconds(bpm float64) (float64, error) {
	if t.err != nil {
		return DefaultPosition, t.err
	}
	return t.Seconds(bpm), nil
}

func (t Time) String() string {
	if t.token != "" {
		return t.token
	}
	if t.Unit == Beats {
		return MusicalTimeFromSeconds(t.Value, 60).String()
	}
	return strconv.FormatFloat(t.Value, 'f', -1, 64)
}

// PixelsFromSeconds maps a time to a horizontal timeline position.
func PixelsFromSeconds(seconds, bpm, pixelsPerBeat float64) float64 {
	return seconds / SecondsPerBeat(bpm) * pixelsPerBeat
}

// SecondsFromPixels is the inverse of PixelsFromSeconds.
func SecondsFromPixels(pixels, bpm, pixelsPerBeat float64) float64 {
	if pixelsPerBeat == 0 {
		return 0
	}
	return pixels / pixelsPerBeat * SecondsPerBeat(bpm)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		*t = Time{token: string(b), err: &ParseError{Token: string(b), Reason: err.Error()}}
		return nil
	}
	*t = timeFromValue(v)
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.token == "" && t.Unit == Seconds {
		return json.Marshal(t.Value)
	}
	return json.Marshal(t.String())
}

func (t *Time) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		*t = Time{token: value.Value, err: &ParseError{Token: value.Value, Reason: err.Error()}}
		return nil
	}
	*t = timeFromValue(v)
	return nil
}

func (t Time) MarshalYAML() (any, error) {
	if t.token == "" && t.Unit == Seconds {
		return t.Value, nil
	}
	return t.String(), nil
}

func timeFromValue(v any) Time {
	switch x := v.(type) {
	case nil:
		return Time{}
	case float64:
		return parseTime(strconv.FormatFloat(x, 'f', -1, 64))
	case int:
		return parseTime(strconv.Itoa(x))
	case string:
		return parseTime(x)
	}
	token := fmt.Sprint(v)
	return Time{token: token, err: &ParseError{Token: token, Reason: "time must be a number or a string"}}
}
