package jmon

import (
	"errors"
	"math"
)

// Note is one note of a sequence. Time is the start position, Duration the
// length; both accept seconds, bars:beats:ticks and duration symbols. Velocity
// is the normalized loudness 0..1; nil means DefaultVelocity, while an
// explicit zero is silent.
type Note struct {
	Pitch    Pitch    `json:"note" yaml:"note"`
	Time     Time     `json:"time" yaml:"time"`
	Duration Time     `json:"duration" yaml:"duration"`
	Velocity *float64 `json:"velocity,omitempty" yaml:"velocity,omitempty"`
}

var ErrNoPitch = errors.New("note has no pitch")

// Copy makes a deep copy of a Note.
func (n *Note) Copy() Note {
	ret := Note{Pitch: n.Pitch.Copy(), Time: n.Time, Duration: n.Duration}
	if n.Velocity != nil {
		v := *n.Velocity
		ret.Velocity = &v
	}
	return ret
}

// Loudness returns the velocity clamped to 0..1, or DefaultVelocity if unset.
func (n *Note) Loudness() float64 {
	if n.Velocity == nil || math.IsNaN(*n.Velocity) {
		return DefaultVelocity
	}
	return min(max(*n.Velocity, 0), 1)
}

// PitchErr returns why the pitch of the note cannot be played, or nil.
func (n *Note) PitchErr() error {
	if err := n.Pitch.Err(); err != nil {
		return err
	}
	if len(n.Pitch.Keys()) == 0 {
		return ErrNoPitch
	}
	return nil
}

// Start returns the start of the note in seconds. Malformed start times fall
// back to DefaultPosition and return the error.
func (n *Note) Start(bpm float64) (float64, error) {
	return n.Time.PositionSeconds(bpm)
}

// Length returns the duration of the note in seconds. Malformed durations fall
// back to DefaultDuration and return the error.
func (n *Note) Length(bpm float64) (float64, error) {
	return n.Duration.DurationSeconds(bpm)
}

// End returns the end of the note in seconds, using the defaults for malformed
// tokens.
func (n *Note) End(bpm float64) float64 {
	s, _ := n.Start(bpm)
	d, _ := n.Length(bpm)
	return s + d
}
