package jmon

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

type (
	// Voicing is the voice capacity of an instrument.
	Voicing int

	// PolyphonyKind classifies a PolyphonyWarning.
	PolyphonyKind int

	// PolyphonyWarning is an advisory finding about notes that a monophonic
	// instrument cannot render as written. It never changes playback.
	PolyphonyWarning struct {
		TrackID        string
		InstrumentType string
		Kind           PolyphonyKind
		Notes          []NoteEvent
		Time           float64 // seconds, start of the first note involved
		Details        string
	}
)

const (
	Monophonic Voicing = iota
	Polyphonic
)

const (
	// Overlapping notes start at different times; the later note cuts the
	// earlier one short.
	Overlapping PolyphonyKind = iota
	// Simultaneous notes start together; only the last one is heard.
	Simultaneous
)

// DefaultSimultaneousTolerance is how close, in seconds, two note starts must
// be to count as simultaneous.
const DefaultSimultaneousTolerance = 0.001

// VoicingOf returns the voice capacity of an instrument kind. Unknown kinds
// are built as the default synth and are therefore monophonic.
func VoicingOf(instrumentType string) Voicing {
	if k, ok := LookupKind(instrumentType); ok && k.Role == RoleInstrument {
		return k.Voicing
	}
	return Monophonic
}

// AnalyzePolyphony reports the notes a monophonic instrument cannot play as
// written: one Simultaneous warning per group of notes starting within
// tolerance of each other (a chord alone is such a group), and one Overlapping
// warning per pair of notes that overlap but start at different times.
// Polyphonic instruments never produce warnings. The notes are not modified.
func AnalyzePolyphony(trackID, instrumentType string, voicing Voicing, notes []NoteEvent, tolerance float64) []PolyphonyWarning {
	if voicing == Polyphonic || len(notes) == 0 {
		return nil
	}
	if tolerance < 0 {
		tolerance = DefaultSimultaneousTolerance
	}
	sorted := slices.Clone(notes)
	slices.SortStableFunc(sorted, func(a, b NoteEvent) int { return cmp.Compare(a.Start, b.Start) })
	var ret []PolyphonyWarning
	warn := func(kind PolyphonyKind, group []NoteEvent, details string) {
		ret = append(ret, PolyphonyWarning{
			TrackID:        trackID,
			InstrumentType: instrumentType,
			Kind:           kind,
			Notes:          slices.Clone(group),
			Time:           group[0].Start,
			Details:        details,
		})
	}
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Start-sorted[i].Start <= tolerance {
			j++
		}
		group := sorted[i:j]
		if len(group) > 1 || len(group[0].Pitch.Keys()) > 1 {
			warn(Simultaneous, group, fmt.Sprintf("%s start together at %.3fs; a monophonic %s only plays the last one", describeNotes(group), group[0].Start, instrumentType))
		}
		i = j
	}
	for i := range sorted {
		end := sorted[i].Start + sorted[i].Duration
		for j := i + 1; j < len(sorted) && sorted[j].Start < end-tolerance; j++ {
			if sorted[j].Start-sorted[i].Start <= tolerance {
				continue
			}
			pair := []NoteEvent{sorted[i], sorted[j]}
			warn(Overlapping, pair, fmt.Sprintf("%s overlap from %.3fs to %.3fs; the later note truncates the earlier one", describeNotes(pair), sorted[j].Start, end))
		}
	}
	return ret
}

func describeNotes(notes []NoteEvent) string {
	parts := make([]string, len(notes))
	for i, n := range notes {
		parts[i] = fmt.Sprintf("note %d (%s)", n.Index, n.Pitch)
		if n.Looped {
			parts[i] = fmt.Sprintf("note %d (%s, repeat %d)", n.Index, n.Pitch, n.Repeat)
		}
	}
	if len(parts) == 1 {
		return "chord " + parts[0]
	}
	return strings.Join(parts, " and ")
}

func (w PolyphonyWarning) String() string {
	return fmt.Sprintf("%s: %s %s: %s", w.TrackID, w.InstrumentType, w.Kind, w.Details)
}

func (k PolyphonyKind) String() string {
	switch k {
	case Overlapping:
		return "overlapping"
	case Simultaneous:
		return "simultaneous"
	}
	return "unknown"
}

func (v Voicing) String() string {
	if v == Polyphonic {
		return "polyphonic"
	}
	return "monophonic"
}
