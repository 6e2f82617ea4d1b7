//go:build !cgo

package cmd

import (
	"errors"

	"github.com/jmonlabs/jmon-daw-sub001/graph"
)

func NewMIDIOut(namePrefix string) (graph.MIDIOut, func(), error) {
	// with no cgo there is no rtmidi driver
	return nil, nil, errors.New("MIDI output is not available in builds without cgo")
}
