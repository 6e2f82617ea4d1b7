//go:build cgo

package cmd

import (
	"github.com/jmonlabs/jmon-daw-sub001/gomidi"
	"github.com/jmonlabs/jmon-daw-sub001/graph"
)

// NewMIDIOut opens the first MIDI output whose name starts with namePrefix,
// or the first output at all for an empty prefix.
func NewMIDIOut(namePrefix string) (graph.MIDIOut, func(), error) {
	c := gomidi.NewContext()
	if err := c.TryToOpenBy(namePrefix, namePrefix == ""); err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, c.Close, nil
}
