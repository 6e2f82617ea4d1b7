// Package gomidi connects the MIDI instrument of the audio graph to a
// hardware or virtual MIDI output through the rtmidi driver. It needs cgo.
package gomidi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	// RTMIDIContext owns the rtmidi driver and at most one open output
	// port. It implements graph.MIDIOut by sending to that port.
	RTMIDIContext struct {
		mu         sync.Mutex
		driver     *rtmididrv.Driver
		currentOut drivers.Out
	}

	RTMIDIDevice struct {
		context *RTMIDIContext
		out     drivers.Out
	}
)

var ErrNoDevice = errors.New("no MIDI output open")

// NewContext opens the driver. If that fails, the context has no devices and
// every Send fails.
func NewContext() *RTMIDIContext {
	m := RTMIDIContext{}
	m.driver, _ = rtmididrv.New()
	return &m
}

// OutputDevices yields the output ports of the driver.
func (m *RTMIDIContext) OutputDevices(yield func(RTMIDIDevice) bool) {
	if m.driver == nil {
		return
	}
	outs, err := m.driver.Outs()
	if err != nil {
		return
	}
	for _, out := range outs {
		if !yield(RTMIDIDevice{context: m, out: out}) {
			return
		}
	}
}

// Open opens the port, closing the port open before, if any.
func (d RTMIDIDevice) Open() error {
	c := d.context
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentOut == d.out {
		return nil
	}
	if c.driver == nil {
		return errors.New("no driver available")
	}
	if c.currentOut != nil && c.currentOut.IsOpen() {
		c.currentOut.Close()
	}
	c.currentOut = nil
	if err := d.out.Open(); err != nil {
		return fmt.Errorf("opening MIDI output failed: %w", err)
	}
	c.currentOut = d.out
	return nil
}

func (d RTMIDIDevice) String() string {
	return d.out.String()
}

// TryToOpenBy opens the first output whose name starts with namePrefix, or
// simply the first output if takeFirst is set.
func (c *RTMIDIContext) TryToOpenBy(namePrefix string, takeFirst bool) error {
	for out := range c.OutputDevices {
		if takeFirst || strings.HasPrefix(out.String(), namePrefix) {
			return out.Open()
		}
	}
	if takeFirst {
		return errors.New("could not find any MIDI output")
	}
	return fmt.Errorf("could not find any MIDI output starting with %q", namePrefix)
}

// Send writes one message to the open port.
func (c *RTMIDIContext) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentOut == nil || !c.currentOut.IsOpen() {
		return ErrNoDevice
	}
	return c.currentOut.Send(msg)
}

func (c *RTMIDIContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver == nil {
		return
	}
	if c.currentOut != nil && c.currentOut.IsOpen() {
		c.currentOut.Close()
	}
	c.currentOut = nil
	c.driver.Close()
}
