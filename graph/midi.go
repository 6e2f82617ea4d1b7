package graph

import (
	"fmt"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// MIDIOut receives raw MIDI messages. A drivers.Out of gomidi satisfies
	// it.
	MIDIOut interface {
		Send(msg []byte) error
	}

	// MIDI is an instrument that renders no audio but sends note on and note
	// off messages to a MIDI output. Note offs are timed by counting rendered
	// frames, like the gates of the other instruments.
	MIDI struct {
		base
		out  MIDIOut
		held map[int]int // key -> frames until note off
		err  error
	}
)

// MIDIConstructor returns a constructor of MIDI instruments sending to out.
// With a nil out the messages are dropped.
func MIDIConstructor(out MIDIOut) Constructor {
	return func(id string, _ map[string]any) (Node, error) {
		m := &MIDI{out: out, held: map[int]int{}}
		m.init(id, "midi")
		return m, nil
	}
}

func (m *MIDI) Voicing() jmon.Voicing { return jmon.Polyphonic }

func (m *MIDI) channel() uint8 { return uint8(m.params["channel"]) }

func (m *MIDI) send(msg midi.Message) error {
	if m.out == nil {
		return nil
	}
	if err := m.out.Send(msg); err != nil {
		return fmt.Errorf("midi %s: %w", m.id, err)
	}
	return nil
}

func (m *MIDI) Trigger(keys []int, velocity, duration float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	gate := max(int(duration*SampleRate+0.5), 1)
	vel := uint8(min(max(velocity*127+0.5, 1), 127))
	for _, key := range keys {
		if key < 0 || key > 127 {
			return fmt.Errorf("key %d out of range", key)
		}
		if _, ok := m.held[key]; ok {
			if err := m.send(midi.NoteOff(m.channel(), uint8(key))); err != nil {
				return err
			}
		}
		if err := m.send(midi.NoteOn(m.channel(), uint8(key), vel)); err != nil {
			return err
		}
		m.held[key] = gate
	}
	return nil
}

func (m *MIDI) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseAll()
}

func (m *MIDI) releaseAll() {
	for key := range m.held {
		if err := m.send(midi.NoteOff(m.channel(), uint8(key))); err != nil {
			m.err = err
		}
		delete(m.held, key)
	}
}

func (m *MIDI) Dispose() {
	m.mu.Lock()
	m.releaseAll()
	m.mu.Unlock()
	m.base.Dispose()
}

// Err returns the last error of sending a note off.
func (m *MIDI) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MIDI) Process(in, out []float32) {
	copy(out, in)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, frames := range m.held {
		frames -= len(out)
		if frames > 0 {
			m.held[key] = frames
			continue
		}
		if err := m.send(midi.NoteOff(m.channel(), uint8(key))); err != nil {
			m.err = err
		}
		delete(m.held, key)
	}
}
