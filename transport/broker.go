package transport

import (
	"fmt"
	"time"

	jmon "github.com/jmonlabs/jmon-daw-sub001"
)

type (
	// Broker carries the output of the transport to the editor: position
	// updates, advisory warnings and state changes. Every send is
	// non-blocking; if the editor stops reading, messages are dropped rather
	// than stalling the scheduler.
	Broker struct {
		Positions chan PositionUpdate
		Warnings  chan Warning
		Status    chan StatusMsg
	}

	// PositionUpdate is published on every Tick while playing.
	PositionUpdate struct {
		Seconds float64
		Musical jmon.MusicalTime
	}

	// Warning is one of jmon.PolyphonyWarning, graph.BuildWarning and
	// ParseWarning.
	Warning interface {
		String() string
	}

	// ParseWarning reports a malformed entry of the song that was replaced by
	// a default: a time token, a loop length or a pitch. Index is the note
	// index, or -1 for the loop of the track.
	ParseWarning struct {
		TrackID string
		Index   int
		Err     error
	}

	// StatusMsg reports a transition of the transport.
	StatusMsg struct {
		Event    StatusEvent
		State    State
		Position float64
	}

	StatusEvent int
)

const (
	Loaded StatusEvent = iota
	Started
	Resumed
	Paused
	Stopped
	Sought
	Looped
	Ended
	TempoChanged
)

func NewBroker() *Broker {
	return &Broker{
		Positions: make(chan PositionUpdate, 1024),
		Warnings:  make(chan Warning, 1024),
		Status:    make(chan StatusMsg, 1024),
	}
}

// TrySend delivers v unless c is full, and reports whether it did.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
		return true
	default:
		return false
	}
}

// TimeoutReceive waits at most d for a value from c. ok is false when d
// elapsed first or c is closed. Editors polling the broker use it in place of
// a bare receive so that a stopped transport cannot hang them.
func TimeoutReceive[T any](c <-chan T, d time.Duration) (v T, ok bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case v, ok = <-c:
	case <-timer.C:
	}
	return v, ok
}

func (w ParseWarning) String() string {
	if w.Index < 0 {
		return fmt.Sprintf("%s: loop: %v", w.TrackID, w.Err)
	}
	return fmt.Sprintf("%s: note %d: %v", w.TrackID, w.Index, w.Err)
}

func (e StatusEvent) String() string {
	switch e {
	case Loaded:
		return "loaded"
	case Started:
		return "started"
	case Resumed:
		return "resumed"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Sought:
		return "sought"
	case Looped:
		return "looped"
	case Ended:
		return "ended"
	case TempoChanged:
		return "tempo changed"
	}
	return "unknown"
}
