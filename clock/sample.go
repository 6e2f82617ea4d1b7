package clock

import (
	"math"
	"sync"
)

// Sample is a clock driven by rendered audio: its time is the number of
// frames processed so far divided by the sample rate. Process splits every
// block at the frames where callbacks are due, so triggers land on the exact
// frame.
type Sample struct {
	mu    sync.Mutex
	rate  float64
	frame int64
	q     queue
}

func NewSample(sampleRate int) *Sample {
	return &Sample{rate: float64(sampleRate)}
}

func (s *Sample) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.frame) / s.rate
}

// Frame returns the number of frames processed so far.
func (s *Sample) Frame() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Sample) ScheduleAt(at float64, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.push(at, fn)
}

func (s *Sample) Cancel(h Handle) {
	s.mu.Lock()
	s.q.cancel(h)
	s.mu.Unlock()
}

func (s *Sample) frameOf(at float64) int64 {
	return int64(math.Ceil(at*s.rate - 1e-9))
}

// Process advances the clock by frames, calling render for every chunk
// between due callbacks. Callbacks due at the start of a chunk fire before
// render is called for it.
func (s *Sample) Process(frames int, render func(n int)) {
	for remaining := frames; remaining > 0; {
		s.fireDue()
		s.mu.Lock()
		chunk := remaining
		if at, ok := s.q.peek(); ok {
			if next := s.frameOf(at) - s.frame; next > 0 && next < int64(chunk) {
				chunk = int(next)
			}
		}
		s.mu.Unlock()
		render(chunk)
		s.mu.Lock()
		s.frame += int64(chunk)
		s.mu.Unlock()
		remaining -= chunk
	}
	s.fireDue()
}

func (s *Sample) fireDue() {
	for {
		s.mu.Lock()
		e, ok := s.q.popDue(func(at float64) bool { return s.frameOf(at) <= s.frame })
		s.mu.Unlock()
		if !ok {
			return
		}
		e.fn()
	}
}
