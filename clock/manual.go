package clock

import "sync"

// Manual is a clock that only moves when told to. A callback scheduled at or
// before the current time fires on the next Advance.
type Manual struct {
	mu  sync.Mutex
	now float64
	q   queue
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) ScheduleAt(at float64, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.push(at, fn)
}

func (m *Manual) Cancel(h Handle) {
	m.mu.Lock()
	m.q.cancel(h)
	m.mu.Unlock()
}

// Pending returns the number of callbacks that have not fired yet.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.len()
}

// Advance moves the clock forward by dt seconds, firing the callbacks that
// become due.
func (m *Manual) Advance(dt float64) {
	m.AdvanceTo(m.Now() + dt)
}

// AdvanceTo moves the clock to t, firing the callbacks due at or before t in
// time order. While a callback runs, Now returns its scheduled time (or the
// current time, if that is later). The clock never moves backwards.
func (m *Manual) AdvanceTo(t float64) {
	for {
		m.mu.Lock()
		e, ok := m.q.popDue(func(at float64) bool { return at <= t })
		if !ok {
			m.now = max(m.now, t)
			m.mu.Unlock()
			return
		}
		m.now = max(m.now, e.at)
		m.mu.Unlock()
		e.fn()
	}
}
