// Package clock provides the clocks the transport schedules against: Manual,
// advanced explicitly by tests and offline renderers, and Sample, advanced by
// the audio output as it renders frames. Callbacks due at the same time fire
// in the order they were scheduled, and always without any lock of the clock
// held, so they can freely schedule and cancel.
package clock

import (
	"cmp"
	"container/heap"
)

// Handle identifies a scheduled callback. The zero Handle is never returned.
type Handle uint64

type (
	entry struct {
		at     float64
		handle Handle
		fn     func()
	}

	// queue is a min-heap of entries ordered by (at, handle); handles
	// increase monotonically, so equal times keep their scheduling order.
	// Cancelled entries stay in the heap until they reach the top or the
	// heap is compacted; live holds the handles not cancelled yet.
	queue struct {
		entries entries
		live    map[Handle]struct{}
		next    Handle
	}

	entries []entry
)

func (e entries) Len() int           { return len(e) }
func (e entries) Less(i, j int) bool { return compareEntries(e[i], e[j]) < 0 }
func (e entries) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }
func (e *entries) Push(x any)        { *e = append(*e, x.(entry)) }
func (e *entries) Pop() any {
	old := *e
	x := old[len(old)-1]
	old[len(old)-1] = entry{}
	*e = old[:len(old)-1]
	return x
}

func (q *queue) push(at float64, fn func()) Handle {
	if q.live == nil {
		q.live = map[Handle]struct{}{}
	}
	q.next++
	heap.Push(&q.entries, entry{at: at, handle: q.next, fn: fn})
	q.live[q.next] = struct{}{}
	return q.next
}

func compareEntries(a, b entry) int {
	if c := cmp.Compare(a.at, b.at); c != 0 {
		return c
	}
	return cmp.Compare(a.handle, b.handle)
}

// cancel drops the entry of h in constant time. Once more than half of the
// heap is cancelled entries, the heap is rebuilt without them.
func (q *queue) cancel(h Handle) bool {
	if _, ok := q.live[h]; !ok {
		return false
	}
	delete(q.live, h)
	if len(q.entries) > 64 && len(q.live) < len(q.entries)/2 {
		q.compact()
	}
	return true
}

func (q *queue) compact() {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if _, ok := q.live[e.handle]; ok {
			kept = append(kept, e)
		}
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	heap.Init(&q.entries)
}

// skipCancelled pops the cancelled entries off the top of the heap.
func (q *queue) skipCancelled() {
	for len(q.entries) > 0 {
		if _, ok := q.live[q.entries[0].handle]; ok {
			return
		}
		heap.Pop(&q.entries)
	}
}

// popDue removes and returns the earliest entry if due(at) holds for it.
func (q *queue) popDue(due func(at float64) bool) (entry, bool) {
	q.skipCancelled()
	if len(q.entries) == 0 || !due(q.entries[0].at) {
		return entry{}, false
	}
	e := heap.Pop(&q.entries).(entry)
	delete(q.live, e.handle)
	return e, true
}

func (q *queue) peek() (float64, bool) {
	q.skipCancelled()
	if len(q.entries) == 0 {
		return 0, false
	}
	return q.entries[0].at, true
}

func (q *queue) len() int { return len(q.live) }
