package routine

import (
	"container/heap"
	"time"
)

// timerEntry is one deadline bucket in a thread's timer map (spec §4.4).
// Multiple slots can share a deadline bucket (e.g. several routines
// sleeping for the same duration registered in the same tick); nbActive
// counts how many of them are still valid so the bucket can be dropped
// once every slot sharing it has fired or been cancelled by a winning
// select branch.
type timerEntry struct {
	deadline time.Time
	slots    []uint32
	nbActive int
	index    int // heap.Interface bookkeeping
}

// timerMap is a per-thread min-heap of timerEntry ordered by deadline,
// owned exclusively by its thread's driver goroutine.
type timerMap struct {
	h timerHeap
}

func newTimerMap() *timerMap {
	return &timerMap{}
}

// Add registers slot to fire at deadline, returning the entry needed to
// cancel it later. Entries sharing an exact deadline value are merged
// into one bucket.
func (m *timerMap) Add(deadline time.Time, slot uint32) *timerEntry {
	for _, e := range m.h {
		if e.deadline.Equal(deadline) {
			e.slots = append(e.slots, slot)
			e.nbActive++
			return e
		}
	}
	e := &timerEntry{deadline: deadline, slots: []uint32{slot}, nbActive: 1}
	heap.Push(&m.h, e)
	return e
}

// Cancel decrements nbActive for one slot in e, used when a select round
// resolves via a different branch than the timer.
func (m *timerMap) Cancel(e *timerEntry) {
	if e.nbActive > 0 {
		e.nbActive--
	}
}

// Len reports the number of live (nbActive > 0) timer entries.
func (m *timerMap) Len() int {
	n := 0
	for _, e := range m.h {
		if e.nbActive > 0 {
			n++
		}
	}
	return n
}

// NextDeadline reports the earliest deadline among entries with
// nbActive > 0, dropping exhausted entries from the head as it goes.
func (m *timerMap) NextDeadline() (time.Time, bool) {
	m.dropExhaustedHead()
	if len(m.h) == 0 {
		return time.Time{}, false
	}
	return m.h[0].deadline, true
}

// dropExhaustedHead pops head entries with nbActive == 0, matching spec
// §4.3 step 4's "clean the timer map head while nb_active == 0".
func (m *timerMap) dropExhaustedHead() {
	for len(m.h) > 0 && m.h[0].nbActive == 0 {
		heap.Pop(&m.h)
	}
}

// PopExpired removes and returns every entry whose deadline has elapsed
// relative to now, in deadline order.
func (m *timerMap) PopExpired(now time.Time) []*timerEntry {
	m.dropExhaustedHead()
	var expired []*timerEntry
	for len(m.h) > 0 && !m.h[0].deadline.After(now) {
		e := heap.Pop(&m.h).(*timerEntry)
		expired = append(expired, e)
		m.dropExhaustedHead()
	}
	return expired
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
