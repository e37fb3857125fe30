package routine

import (
	"sync"
	"sync/atomic"
)

// defaultWaiterCapacity is the starting capacity of a Semaphore's waiter
// slice. Spec §9(c) leaves waiter-queue overflow behavior unspecified by
// the source; this implementation grows the slice dynamically rather than
// fail fast, since Go slices make that the path of least surprise.
const defaultWaiterCapacity = 16

// globalWaiterCapacityHint is the preallocation size NewSemaphore uses for
// a fresh waiter slice. Semaphores, like Channels, are constructed
// independently of any Engine, so WithSemaphoreWaiterCapacity (options.go)
// tunes this process-wide hint rather than a per-instance field; it never
// imposes a hard cap, since the slice still grows past it on overflow.
var globalWaiterCapacityHint atomic.Int64

func init() { globalWaiterCapacityHint.Store(defaultWaiterCapacity) }

// SetDefaultSemaphoreWaiterCapacity overrides the initial waiter-slice
// preallocation used by NewSemaphore. See WithSemaphoreWaiterCapacity.
func SetDefaultSemaphoreWaiterCapacity(n int) {
	if n < 1 {
		n = 1
	}
	globalWaiterCapacityHint.Store(int64(n))
}

// waiterRecord names a suspended routine's home thread and arena slot, so
// a post on another thread can address a command to the right inbound
// queue without touching the waiter's state directly (spec §9
// "Cross-thread wake without migration").
type waiterRecord struct {
	thread *Thread
	slot   uint32
}

// Semaphore is a counting semaphore whose counter is allowed to go
// negative, encoding the number of outstanding waiters (spec §3
// "Semaphore"). wait decrements then parks if the result is < 0; post
// increments then wakes the longest-waiting routine if the prior value
// was < 0.
type Semaphore struct {
	mu       sync.Mutex
	counter  int64
	capacity int64
	waiters  []waiterRecord
}

// NewSemaphore creates a semaphore with the given initial capacity (spec
// §6 semaphore(capacity)).
func NewSemaphore(capacity int) *Semaphore {
	hint := int(globalWaiterCapacityHint.Load())
	return &Semaphore{
		counter:  int64(capacity),
		capacity: int64(capacity),
		waiters:  make([]waiterRecord, 0, hint),
	}
}

// Wait acquires one permit, suspending the calling routine if none is
// immediately available.
func (s *Semaphore) Wait() {
	SelectAny(EventSemaphoreWait[struct{}](s, func() struct{} { return struct{}{} }))
}

// Post releases one permit, waking the longest-waiting routine if any.
func (s *Semaphore) Post() {
	s.mu.Lock()
	s.counter++
	assertInvariant(s.counter <= s.capacity, "semaphore: post exceeded capacity")
	prior := s.counter - 1
	if prior >= 0 {
		s.mu.Unlock()
		return
	}
	rec, ok := s.popWaiterLocked()
	assertInvariant(ok, "semaphore: negative counter with empty waiter queue")
	s.mu.Unlock()
	if ok {
		rec.thread.pushCommand(command{kind: cmdScheduleWaiting, sem: s, slot: rec.slot})
	}
}

// popWaiterLocked removes and returns the head waiter; mu must be held.
func (s *Semaphore) popWaiterLocked() (waiterRecord, bool) {
	if len(s.waiters) == 0 {
		return waiterRecord{}, false
	}
	rec := s.waiters[0]
	s.waiters = s.waiters[1:]
	return rec, true
}

// popAWaiter is the "consume a ticket on behalf of nobody" fallback (spec
// §4.5, §9): a schedule_waiting_routine command arrived for a slot that
// was already invalidated by a winning select branch elsewhere, so the
// ticket it represents is handed to the next real waiter instead.
func (s *Semaphore) popAWaiter() {
	s.mu.Lock()
	rec, ok := s.popWaiterLocked()
	s.mu.Unlock()
	if ok {
		rec.thread.pushCommand(command{kind: cmdScheduleWaiting, sem: s, slot: rec.slot})
	}
}

// EventSemaphoreWait builds a select branch that acquires s, per the
// decrement-first pattern of spec §4.5/§4.6 (grounded on
// original_source/src/boson/boson/select.h's semaphore storage).
func EventSemaphoreWait[R any](s *Semaphore, cb func() R) Event[R] {
	return eventSemaphoreLike(selectKindSemaphore, s, cb)
}

func eventSemaphoreLike[R any](kind selectKind, s *Semaphore, cb func() R) Event[R] {
	var (
		slotIdx  uint32
		attached bool
		home     *Thread
	)
	return Event[R]{
		kind: kind,
		subscribe: func(r *Routine, index int) bool {
			s.mu.Lock()
			s.counter--
			if s.counter >= 0 {
				s.mu.Unlock()
				return true
			}
			home = r.thread
			slotIdx = home.slots.Alloc(r, index)
			attached = true
			s.waiters = append(s.waiters, waiterRecord{thread: home, slot: slotIdx})
			assertInvariant(int64(len(s.waiters)) == -s.counter, "semaphore: waiter count diverged from negative counter")
			s.mu.Unlock()
			return false
		},
		cancel: func() {
			if attached {
				home.slots.Invalidate(slotIdx)
			}
		},
		invoke: cb,
	}
}
