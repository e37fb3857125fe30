package routine

import (
	"runtime"
	"sync/atomic"
)

// command is the payload carried across threads on a Thread's inbound
// MPMCQueue (spec §4.1, §4.7). Only pointer/scalar-sized fields are
// carried; the queue never blocks and never fails.
type command struct {
	kind commandKind
	r    *Routine // add_routine only; fd_panic is resolved by the target thread's EventLoop
	sem  *Semaphore
	slot uint32
	fd   int
}

type commandKind uint8

const (
	cmdAddRoutine commandKind = iota
	cmdScheduleWaiting
	cmdFinish
	cmdFDPanic
)

// MPMCQueue is a bounded, lock-free multi-producer multi-consumer queue
// used as the cross-thread command plane (spec §4.1). The source spec
// names an LCRQ-style wait-free queue with hazard-pointer reclamation as
// a baseline but explicitly permits substituting any published wait-free
// or bounded lock-free MPMC algorithm with an equivalent interface (spec
// §9(b)). This is the classic Vyukov per-slot-sequence-number bounded
// queue, grounded on hayabusa-cloud-lfq's MPMCSeq, rewritten against
// sync/atomic instead of that package's atomix/spin dependencies (see
// DESIGN.md for why those two are not imported).
//
// Enqueue never blocks the caller indefinitely: on a full queue it
// reports ErrWouldBlock immediately, matching write()'s "never blocks,
// never fails" contract by pushing backpressure to the caller rather than
// spinning inside the queue (the command plane's producers — engine,
// other threads — retry with a short backoff; see Thread.pushCommand).
type MPMCQueue struct {
	_        [sizeOfCacheLine]byte
	tail     atomic.Uint64
	_        [sizeOfCacheLine - sizeOfAtomicUint64]byte
	head     atomic.Uint64
	_        [sizeOfCacheLine - sizeOfAtomicUint64]byte
	buffer   []queueSlot
	mask     uint64
	capacity uint64
}

type queueSlot struct {
	seq  atomic.Uint64
	data command
}

// NewMPMCQueue creates a queue whose capacity is rounded up to the next
// power of two, with a minimum of 2.
func NewMPMCQueue(capacity int) *MPMCQueue {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(roundToPow2(capacity))
	q := &MPMCQueue{
		buffer:   make([]queueSlot, n),
		mask:     n - 1,
		capacity: n,
	}
	for i := uint64(0); i < n; i++ {
		q.buffer[i].seq.Store(i)
	}
	return q
}

func roundToPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Write enqueues an item. It returns ErrWouldBlock if the queue is
// momentarily full; callers that must not lose the command retry with
// backoff rather than block forever, preserving the source's "never
// blocks" contract for any single call.
func (q *MPMCQueue) Write(c command) error {
	var backoff spinWait
	for {
		tail := q.tail.Load()
		slot := &q.buffer[tail&q.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(tail)

		if diff == 0 {
			if q.tail.CompareAndSwap(tail, tail+1) {
				slot.data = c
				slot.seq.Store(tail + 1)
				return nil
			}
		} else if diff < 0 {
			return ErrWouldBlock
		}
		backoff.once()
	}
}

// Read dequeues an item, reporting ErrWouldBlock if the queue is
// momentarily empty.
func (q *MPMCQueue) Read() (command, error) {
	var backoff spinWait
	for {
		head := q.head.Load()
		slot := &q.buffer[head&q.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(head+1)

		if diff == 0 {
			if q.head.CompareAndSwap(head, head+1) {
				c := slot.data
				slot.data = command{}
				slot.seq.Store(head + q.capacity)
				return c, nil
			}
		} else if diff < 0 {
			return command{}, ErrWouldBlock
		}
		backoff.once()
	}
}

// Cap reports the queue's rounded-up capacity.
func (q *MPMCQueue) Cap() int { return int(q.capacity) }

// spinWait implements a yield-only backoff (one runtime.Gosched per
// retry), grounded on
// the spin-wait discipline the source's wait-free queue and semaphore
// both rely on between CAS retries.
type spinWait struct {
	n int
}

func (s *spinWait) once() {
	runtime.Gosched()
	s.n++
}
