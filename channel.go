package routine

import "sync"

// chanWaiter names a routine parked on a Channel operation: its home
// thread/slot for cross-thread wake addressing (spec §9 "Cross-thread wake
// without migration"), plus a pointer into its own (blocked, therefore
// safely touched) stack frame used to hand over the transferred value
// without a second round trip.
type chanWaiter[T any] struct {
	thread *Thread
	slot   uint32
	value  *T // recv: written by the unblocking sender; send: read by the unblocking receiver
	ok     *bool
}

// Channel is a bounded, typed, closable channel (spec §3 "Channel<T, N>",
// §4.5). It is a reference-counted value in the source spec; here it is
// simply a shared pointer, which gives the same multiple-owners-one-
// instance semantics without manual reference counting.
//
// Internally this keeps a ring buffer plus FIFO waiter lists per direction
// rather than literal signed writer_slots/reader_slots counters (spec §9's
// "in a target language without wrap-free signed atomics, use explicit
// {count, waiters} pairs" licenses this restatement; see DESIGN.md). The
// counter algebra of spec §8 invariant 2 still holds:
// len(ring)+len(writerWaiters)-len(readerWaiters) tracks capacity use, and
// |waiters| = len(readerWaiters)+len(writerWaiters).
type Channel[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	count    int
	capacity int
	closed   bool

	readerWaiters []*chanWaiter[T]
	writerWaiters []*chanWaiter[T]
}

// NewChannel creates a channel of capacity n (spec §6 channel<T,N>). n == 0
// is a synchronous rendezvous channel: send only completes once paired
// with a waiting recv, or vice versa.
func NewChannel[T any](n int) *Channel[T] {
	if n < 0 {
		n = 0
	}
	return &Channel[T]{capacity: n, buf: make([]T, n)}
}

func (c *Channel[T]) push(v T) {
	assertInvariant(c.count < c.capacity, "channel: push into a full ring")
	idx := (c.head + c.count) % len(c.buf)
	c.buf[idx] = v
	c.count++
}

func (c *Channel[T]) pop() T {
	v := c.buf[c.head]
	var zero T
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	return v
}

// wakeChanWaiter pushes a schedule_waiting_routine-equivalent command to w's home
// thread so its select round resolves (spec §4.5's "poster thread pushes a
// cross-thread command to the waiter's home thread").
func wakeChanWaiter[T any](w *chanWaiter[T]) {
	w.thread.pushCommand(command{kind: cmdScheduleWaiting, sem: nil, slot: w.slot})
}

// removeChanWaiter drops w from list by identity, preserving order of the
// rest. A losing select branch's cancel must unlink its waiter this way
// (not merely invalidate its slot): unlike the semaphore path, a channel
// hand-off writes the transferred value directly into the waiter's result
// pointer with no slot-validity check, so a stale waiter left at the head
// of the list would silently swallow the next value handed to it.
func removeChanWaiter[T any](list []*chanWaiter[T], w *chanWaiter[T]) []*chanWaiter[T] {
	for i, x := range list {
		if x == w {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Send enqueues v, blocking if the channel is full and no reader is
// waiting. ok is false if the channel was (or became) closed before the
// send could complete (spec §6 ch << v, §4.5 send).
func (c *Channel[T]) Send(v T) (ok bool) {
	return SelectAny(EventChannelSend(c, v, func(ok bool) bool { return ok }))
}

// Recv dequeues a value, blocking if the channel is empty and no writer is
// waiting. ok is false if the channel is closed and drained (spec §6
// ch >> out, §4.5 recv).
func (c *Channel[T]) Recv() (v T, ok bool) {
	type result struct {
		v  T
		ok bool
	}
	r := SelectAny(EventChannelRecv(c, func(v T, ok bool) result { return result{v, ok} }))
	return r.v, r.ok
}

// Close marks the channel closed and wakes every current waiter with
// ok == false (spec §4.5 close()).
func (c *Channel[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	readers := c.readerWaiters
	writers := c.writerWaiters
	c.readerWaiters = nil
	c.writerWaiters = nil
	for _, w := range readers {
		*w.ok = false
	}
	for _, w := range writers {
		*w.ok = false
	}
	c.mu.Unlock()

	for _, w := range readers {
		wakeChanWaiter(w)
	}
	for _, w := range writers {
		wakeChanWaiter(w)
	}
}

// EventChannelSend builds a select branch that sends v on c (spec §6
// event_write(channel, v, cb), §4.6).
func EventChannelSend[T any, R any](c *Channel[T], v T, cb func(ok bool) R) Event[R] {
	var (
		result   bool
		attached bool
		home     *Thread
		slotIdx  uint32
		w        *chanWaiter[T]
	)
	return Event[R]{
		kind: selectKindChannelSend,
		subscribe: func(r *Routine, index int) bool {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				result = false
				return true
			}
			if len(c.readerWaiters) > 0 {
				rw := c.readerWaiters[0]
				c.readerWaiters = c.readerWaiters[1:]
				*rw.value = v
				*rw.ok = true
				c.mu.Unlock()
				wakeChanWaiter(rw)
				result = true
				return true
			}
			if c.count < c.capacity {
				c.push(v)
				c.mu.Unlock()
				result = true
				return true
			}
			home = r.thread
			slotIdx = home.slots.Alloc(r, index)
			w = &chanWaiter[T]{thread: home, slot: slotIdx, value: &v, ok: &result}
			c.writerWaiters = append(c.writerWaiters, w)
			attached = true
			assertInvariant(len(c.readerWaiters) == 0, "channel: writer queued while a reader was also waiting")
			c.mu.Unlock()
			return false
		},
		cancel: func() {
			if attached {
				home.slots.Invalidate(slotIdx)
				c.mu.Lock()
				c.writerWaiters = removeChanWaiter(c.writerWaiters, w)
				c.mu.Unlock()
			}
		},
		invoke: func() R { return cb(result) },
	}
}

// EventChannelRecv builds a select branch that receives from c (spec §6
// event_read(channel, &out, cb), §4.6).
func EventChannelRecv[T any, R any](c *Channel[T], cb func(v T, ok bool) R) Event[R] {
	var (
		value    T
		result   bool
		attached bool
		home     *Thread
		slotIdx  uint32
		w        *chanWaiter[T]
	)
	return Event[R]{
		kind: selectKindChannelRecv,
		subscribe: func(r *Routine, index int) bool {
			c.mu.Lock()
			if c.count > 0 {
				// Ring has buffered data: always drain it before any
				// waiting writer's value, preserving FIFO order (a writer
				// only queues once the ring is full, so its value is
				// strictly newer than anything already buffered).
				value = c.pop()
				var backfilled *chanWaiter[T]
				if len(c.writerWaiters) > 0 {
					backfilled = c.writerWaiters[0]
					c.writerWaiters = c.writerWaiters[1:]
					c.push(*backfilled.value)
					*backfilled.ok = true
				}
				c.mu.Unlock()
				if backfilled != nil {
					wakeChanWaiter(backfilled)
				}
				result = true
				return true
			}
			if len(c.writerWaiters) > 0 {
				// Only reachable with an empty ring when capacity == 0
				// (synchronous rendezvous): hand the value straight across.
				ww := c.writerWaiters[0]
				c.writerWaiters = c.writerWaiters[1:]
				value = *ww.value
				*ww.ok = true
				c.mu.Unlock()
				wakeChanWaiter(ww)
				result = true
				return true
			}
			if c.closed {
				c.mu.Unlock()
				result = false
				return true
			}
			home = r.thread
			slotIdx = home.slots.Alloc(r, index)
			w = &chanWaiter[T]{thread: home, slot: slotIdx, value: &value, ok: &result}
			c.readerWaiters = append(c.readerWaiters, w)
			attached = true
			assertInvariant(len(c.writerWaiters) == 0, "channel: reader queued while a writer was also waiting")
			assertInvariant(c.count == 0, "channel: reader queued while the ring still held buffered data")
			c.mu.Unlock()
			return false
		},
		cancel: func() {
			if attached {
				home.slots.Invalidate(slotIdx)
				c.mu.Lock()
				c.readerWaiters = removeChanWaiter(c.readerWaiters, w)
				c.mu.Unlock()
			}
		},
		invoke: func() R { return cb(value, result) },
	}
}
