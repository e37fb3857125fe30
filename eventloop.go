package routine

import (
	"sync"
)

// ioStatus is delivered to a read/write subscriber's callback on dispatch
// (spec §4.2). nil means "readiness observed, go try the syscall again";
// non-nil means the fd raised an error/hangup condition or was the target
// of an fd_panic, and the caller should treat that as ErrInterrupted.
type ioStatus struct {
	err error
}

// fdEntry tracks the read/write subscriptions currently registered against
// one fd (spec §3 "a mapping fd → {idx_read, idx_write}"). Both directions
// can be registered independently; the underlying FastPoller sees a single
// combined registration covering whichever directions are active.
type fdEntry struct {
	fd       int
	readID   uint64
	writeID  uint64
	readCB   func(ioStatus)
	writeCB  func(ioStatus)
	regEvent IOEvents
}

// genericEvent backs register_event/send_event (spec §4.2): an internal
// wake fd whose read-readiness fires a user callback with no I/O payload,
// used for cross-thread wake-ups (a thread's inbound command queue) and by
// Semaphore/Channel posts to resume a waiter on its home thread.
type genericEvent struct {
	id      uint64
	readFD  int
	writeFD int
	cb      func()
}

// EventLoop is the readiness-facility wrapper of spec §4.2, layered over a
// platform FastPoller (poller_linux.go / poller_darwin.go). It adds the
// per-direction event-id bookkeeping the source spec's epoll/kqueue
// wrapper provides, which the bare FastPoller (one callback per fd) does
// not: independent register_read/register_write/unregister with
// reference-counted fd cleanup.
type EventLoop struct {
	poller FastPoller

	mu      sync.Mutex
	fds     map[int]*fdEntry
	generic map[uint64]*genericEvent
	nextID  uint64
	closed  bool
}

// NewEventLoop constructs and initializes an EventLoop's backing poller.
func NewEventLoop() (*EventLoop, error) {
	l := &EventLoop{
		fds:     make(map[int]*fdEntry),
		generic: make(map[uint64]*genericEvent),
	}
	if err := l.poller.Init(); err != nil {
		return nil, err
	}
	return l, nil
}

// Close tears down the loop's poller and any internal wake fds it owns.
func (l *EventLoop) Close() error {
	l.mu.Lock()
	l.closed = true
	gens := make([]*genericEvent, 0, len(l.generic))
	for _, g := range l.generic {
		gens = append(gens, g)
	}
	l.mu.Unlock()
	for _, g := range gens {
		_ = closeWakeFd(g.readFD, g.writeFD)
	}
	return l.poller.Close()
}

func (l *EventLoop) allocID() uint64 {
	l.nextID++
	return l.nextID
}

// RegisterEvent creates an internal wake fd and returns an event_id; a
// subsequent SendEvent(id) causes cb to run on the loop's own goroutine
// during the next Loop dispatch (spec §4.2 register_event/send_event).
func (l *EventLoop) RegisterEvent(cb func()) (uint64, error) {
	readFD, writeFD, err := createWakeFd()
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	id := l.allocID()
	g := &genericEvent{id: id, readFD: readFD, writeFD: writeFD, cb: cb}
	l.generic[id] = g
	l.mu.Unlock()

	regErr := l.poller.RegisterFD(readFD, EventRead, func(IOEvents) {
		_ = drainWakeUpPipe(readFD)
		cb()
	})
	if regErr != nil {
		l.mu.Lock()
		delete(l.generic, id)
		l.mu.Unlock()
		_ = closeWakeFd(readFD, writeFD)
		return 0, regErr
	}
	return id, nil
}

// SendEvent wakes the loop and arranges for the registered callback to run
// on its next dispatch. Safe to call from any goroutine/thread.
func (l *EventLoop) SendEvent(id uint64) error {
	l.mu.Lock()
	g, ok := l.generic[id]
	l.mu.Unlock()
	if !ok {
		return ErrFDNotRegistered
	}
	return submitWakeup(g.writeFD)
}

// wanted computes the poller-level interest bitmask for an entry.
func (e *fdEntry) wanted() IOEvents {
	var ev IOEvents
	if e.readCB != nil {
		ev |= EventRead
	}
	if e.writeCB != nil {
		ev |= EventWrite
	}
	return ev
}

// dispatch applies spec §4.2's per-raised-fd rules:
//
//	error or hang-up bits set + no read-readiness → status=interrupted to
//	  both subscribers present;
//	write-ready → deliver to write subscriber;
//	read-ready → deliver to read subscriber.
func (e *fdEntry) dispatch(events IOEvents) {
	if (events&(EventError|EventHangup)) != 0 && events&EventRead == 0 {
		if e.readCB != nil {
			e.readCB(ioStatus{err: ErrInterrupted})
		}
		if e.writeCB != nil {
			e.writeCB(ioStatus{err: ErrInterrupted})
		}
		return
	}
	if events&EventWrite != 0 && e.writeCB != nil {
		e.writeCB(ioStatus{})
	}
	if events&EventRead != 0 && e.readCB != nil {
		e.readCB(ioStatus{})
	}
}

func (l *EventLoop) register(fd int, write bool, cb func(ioStatus)) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.fds[fd]
	if !ok {
		e = &fdEntry{fd: fd}
		l.fds[fd] = e
	}

	id := l.allocID()
	prevWanted := e.wanted()
	if write {
		e.writeID = id
		e.writeCB = cb
	} else {
		e.readID = id
		e.readCB = cb
	}
	wanted := e.wanted()

	var err error
	if prevWanted == 0 {
		err = l.poller.RegisterFD(fd, wanted, func(ev IOEvents) { e.dispatch(ev) })
	} else if wanted != prevWanted {
		err = l.poller.ModifyFD(fd, wanted)
	}
	if err != nil {
		if write {
			e.writeID, e.writeCB = 0, nil
		} else {
			e.readID, e.readCB = 0, nil
		}
		return 0, err
	}
	return id, nil
}

// RegisterRead registers read interest on fd, returning an event_id (spec
// §4.2 register_read). The interest stays armed until Unregister; no re-arm
// is needed between dispatches. The poller registration is level-triggered,
// so cb runs on every Loop pass while fd stays readable; callers that want
// one notification (io.go's ioEvent) call Unregister from cb.
func (l *EventLoop) RegisterRead(fd int, cb func(ioStatus)) (uint64, error) {
	return l.register(fd, false, cb)
}

// RegisterWrite registers write interest on fd (spec §4.2 register_write).
func (l *EventLoop) RegisterWrite(fd int, cb func(ioStatus)) (uint64, error) {
	return l.register(fd, true, cb)
}

// Unregister removes the read- or write-interest named by id; if both
// interests on its fd are now clear, the fd itself is removed from the
// poller (spec §4.2 unregister).
func (l *EventLoop) Unregister(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.generic[id]; ok {
		delete(l.generic, id)
		l.mu.Unlock()
		err := l.poller.UnregisterFD(g.readFD)
		_ = closeWakeFd(g.readFD, g.writeFD)
		l.mu.Lock()
		return err
	}

	for fd, e := range l.fds {
		switch id {
		case e.readID:
			e.readID, e.readCB = 0, nil
		case e.writeID:
			e.writeID, e.writeCB = 0, nil
		default:
			continue
		}
		wanted := e.wanted()
		if wanted == 0 {
			delete(l.fds, fd)
			return l.poller.UnregisterFD(fd)
		}
		return l.poller.ModifyFD(fd, wanted)
	}
	return ErrFDNotRegistered
}

// LoopResult reports why a Loop call returned.
type LoopResult int

const (
	LoopMaxIterReached LoopResult = iota
	LoopTimedOut
	LoopError
)

// InjectPanic delivers ErrInterrupted to fd's current read/write
// subscribers, if any, and clears their registration (spec §4.2
// send_fd_panic dispatch). Must be called on the loop's own owning
// goroutine, matching every other EventLoop mutation.
func (l *EventLoop) InjectPanic(fd int) {
	l.mu.Lock()
	e, ok := l.fds[fd]
	l.mu.Unlock()
	if !ok {
		return
	}
	if e.readCB != nil {
		e.readCB(ioStatus{err: ErrInterrupted})
	}
	if e.writeCB != nil {
		e.writeCB(ioStatus{err: ErrInterrupted})
	}
}

// Loop blocks up to timeoutMs on the readiness facility and dispatches
// whatever events arrive, for up to maxIterations poller waits (spec §4.2
// loop). maxIterations <= 0 means unbounded: the caller (Thread.run) is
// expected to pass 1 and call Loop again from its own driver iteration, so
// I/O dispatch interleaves with ready-queue draining (spec §4.3).
func (l *EventLoop) Loop(maxIterations int, timeoutMs int) (LoopResult, error) {
	iter := 0
	for {
		n, err := l.poller.PollIO(timeoutMs)
		if err != nil {
			if isRetryablePollErr(err) {
				continue
			}
			return LoopError, err
		}
		iter++
		if maxIterations > 0 && iter >= maxIterations {
			if n == 0 {
				return LoopTimedOut, nil
			}
			return LoopMaxIterReached, nil
		}
		if n == 0 {
			return LoopTimedOut, nil
		}
	}
}
