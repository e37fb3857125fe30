package routine

import (
	"time"
)

// Thread is a scheduler thread (spec §2, §4.3), realized here as a
// dedicated driver goroutine (not locked to an OS thread; the driver does
// not call runtime.LockOSThread) running its own cooperative ready queue,
// timer map, suspended-slot arena, and event loop, fed by a bounded
// lock-free inbound command queue any other thread may push to.
type Thread struct {
	id     int
	engine *Engine

	inbound *MPMCQueue
	wakeID  uint64

	loop   *EventLoop
	timers *timerMap
	slots  *slotArena

	ready     readyQueue
	nextReady readyQueue

	registry *routineRegistry

	state *threadState

	suspendedCount int

	doneCh chan struct{}
}

func newThread(eng *Engine, id int) (*Thread, error) {
	loop, err := NewEventLoop()
	if err != nil {
		return nil, err
	}
	t := &Thread{
		id:       id,
		engine:   eng,
		inbound:  NewMPMCQueue(1024),
		loop:     loop,
		timers:   newTimerMap(),
		slots:    newSlotArena(),
		registry: newRoutineRegistry(),
		state:    newThreadState(),
		doneCh:   make(chan struct{}),
	}
	wakeID, err := loop.RegisterEvent(func() {})
	if err != nil {
		_ = loop.Close()
		return nil, err
	}
	t.wakeID = wakeID
	return t, nil
}

// pushCommand enqueues c on this thread's inbound queue and wakes its
// poller if it may be blocked waiting. Safe from any goroutine (spec §5
// "Per-thread inbound command queue: wait-free MPMC, written by any thread
// ... read only by the owning thread").
func (t *Thread) pushCommand(c command) {
	for {
		if err := t.inbound.Write(c); err == nil {
			break
		}
		var w spinWait
		w.once()
	}
	_ = t.loop.SendEvent(t.wakeID)
}

// addRoutine pushes r directly onto the ready queue. Used by the thread
// itself when it is the routine's home (engine seeding, Start targeting
// this thread from within one of its own routines).
func (t *Thread) addRoutine(r *Routine) {
	r.thread = t
	t.registry.register(r)
	t.ready.Push(r)
}

// run is the thread's main driver goroutine, implementing spec §4.3's
// per-iteration algorithm until it reaches ThreadFinished.
func (t *Thread) run() {
	defer close(t.doneCh)
	for {
		if t.state.Load() == ThreadFinished {
			return
		}

		timeoutMs := t.computeTimeoutMs()
		_, err := t.loop.Loop(1, timeoutMs)
		t.engine.pollWaitCount.Add(1)
		if err != nil && isFatalPollErr(err) {
			raiseFatal(t.engine, "readiness facility wait failed", err)
		}

		t.fireExpiredTimers()
		t.drainCommands()
		t.executeScheduledRoutines()

		if t.finishIfDrained() {
			return
		}
	}
}

// computeTimeoutMs implements spec §4.3 step 1: timeout is the head of the
// timer map minus now, clamped to >= 0; 0 if the ready queue already has
// work (so the poller wait never delays draining), -1 (infinite) if there
// is no timer and nothing scheduled.
func (t *Thread) computeTimeoutMs() int {
	if t.ready.Length() > 0 {
		return 0
	}
	deadline, ok := t.timers.NextDeadline()
	if !ok {
		return -1
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return int(ms)
}

// fireExpiredTimers implements spec §4.3 step 3.
func (t *Thread) fireExpiredTimers() {
	now := time.Now()
	for _, e := range t.timers.PopExpired(now) {
		for _, slotIdx := range e.slots {
			r, eventIndex, ok := t.slots.Get(slotIdx)
			t.slots.Free(slotIdx)
			if !ok || r == nil {
				continue
			}
			if r.eventHappened(eventIndex, selectKindTimer) {
				t.suspendedCount--
				t.ready.Push(r)
			}
		}
	}
}

// drainCommands folds every currently-enqueued inbound command into local
// state: add_routine pushes to ready, schedule_waiting_routine validates
// and wakes a slot (or hands the ticket back), fd_panic injects errors
// into this thread's subscribers of fd, finish arms draining.
func (t *Thread) drainCommands() {
	for {
		c, err := t.inbound.Read()
		if err != nil {
			return
		}
		switch c.kind {
		case cmdAddRoutine:
			t.engine.notifyRunning(t.id)
			t.addRoutine(c.r)
		case cmdScheduleWaiting:
			r, eventIndex, ok := t.slots.Get(c.slot)
			t.slots.Free(c.slot)
			if ok && r != nil {
				if r.eventHappened(eventIndex, selectKindSemaphore) {
					t.suspendedCount--
					t.ready.Push(r)
					continue
				}
			}
			// Slot already invalidated by a winning select branch
			// elsewhere: the ticket this post represents is unclaimed,
			// hand it back to the semaphore (spec §4.5, §9).
			if c.sem != nil {
				c.sem.popAWaiter()
			}
		case cmdFDPanic:
			t.injectFDPanic(c.fd)
		case cmdFinish:
			if t.state.Load() == ThreadRunning || t.state.Load() == ThreadIdle {
				t.state.Store(ThreadFinishing)
			}
		}
	}
}

// injectFDPanic wakes every routine on this thread currently suspended on
// fd's read/write interest with ErrInterrupted (spec §4.2 send_fd_panic,
// §6 fd_panic). Dispatched directly through this thread's own EventLoop,
// which is only ever touched by this thread's own goroutine (spec §5), so
// no extra synchronization is needed beyond the command-queue round trip
// that got us here.
func (t *Thread) injectFDPanic(fd int) {
	t.loop.InjectPanic(fd)
}

// executeScheduledRoutines implements spec §4.3's drain-exactly-once
// semantics: routines scheduled during this pass land on nextReady and are
// not run until the following driver iteration, so a burst of
// mutually-waking routines cannot starve I/O dispatch or commands.
func (t *Thread) executeScheduledRoutines() {
	for n := t.ready.Length(); n > 0; n-- {
		r, ok := t.ready.Pop()
		if !ok {
			break
		}
		t.resumeOne(r)
	}
	// Routines added to ready during the pass (Start targeting this thread
	// from one of its own routines) queue behind the ones that yielded.
	for {
		r, ok := t.ready.Pop()
		if !ok {
			break
		}
		t.nextReady.Push(r)
	}
	t.ready, t.nextReady = t.nextReady, t.ready
}

// resumeOne resumes r for one scheduling quantum and applies spec §4.3's
// per-status transition.
func (t *Thread) resumeOne(r *Routine) {
	r.status.Store(int32(StatusRunning))
	if !r.started {
		r.start()
	}
	r.resumeCh <- struct{}{}
	<-r.suspendCh

	switch r.Status() {
	case StatusYielding:
		t.nextReady.Push(r)
	case StatusWaitSysRead, StatusWaitSysWrite, StatusWaitEvents:
		// Every suspension path (I/O, timer, channel, semaphore, mutex)
		// goes through the select two-phase protocol (select.go):
		// subscribe already attached the routine to whatever wait
		// structure applies (event loop, timer map, waiter queue) before
		// suspend() returned control here, self-contained per branch. The
		// driver's only job is to account for it.
		t.suspendedCount++
	case StatusFinished:
		t.engine.routinesFinished.Add(1)
		t.registry.Scavenge(32)
		logRoutineFinished(t.engine.opts.logger, int64(t.id), int64(r.id))
	}
}

// finishIfDrained implements the tail of spec §4.3's "compute continuation":
// notify-idle / finished transitions.
func (t *Thread) finishIfDrained() bool {
	idleCandidate := t.ready.Length() == 0 && t.suspendedCount == 0 && t.timers.Len() == 0

	switch t.state.Load() {
	case ThreadFinishing:
		if idleCandidate {
			t.state.Store(ThreadFinished)
			_ = t.loop.Close()
			t.engine.notifyThreadFinished(t.id)
			return true
		}
	default:
		if idleCandidate {
			t.state.Store(ThreadIdle)
			t.engine.notifyIdle(t.id, t.suspendedCount)
		} else {
			t.state.Store(ThreadRunning)
			t.engine.notifyRunning(t.id)
		}
	}
	return false
}
