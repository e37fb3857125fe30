package routine

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Status is a routine's lifecycle state (spec §3).
type Status int32

const (
	StatusNew Status = iota
	StatusRunning
	StatusYielding
	StatusWaitEvents
	StatusWaitSysRead
	StatusWaitSysWrite
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusRunning:
		return "running"
	case StatusYielding:
		return "yielding"
	case StatusWaitEvents:
		return "wait_events"
	case StatusWaitSysRead:
		return "wait_sys_read"
	case StatusWaitSysWrite:
		return "wait_sys_write"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

const happenedNone = -1

// Routine is a cooperatively scheduled unit of work (spec §3). The
// out-of-scope stack-switching primitive the source spec treats as a
// black-box resume()/yield() pair is realized here as a parked goroutine
// synchronized over a pair of rendezvous channels: the thread driver
// "resumes" a routine by unblocking its resumeCh and waiting for it to
// report back on suspendCh, instead of swapping machine stacks. Exactly
// one routine per thread is ever unblocked at a time, preserving the
// single-threaded-cooperative guarantee of spec §5 without unsafe
// assembly.
type Routine struct {
	id     uint64
	engine *Engine
	thread *Thread
	fn     func()

	status atomic.Int32

	resumeCh  chan struct{}
	suspendCh chan struct{}

	happenedIndex atomic.Int32
	happenedType  selectKind

	panicVal any
	started  bool
}

func newRoutine(eng *Engine, id uint64, fn func()) *Routine {
	r := &Routine{
		id:        id,
		engine:    eng,
		fn:        fn,
		resumeCh:  make(chan struct{}),
		suspendCh: make(chan struct{}),
	}
	r.status.Store(int32(StatusNew))
	r.happenedIndex.Store(happenedNone)
	return r
}

// Status returns the routine's current lifecycle state.
func (r *Routine) Status() Status { return Status(r.status.Load()) }

// start launches the backing goroutine. It must be called exactly once,
// before the first resume (Thread.resumeOne).
func (r *Routine) start() {
	if r.started {
		return
	}
	r.started = true
	go r.loop()
}

func (r *Routine) loop() {
	<-r.resumeCh
	gid := getGoroutineID()
	registerCurrentRoutine(gid, r)
	defer unregisterCurrentRoutine(gid)
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.panicVal = p
			}
		}()
		r.fn()
	}()
	r.status.Store(int32(StatusFinished))
	r.suspendCh <- struct{}{}
}

// currentRoutineRegistry maps a goroutine id to the Routine it is
// backing, the same "which goroutine am I" trick the source event loop
// uses to confirm single-owner access (getGoroutineID), repurposed here
// so free functions like Yield/Sleep can recover an implicit "current
// routine" without threading a context.Context through every call.
var currentRoutineRegistry sync.Map // uint64 -> *Routine

func registerCurrentRoutine(gid uint64, r *Routine) { currentRoutineRegistry.Store(gid, r) }

func unregisterCurrentRoutine(gid uint64) { currentRoutineRegistry.Delete(gid) }

func currentRoutine() *Routine {
	r := tryCurrentRoutine()
	if r == nil {
		panic("routine: called from outside a routine goroutine")
	}
	return r
}

// tryCurrentRoutine is the non-panicking form of currentRoutine, used by
// Engine.StartOn to detect the "already on the target thread" fast path
// from engine setup code (where there is no current routine).
func tryCurrentRoutine() *Routine {
	gid := getGoroutineID()
	v, ok := currentRoutineRegistry.Load(gid)
	if !ok {
		return nil
	}
	return v.(*Routine)
}

// getGoroutineID returns the calling goroutine's runtime id, parsed out
// of runtime.Stack the same way the source event loop identifies its own
// driver goroutine.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// suspend parks the calling routine's goroutine with the given status
// until the owning thread resumes it again. It must only be called from
// within the routine's own fn (i.e. on its own goroutine).
func (r *Routine) suspend(status Status) {
	r.status.Store(int32(status))
	r.suspendCh <- struct{}{}
	<-r.resumeCh
}

// Yield voluntarily reschedules the calling routine behind every routine
// already on the ready queue (spec §6 yield()).
func Yield() {
	r := currentRoutine()
	r.suspend(StatusYielding)
}

// eventHappened implements the CAS-guarded winner-takes-all resolution of
// spec §4.6: only the first caller for a given select round observes
// ok == true. Losers are no-ops, matching "losing firings are no-ops".
func (r *Routine) eventHappened(index int, kind selectKind) bool {
	if !r.happenedIndex.CompareAndSwap(happenedNone, int32(index)) {
		return false
	}
	r.happenedType = kind
	return true
}

// resetEventRound clears the routine's select bookkeeping for a new
// start_event_round (spec §4.6 step 1).
func (r *Routine) resetEventRound() {
	r.happenedIndex.Store(happenedNone)
	r.happenedType = 0
}
