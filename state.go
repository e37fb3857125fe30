package routine

import (
	"sync/atomic"
)

// ThreadState is the lifecycle state of a scheduler thread.
//
// State machine:
//
//	running    → idle       [queues drained, no pending inbound commands]
//	idle       → running    [inbound command arrival or event delivery]
//	running    → finishing  [engine's "finish" command]
//	idle       → finishing  [engine's "finish" command]
//	finishing  → finished   [all owned routines have completed]
//
// finished is terminal: the thread unregisters from its poller and its
// driver goroutine returns.
type ThreadState uint64

const (
	// ThreadRunning indicates the thread is actively draining its ready
	// queue, timer map, or poller.
	ThreadRunning ThreadState = 0
	// ThreadIdle indicates the thread has nothing to do and is blocked in
	// its poller wait with an unbounded timeout.
	ThreadIdle ThreadState = 1
	// ThreadFinishing indicates the engine has requested shutdown; the
	// thread continues draining until every owned routine finishes.
	ThreadFinishing ThreadState = 2
	// ThreadFinished is terminal.
	ThreadFinished ThreadState = 3
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadIdle:
		return "idle"
	case ThreadFinishing:
		return "finishing"
	case ThreadFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// threadState is a lock-free state machine with cache-line padding, to
// avoid false sharing between a thread's own driver goroutine (which reads
// and writes it constantly) and the engine or peer threads posting commands
// that need to check whether the target has already finished.
type threadState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      //nolint:unused
}

func newThreadState() *threadState {
	s := &threadState{}
	s.v.Store(uint64(ThreadRunning))
	return s
}

func (s *threadState) Load() ThreadState {
	return ThreadState(s.v.Load())
}

func (s *threadState) Store(state ThreadState) {
	s.v.Store(uint64(state))
}

// TryTransition performs a pure CAS, no validation of transition legality
// beyond the from/to pair the caller supplies.
func (s *threadState) TryTransition(from, to ThreadState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *threadState) IsFinished() bool {
	return s.Load() == ThreadFinished
}

// CanAcceptWork reports whether the thread will still process commands
// pushed to its inbound queue (finished threads have exited their driver
// loop and nothing will ever drain the queue again).
func (s *threadState) CanAcceptWork() bool {
	return s.Load() != ThreadFinished
}
