package routine

import "time"

// Start spawns task as a new routine on an engine-chosen thread, using the
// calling routine's own engine (spec §6 start(task, args...)). Panics if
// called from outside a routine; use Engine.Spawn from engine setup code
// instead.
func Start(task func()) *Routine {
	return currentRoutine().engine.Spawn(task)
}

// StartOn spawns task pinned to thread threadID, verbatim (spec §6
// start_on(thread_id, task, args...)).
func StartOn(threadID int, task func()) *Routine {
	return currentRoutine().engine.StartOn(threadID, task)
}

// FDPanic forces every routine suspended on read/write of fd, on any
// thread of the calling routine's engine, to wake with ErrInterrupted
// (spec §6 fd_panic).
func FDPanic(fd int) {
	currentRoutine().engine.FDPanic(fd)
}

// Sleep suspends the calling routine until the monotonic clock reaches
// now + d (spec §6 sleep(duration)).
func Sleep(d time.Duration) {
	SelectAny(EventTimer(d, func() struct{} { return struct{}{} }))
}
