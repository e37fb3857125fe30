// Package routine provides a user-space concurrency runtime: lightweight
// cooperative tasks ("routines") multiplexed over a small, fixed pool of OS
// threads, each driving its own event loop over a readiness-notification
// facility (epoll on Linux, kqueue on Darwin).
//
// # Architecture
//
// An [Engine] owns N [Thread] instances. Each Thread owns a ready queue, a
// timer map, a suspended-routine slot arena, a [FastPoller]-driven event
// loop, and an inbound command queue that any other thread (or the engine
// itself) can push to without blocking ([MPMCQueue]). Routines never
// migrate while suspended: a routine is owned by exactly one thread at a
// time, reachable from that thread's ready queue, a timer entry, a
// semaphore waiter list, or an event-loop subscription. Cross-thread
// wake-ups always go through a command-queue push to the owning thread,
// never direct mutation of its state.
//
// Synchronization primitives — [Channel], [Semaphore], [Mutex] — integrate
// with the scheduler's suspension protocol directly: an operation that
// cannot complete immediately parks the calling routine by recording a slot
// in the primitive's waiter structure and yielding control back to the
// thread's driver, which resumes some other ready routine.
//
// [SelectAny] composes any subset of channel/semaphore/mutex/I/O/timer
// waits into a single two-phase round: an opportunistic subscribe pass
// across all branches, followed by either an immediate synchronous
// callback (if some branch was already ready) or a suspend-and-resume
// round that runs exactly one winning branch's callback and cancels the
// rest.
//
// # Platform support
//
// The readiness facility is platform-native:
//   - Linux: epoll (poller_linux.go)
//   - Darwin: kqueue (poller_darwin.go)
//
// # Thread safety
//
// Channels, semaphores, and mutexes are safe to share across threads; each
// guards its counter and FIFO waiter list with its own sync.Mutex. A Thread's ready queue, timer map, and slot arena are NOT safe for
// concurrent access — they are touched only by that thread's own driver
// goroutine. Cross-thread wake-ups are posted through [MPMCQueue] to the
// target thread's inbound queue and folded in by the owning thread itself.
//
// # Usage
//
//	eng, err := routine.NewEngine(routine.WithThreads(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Shutdown(context.Background())
//
//	eng.Spawn(func() {
//	    ch := routine.NewChannel[int](1)
//	    routine.Start(func() {
//	        ch.Send(42)
//	    })
//	    v, ok := ch.Recv()
//	    fmt.Println(v, ok)
//	})
//
// # Error types
//
//   - [TimeoutError]: a blocking call's deadline elapsed.
//   - [ClosedError]: names a send on a closed channel, or a recv from a
//     closed and drained one. Channel operations do not return it; they
//     report that case as ok == false.
//   - [FatalError]: a syscall misuse or invariant violation the runtime
//     cannot recover from; passed to the configured onFatal hook
//     ([WithOnFatal]), after which the runtime panics with it.
//
// All error types implement [error], [errors.Unwrap], and Is()-based
// sentinel matching.
package routine
