package routine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Engine owns a fixed set of scheduler threads (spec §2, §4.7) and the
// current_routine_id counter. It is the runtime's entry point: construct
// one with NewEngine, seed work with Spawn/Start/StartOn, and either block
// on Run until every routine finishes or drive it in the background and
// Shutdown later.
type Engine struct {
	opts *engineOptions

	threads []*Thread

	nextRoutineID atomic.Uint64
	nextThread    atomic.Uint64

	idleMu      sync.Mutex
	idleThreads map[int]bool

	finishOnce sync.Once
	finishedWG sync.WaitGroup

	runOnce sync.Once
	started atomic.Bool
	stopped atomic.Bool

	routinesSpawned  atomic.Int64
	routinesFinished atomic.Int64
	pollWaitCount    atomic.Int64
}

// EngineStats is a point-in-time snapshot of engine-wide counters (spec
// SPEC_FULL.md §3's metrics-lite addition, grounded on the teacher's
// cache-line-padded atomic counters in state.go/sizeof.go rather than its
// promise-latency quantile estimators, which have no routine/channel
// equivalent here). The counter fields are plain atomic loads and
// ReadyQueueDepth is an unsynchronized read (see Stats); taking a snapshot
// never blocks a thread's driver loop.
type EngineStats struct {
	RoutinesSpawned  int64
	RoutinesFinished int64
	PollWaitCount    int64
	ReadyQueueDepth  int64
}

// Stats returns a snapshot of the engine's counters. ReadyQueueDepth reads
// each thread's queue length without synchronizing with that thread's
// driver goroutine, so it is a best-effort approximation intended for
// dashboards/diagnostics, not a value any scheduling decision depends on.
func (eng *Engine) Stats() EngineStats {
	var ready int64
	for _, t := range eng.threads {
		ready += int64(t.ready.Length())
	}
	return EngineStats{
		RoutinesSpawned:  eng.routinesSpawned.Load(),
		RoutinesFinished: eng.routinesFinished.Load(),
		PollWaitCount:    eng.pollWaitCount.Load(),
		ReadyQueueDepth:  ready,
	}
}

// NewEngine constructs an Engine with the given options (spec §6 run,
// §4.7). Threads are created and their driver goroutines started
// immediately; the engine is idle (no routines) until Spawn/Start/StartOn
// seeds work.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	cfg, err := resolveEngineOptions(opts)
	if err != nil {
		return nil, err
	}
	eng := &Engine{
		opts:        cfg,
		idleThreads: make(map[int]bool, cfg.threads),
	}
	eng.threads = make([]*Thread, cfg.threads)
	for i := 0; i < cfg.threads; i++ {
		t, terr := newThread(eng, i)
		if terr != nil {
			for j := 0; j < i; j++ {
				_ = eng.threads[j].loop.Close()
			}
			return nil, terr
		}
		eng.threads[i] = t
	}
	eng.finishedWG.Add(cfg.threads)
	for _, t := range eng.threads {
		go t.run()
	}
	return eng, nil
}

// Run seeds entry as the first routine (placed on thread 0, spec §6's
// run(n_threads, entry)) and blocks until every routine across every
// thread has finished.
func (eng *Engine) Run(entry func()) {
	eng.Spawn(entry)
	eng.Wait()
}

// Wait blocks until all threads have drained to idle with no live
// routines. It does not request shutdown; call Shutdown separately (or use
// Run, which combines Spawn+Wait for the common one-shot case).
func (eng *Engine) Wait() {
	for {
		eng.idleMu.Lock()
		allIdle := len(eng.idleThreads) == len(eng.threads)
		eng.idleMu.Unlock()
		if allIdle {
			return
		}
		eng.waitForIdleSignal()
	}
}

var _ = context.Background // retained for Shutdown's signature stability

// waitForIdleSignal blocks briefly, polling idle state. The runtime has no
// separate "all idle" broadcast channel; Wait is intended for test and
// one-shot Run use, not a hot path.
func (eng *Engine) waitForIdleSignal() {
	idleCh := make(chan struct{})
	go func() {
		for {
			eng.idleMu.Lock()
			n := len(eng.idleThreads)
			eng.idleMu.Unlock()
			if n == len(eng.threads) {
				close(idleCh)
				return
			}
		}
	}()
	<-idleCh
}

// notifyIdle records that thread id has nothing left to do (spec §4.3
// "posts a notify-idle(n_suspended) command to the engine").
func (eng *Engine) notifyIdle(id int, nSuspended int) {
	eng.idleMu.Lock()
	eng.idleThreads[id] = true
	eng.idleMu.Unlock()
}

// notifyRunning clears thread id's idle record on the idle→running
// transition (spec §4.3): idleThreads must reflect current idleness, not
// merely "has reported idle at some point," or Wait can return while a
// thread that went idle and was since handed new work is still running it.
func (eng *Engine) notifyRunning(id int) {
	eng.idleMu.Lock()
	delete(eng.idleThreads, id)
	eng.idleMu.Unlock()
}

// notifyThreadFinished records thread id's terminal transition (spec
// §4.7's notify_end_of_thread). Once every thread reports, the engine
// itself is done.
func (eng *Engine) notifyThreadFinished(id int) {
	eng.idleMu.Lock()
	delete(eng.idleThreads, id)
	eng.idleMu.Unlock()
	eng.finishedWG.Done()
}

// placeThread resolves the target thread index for a Start call with no
// explicit thread (spec §4.7's placement policy).
func (eng *Engine) placeThread() int {
	id := eng.nextThread.Add(1) - 1
	return eng.opts.placement(id, len(eng.threads))
}

// Spawn starts task as a new routine on an engine-chosen thread (spec §6
// start(task, args...), with no explicit thread). Callable from outside
// any routine (engine setup) as well as from within one.
func (eng *Engine) Spawn(task func()) *Routine {
	return eng.StartOn(eng.placeThread(), task)
}

// StartOn starts task as a new routine pinned to threads[id] verbatim
// (spec §6 start_on(thread_id, task, args...)).
func (eng *Engine) StartOn(id int, task func()) *Routine {
	if eng.stopped.Load() {
		return nil
	}
	rid := eng.nextRoutineID.Add(1)
	r := newRoutine(eng, rid, task)
	t := eng.threads[id%len(eng.threads)]
	eng.routinesSpawned.Add(1)
	logRoutineSpawned(eng.opts.logger, int64(t.id), int64(r.id))

	if cur := tryCurrentRoutine(); cur != nil && cur.thread == t {
		// Called from a routine already homed on the target thread: push
		// directly, no command-queue round trip needed.
		t.addRoutine(r)
		return r
	}
	t.pushCommand(command{kind: cmdAddRoutine, r: r})
	return r
}

// FDPanic forces every routine across every thread currently suspended on
// read/write of fd to wake with ErrInterrupted (spec §6 fd_panic, §4.7's
// fd_panic command, §4.2 send_fd_panic).
func (eng *Engine) FDPanic(fd int) {
	logFdPanic(eng.opts.logger, fd)
	for _, t := range eng.threads {
		t.pushCommand(command{kind: cmdFDPanic, fd: fd})
	}
}

// Shutdown requests every thread begin draining (spec §4.3's "finish"
// command) and blocks until all of them report finished, or ctx is
// cancelled first.
func (eng *Engine) Shutdown(ctx context.Context) error {
	eng.stopped.Store(true)
	eng.finishOnce.Do(func() {
		for _, t := range eng.threads {
			t.pushCommand(command{kind: cmdFinish})
		}
	})

	done := make(chan struct{})
	go func() {
		eng.finishedWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NThreads reports the number of scheduler threads the engine owns.
func (eng *Engine) NThreads() int { return len(eng.threads) }
