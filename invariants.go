package routine

import "sync/atomic"

// globalStrictInvariants gates the spec §8 invariant assertions sprinkled
// through channel.go/semaphore.go. Channels and semaphores are plain value
// types constructed independently of any Engine (spec §3: "Channels are
// reference-counted values"), so there is no per-engine opts pointer to
// thread through their call sites; this mirrors logging.go's
// SetStructuredLogger global-sink pattern rather than engine.go's
// per-instance opts.
var globalStrictInvariants atomic.Bool

// SetStrictInvariants enables or disables runtime assertion checks of spec
// §8's channel and semaphore counter-algebra invariants process-wide.
// WithStrictInvariants calls this when resolved by NewEngine. Off by
// default; intended for tests, not production, since every guarded check
// costs a few extra comparisons under a lock already held.
func SetStrictInvariants(enabled bool) { globalStrictInvariants.Store(enabled) }

func strictInvariantsEnabled() bool { return globalStrictInvariants.Load() }

// assertInvariant raises a *FatalError (spec §7's "invariant violation"
// fatal kind) when cond is false and strict checking is enabled. There is
// no Engine to run an OnFatal hook through at these call sites, so it
// always panics directly.
func assertInvariant(cond bool, reason string) {
	if cond || !strictInvariantsEnabled() {
		return
	}
	raiseFatal(nil, reason, nil)
}
