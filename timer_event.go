package routine

import "time"

// EventTimer builds a select branch that fires once after d elapses (spec
// §4.4, §6 event_timer(duration, cb)). Several timer branches in one
// SelectAny call each attach their own timer entry; the one with the
// earliest deadline wins and the others are cancelled.
func EventTimer[R any](d time.Duration, cb func() R) Event[R] {
	var (
		entry    *timerEntry
		slotIdx  uint32
		attached bool
		home     *Thread
	)
	return Event[R]{
		kind: selectKindTimer,
		subscribe: func(r *Routine, index int) bool {
			if d <= 0 {
				return true
			}
			home = r.thread
			slotIdx = home.slots.Alloc(r, index)
			entry = home.timers.Add(time.Now().Add(d), slotIdx)
			attached = true
			return false
		},
		cancel: func() {
			if attached {
				home.slots.Invalidate(slotIdx)
				home.timers.Cancel(entry)
			}
		},
		invoke: cb,
	}
}
