package routine

import (
	"testing"
	"time"
)

func TestSleepWakesAfterDuration(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	start := time.Now()
	elapsed := make(chan time.Duration, 1)
	eng.Spawn(func() {
		Sleep(40 * time.Millisecond)
		elapsed <- time.Since(start)
	})

	select {
	case d := <-elapsed:
		if d < 30*time.Millisecond {
			t.Errorf("woke too early: %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestEventTimerZeroFiresImmediately(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	done := make(chan bool, 1)
	eng.Spawn(func() {
		fired := SelectAny(EventTimer(0, func() bool { return true }))
		done <- fired
	})

	select {
	case fired := <-done:
		if !fired {
			t.Error("zero-duration timer did not fire")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestMultipleTimersFireInOrder schedules several timers with different
// durations on the same thread and checks they resolve in deadline order.
func TestMultipleTimersFireInOrder(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	order := make(chan int, 3)
	durations := []time.Duration{
		60 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
	}
	for _, d := range durations {
		d := d
		eng.Spawn(func() {
			SelectAny(EventTimer(d, func() struct{} { return struct{}{} }))
			order <- int(d / time.Millisecond)
		})
	}

	var got []int
	for i := 0; i < 3; i++ {
		select {
		case v := <-order:
			got = append(got, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	want := []int{10, 30, 60}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("fire order mismatch at %d: got %v, want %v", i, got, want)
			break
		}
	}
}
