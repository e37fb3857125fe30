package routine

import (
	"testing"
	"time"
)

// TestDefaultIOTimeoutAppliesWhenUnspecified exercises WithDefaultIOTimeout:
// a Read called with DefaultTimeout should use the engine-configured
// default rather than blocking forever.
func TestDefaultIOTimeoutAppliesWhenUnspecified(t *testing.T) {
	eng, err := NewEngine(WithThreads(1), WithDefaultIOTimeout(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	rfd, _ := nonblockingPipe(t)
	result := make(chan error, 1)

	eng.Spawn(func() {
		buf := make([]byte, 8)
		_, err := Read(rfd, buf, DefaultTimeout)
		result <- err
	})

	select {
	case err := <-result:
		if _, ok := err.(*TimeoutError); !ok {
			t.Errorf("got %v, want *TimeoutError", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

// TestStrictInvariantsCleanChannelUse confirms WithStrictInvariants does
// not fire false positives on an ordinary channel round trip: enabling the
// checks must not change observable behavior for well-formed programs.
func TestStrictInvariantsCleanChannelUse(t *testing.T) {
	SetStrictInvariants(true)
	defer SetStrictInvariants(false)

	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	ch := NewChannel[int](1)
	done := make(chan int, 1)

	eng.Spawn(func() {
		ch.Send(42)
	})
	eng.Spawn(func() {
		v, ok := ch.Recv()
		if !ok {
			done <- -1
			return
		}
		done <- v
	})

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}
