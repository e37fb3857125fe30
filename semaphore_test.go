package routine

import (
	"testing"
	"time"
)

// TestSemaphoreRoundTrip is spec §8's semaphore law: for any sequence of
// wait/post pairs, the final counter equals the initial counter.
func TestSemaphoreRoundTrip(t *testing.T) {
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	sem := NewSemaphore(2)
	done := make(chan struct{}, 1)

	eng.Spawn(func() {
		for i := 0; i < 10; i++ {
			sem.Wait()
			sem.Post()
		}
		sem.mu.Lock()
		final := sem.counter
		sem.mu.Unlock()
		if final != 2 {
			t.Errorf("final counter = %d, want initial 2", final)
		}
		done <- struct{}{}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSemaphoreWaitBlocksUntilPost(t *testing.T) {
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	sem := NewSemaphore(0)
	order := make(chan string, 2)

	eng.Spawn(func() {
		sem.Wait()
		order <- "waiter"
	})
	eng.Spawn(func() {
		time.Sleep(20 * time.Millisecond)
		order <- "poster"
		sem.Post()
	})

	first := <-order
	second := <-order
	if first != "poster" || second != "waiter" {
		t.Errorf("got order %q, %q; want poster before waiter", first, second)
	}
}

func TestMutexSelectPair(t *testing.T) {
	// Spec §8 scenario 5: both m1 and m2 held; routine selects lock(m1),
	// lock(m2); whichever the holder unlocks first wins that branch.
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	m1 := NewMutex()
	m2 := NewMutex()
	// Lock suspends through SelectAny, which must run inside a routine.
	held := make(chan struct{})
	eng.Spawn(func() {
		m1.Lock()
		m2.Lock()
		close(held)
	})
	<-held

	winner := make(chan int, 1)
	eng.Spawn(func() {
		w := SelectAny(
			EventLock(m1, func() int { return 1 }),
			EventLock(m2, func() int { return 2 }),
		)
		winner <- w
	})

	eng.Spawn(func() {
		time.Sleep(20 * time.Millisecond)
		m2.Unlock()
	})

	select {
	case w := <-winner:
		if w != 2 {
			t.Errorf("got branch %d, want 2 (m2 unlocked first)", w)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
