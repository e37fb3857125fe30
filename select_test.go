package routine

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// nonblockingPipe returns a pipe(2) pair with both ends set O_NONBLOCK, as
// required by Read/Write/EventRead/EventWrite (spec §6).
func nonblockingPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("SetNonblock: %v", err)
		}
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// TestReadTimeoutThenSuccess is spec §8 scenario 1: a read with a timeout
// that fires once (nothing written yet), then a second read succeeds once
// data arrives.
func TestReadTimeoutThenSuccess(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	rfd, wfd := nonblockingPipe(t)
	result := make(chan string, 1)

	eng.Spawn(func() {
		buf := make([]byte, 8)
		_, err := Read(rfd, buf, 30)
		if err == nil {
			result <- "unexpected-success"
			return
		}
		if _, ok := err.(*TimeoutError); !ok {
			result <- "wrong-error:" + err.Error()
			return
		}
		n, err := Read(rfd, buf, 2000)
		if err != nil {
			result <- "second-read-failed:" + err.Error()
			return
		}
		result <- string(buf[:n])
	})

	time.AfterFunc(80*time.Millisecond, func() {
		unix.Write(wfd, []byte("hello"))
	})

	select {
	case got := <-result:
		if got != "hello" {
			t.Errorf("got %q, want %q", got, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

// TestSelectOnTwoPipes is spec §8 scenario 2: select_any over reads on two
// pipes; only the one written to should resolve.
func TestSelectOnTwoPipes(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	r1, w1 := nonblockingPipe(t)
	r2, w2 := nonblockingPipe(t)
	_ = w1
	winner := make(chan int, 1)

	eng.Spawn(func() {
		buf1 := make([]byte, 8)
		buf2 := make([]byte, 8)
		w := SelectAny(
			EventRead(r1, buf1, func(n int, err error) int { return 1 }),
			EventRead(r2, buf2, func(n int, err error) int { return 2 }),
		)
		winner <- w
	})

	time.AfterFunc(30*time.Millisecond, func() {
		unix.Write(w2, []byte("x"))
	})

	select {
	case w := <-winner:
		if w != 2 {
			t.Errorf("got branch %d, want 2", w)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

// TestSelectTimerVsChannel is spec §8 scenario 3: select_any over a timer
// and a channel recv; the channel send beats the (longer) timer.
func TestSelectTimerVsChannel(t *testing.T) {
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	ch := NewChannel[int](0)
	winner := make(chan string, 1)

	eng.Spawn(func() {
		w := SelectAny(
			EventTimer(2*time.Second, func() string { return "timer" }),
			EventChannelRecv(ch, func(v int, ok bool) string { return "channel" }),
		)
		winner <- w
	})
	eng.Spawn(func() {
		time.Sleep(20 * time.Millisecond)
		ch.Send(7)
	})

	select {
	case w := <-winner:
		if w != "channel" {
			t.Errorf("got %q, want %q", w, "channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

// TestSelectCancelDoesNotLoseChannelValue is spec §8 scenario 3's full
// sequence: select_any(recv(c1), recv(c2), timer(0ms)) attaches waiters on
// both channels, the timer wins immediately and cancels them, then values
// are sent on c1 and c2 and a second select must receive c1's value rather
// than lose it to the now-dead waiters (invariant 2, "lost items = 0").
func TestSelectCancelDoesNotLoseChannelValue(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	c1 := NewChannel[int](0)
	c2 := NewChannel[int](0)
	result := make(chan int, 1)

	eng.Spawn(func() {
		w := SelectAny(
			EventChannelRecv(c1, func(v int, ok bool) string { return "c1" }),
			EventChannelRecv(c2, func(v int, ok bool) string { return "c2" }),
			EventTimer(0, func() string { return "timer" }),
		)
		if w != "timer" {
			t.Errorf("first select: got %q, want %q", w, "timer")
		}

		// Separate routines so the sends rendezvous with the second
		// select's fresh waiters rather than deadlocking this one against
		// its own cancelled (capacity-0, no-buffer) recv attempts.
		eng.Spawn(func() { c1.Send(2) })
		eng.Spawn(func() { c2.Send(3) })

		x := SelectAny(
			EventChannelRecv(c1, func(v int, ok bool) int { return v }),
			EventChannelRecv(c2, func(v int, ok bool) int { return v }),
		)
		result <- x
	})

	select {
	case x := <-result:
		if x != 2 {
			t.Errorf("second select: got %d, want %d (value lost to a cancelled waiter)", x, 2)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: value sent on c1/c2 was lost to a stale cancelled waiter")
	}
}

// TestSelectOnClosedChannels is spec §8 scenario 4: select_any over recv on
// two channels, one already closed; the closed one resolves immediately
// with ok == false rather than blocking.
func TestSelectOnClosedChannels(t *testing.T) {
	eng, err := NewEngine(WithThreads(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	open := NewChannel[int](0)
	closed := NewChannel[int](0)
	closed.Close()

	type outcome struct {
		branch int
		ok     bool
	}
	result := make(chan outcome, 1)

	eng.Spawn(func() {
		o := SelectAny(
			EventChannelRecv(open, func(v int, ok bool) outcome { return outcome{1, ok} }),
			EventChannelRecv(closed, func(v int, ok bool) outcome { return outcome{2, ok} }),
		)
		result <- o
	})

	select {
	case o := <-result:
		if o.branch != 2 || o.ok {
			t.Errorf("got %+v, want branch 2 with ok=false", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestAcceptConnectRace is spec §8 scenario 6: select_any over accept on a
// listener and a timer; a concurrent connect should resolve the accept
// branch before the timer fires.
func TestAcceptConnectRace(t *testing.T) {
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(lfd)
	if err := unix.SetNonblock(lfd, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	addr := &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Bind(lfd, addr); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(lfd, 1); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sa, err := unix.Getsockname(lfd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	bound := sa.(*unix.SockaddrInet4)

	winner := make(chan string, 1)
	eng.Spawn(func() {
		w := SelectAny(
			EventAccept(lfd, func(newfd int, sa unix.Sockaddr, err error) int {
				if newfd >= 0 {
					unix.Close(newfd)
				}
				return 1
			}),
			EventTimer(2*time.Second, func() int { return 2 }),
		)
		if w == 1 {
			winner <- "accept"
		} else {
			winner <- "timer"
		}
	})

	eng.Spawn(func() {
		time.Sleep(30 * time.Millisecond)
		cfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			return
		}
		defer unix.Close(cfd)
		unix.SetNonblock(cfd, true)
		_ = Connect(cfd, &unix.SockaddrInet4{Port: bound.Port, Addr: bound.Addr}, 1000)
	})

	select {
	case w := <-winner:
		if w != "accept" {
			t.Errorf("got %q, want %q", w, "accept")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}
