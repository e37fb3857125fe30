package routine

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// TestProducerConsumerBackpressure exercises a producer/consumer pipeline
// over a capacity-1 Channel used as a backpressure gate (SPEC_FULL.md §4,
// supplemented from original_source/examples/readme3.cc): a producer that
// outruns its consumer must block on Send rather than buffer unboundedly,
// and every value must still arrive in order.
func TestProducerConsumerBackpressure(t *testing.T) {
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	const n = 50
	ch := NewChannel[int](1)
	got := make(chan []int, 1)
	sendFailedAt := make(chan int, 1)

	eng.Spawn(func() {
		for i := 0; i < n; i++ {
			if !ch.Send(i) {
				sendFailedAt <- i
				return
			}
		}
		ch.Close()
	})

	eng.Spawn(func() {
		vals := make([]int, 0, n)
		for {
			v, ok := ch.Recv()
			if !ok {
				got <- vals
				return
			}
			vals = append(vals, v)
		}
	})

	select {
	case i := <-sendFailedAt:
		t.Fatalf("send %d failed on open channel", i)
	case vals := <-got:
		if len(vals) != n {
			t.Fatalf("got %d values, want %d", len(vals), n)
		}
		for i, v := range vals {
			if v != i {
				t.Fatalf("value %d: got %d, want %d", i, v, i)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

// TestMultiListenerAcceptLoop is SPEC_FULL.md §4's multi-listener accept
// loop (supplemented from original_source/test/sockets.cc): one routine
// repeatedly select_any-s over Accept on two listening sockets, servicing
// whichever one a connector happens to dial, across several connections.
func TestMultiListenerAcceptLoop(t *testing.T) {
	eng, err := NewEngine(WithThreads(2))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown(testCtx(t))

	l1, addr1 := newBoundListener(t)
	l2, addr2 := newBoundListener(t)

	const rounds = 6
	served := make(chan int, 1)

	eng.Spawn(func() {
		servedByListener := 0
		for i := 0; i < rounds; i++ {
			w := SelectAny(
				EventAccept(l1, func(newfd int, sa unix.Sockaddr, err error) int {
					if newfd >= 0 {
						unix.Close(newfd)
					}
					return 1
				}),
				EventAccept(l2, func(newfd int, sa unix.Sockaddr, err error) int {
					if newfd >= 0 {
						unix.Close(newfd)
					}
					return 2
				}),
			)
			if w == 2 {
				servedByListener++
			}
		}
		served <- servedByListener
	})

	for i := 0; i < rounds; i++ {
		target := addr1
		if i%2 == 1 {
			target = addr2
		}
		eng.Spawn(func() {
			time.Sleep(time.Duration(5+5*i) * time.Millisecond)
			cfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
			if err != nil {
				return
			}
			defer unix.Close(cfd)
			unix.SetNonblock(cfd, true)
			_ = Connect(cfd, target, 1000)
		})
	}

	select {
	case n := <-served:
		if n != rounds/2 {
			t.Errorf("got %d connections via listener 2, want %d", n, rounds/2)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

// newBoundListener creates a non-blocking TCP listener on an
// kernel-assigned loopback port, returning its fd and bindable address.
func newBoundListener(t *testing.T) (int, *unix.SockaddrInet4) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(fd, 4); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd, sa.(*unix.SockaddrInet4)
}
