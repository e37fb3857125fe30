package routine

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestMPMCQueueStress is spec §8 scenario 7: 16 producers each enqueue 1000
// items, 16 consumers drain the queue, and no item is duplicated or lost
// (checksum of 0..15999 equals 15999*16000/2).
func TestMPMCQueueStress(t *testing.T) {
	const (
		producers   = 16
		consumers   = 16
		perProducer = 1000
		totalItems  = producers * perProducer
	)
	q := NewMPMCQueue(1024)

	var nextValue atomic.Int64
	var produced atomic.Int64
	var wgProd sync.WaitGroup
	wgProd.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wgProd.Done()
			for i := 0; i < perProducer; i++ {
				v := int(nextValue.Add(1) - 1)
				// kind is irrelevant here; fd is reused purely as a scalar
				// payload slot to carry the stress test's sequence number.
				for {
					if err := q.Write(command{fd: v}); err == nil {
						produced.Add(1)
						break
					}
				}
			}
		}()
	}

	var sum atomic.Int64
	var count atomic.Int64
	var drained atomic.Bool
	var wgCons sync.WaitGroup
	wgCons.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer wgCons.Done()
			for {
				cmd, err := q.Read()
				if err == nil {
					sum.Add(int64(cmd.fd))
					count.Add(1)
					continue
				}
				if drained.Load() && count.Load() == int64(totalItems) {
					return
				}
			}
		}()
	}

	wgProd.Wait()
	drained.Store(true)
	wgCons.Wait()

	if count.Load() != int64(totalItems) {
		t.Fatalf("got %d items, want %d", count.Load(), totalItems)
	}
	want := int64(totalItems-1) * int64(totalItems) / 2
	if sum.Load() != want {
		t.Fatalf("checksum mismatch: got %d, want %d", sum.Load(), want)
	}
}

func TestMPMCQueueWouldBlockWhenFull(t *testing.T) {
	q := NewMPMCQueue(2) // rounds to 2
	if err := q.Write(command{fd: 1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := q.Write(command{fd: 2}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if err := q.Write(command{fd: 3}); err != ErrWouldBlock {
		t.Fatalf("got %v, want ErrWouldBlock on full queue", err)
	}
	c, err := q.Read()
	if err != nil || c.fd != 1 {
		t.Fatalf("got (%v, %v), want (fd=1, nil)", c, err)
	}
	if err := q.Write(command{fd: 3}); err != nil {
		t.Fatalf("write after drain: %v", err)
	}
}
