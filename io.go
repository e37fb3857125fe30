package routine

import (
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout, passed as the timeoutMs argument to any wrapper in this
// file, requests the calling routine's engine-configured default I/O
// timeout (WithDefaultIOTimeout, options.go) instead of an explicit value.
const DefaultTimeout = math.MinInt32

// resolveTimeoutMs substitutes DefaultTimeout for the current routine's
// engine's configured default (spec SPEC_FULL.md §2). Every exported
// wrapper below runs on a routine's own goroutine (they suspend through
// SelectAny, which requires one), so currentRoutine always resolves here.
func resolveTimeoutMs(timeoutMs int) int {
	if timeoutMs != DefaultTimeout {
		return timeoutMs
	}
	d := currentRoutine().thread.engine.opts.defaultIOTimeout
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}

// ioResult is the outcome of one non-blocking syscall attempt, shared by
// every wrapper in this file.
type ioResult struct {
	n   int
	sa  unix.Sockaddr
	err error
}

// ioEvent builds a select branch around one POSIX-style non-blocking
// syscall attempt (spec §6's read/write/accept/connect/send/recv, §4.6).
// attempt must itself be non-blocking and report wouldBlock=true on
// EAGAIN/EWOULDBLOCK; fd must already be in non-blocking mode (spec §6).
func ioEvent(fd int, write bool, attempt func() (ioResult, bool)) Event[ioResult] {
	var (
		result   ioResult
		attached bool
		loop     *EventLoop
		id       uint64
	)
	return Event[ioResult]{
		kind: selectKindIO,
		subscribe: func(r *Routine, index int) bool {
			if res, wouldBlock := attempt(); !wouldBlock {
				result = res
				return true
			}
			loop = r.thread.loop
			onReady := func(st ioStatus) {
				_ = loop.Unregister(id)
				if st.err != nil {
					result = ioResult{err: st.err}
				} else if res, wouldBlock := attempt(); !wouldBlock {
					result = res
				} else {
					result = ioResult{err: ErrWouldBlock}
				}
				if r.eventHappened(index, selectKindIO) {
					r.thread.suspendedCount--
					r.thread.ready.Push(r)
				}
			}
			var err error
			if write {
				id, err = loop.RegisterWrite(fd, onReady)
			} else {
				id, err = loop.RegisterRead(fd, onReady)
			}
			if err != nil {
				result = ioResult{err: err}
				return true
			}
			attached = true
			return false
		},
		cancel: func() {
			if attached {
				_ = loop.Unregister(id)
			}
		},
		invoke: func() ioResult { return result },
	}
}

// withTimeout composes an I/O event with an optional timer branch
// (negative timeoutMs means infinite: no timer branch at all; 0 is a
// single non-blocking attempt handled by the caller before ever reaching
// SelectAny).
func withTimeout(op string, ev Event[ioResult], timeoutMs int) ioResult {
	if timeoutMs < 0 {
		return SelectAny(ev)
	}
	timedOut := false
	timer := EventTimer(time.Duration(timeoutMs)*time.Millisecond, func() ioResult {
		timedOut = true
		return ioResult{}
	})
	res := SelectAny(ev, timer)
	if timedOut {
		return ioResult{err: &TimeoutError{Op: op}}
	}
	return res
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// Read reads up to len(buf) bytes from fd, suspending the calling routine
// if it would block (spec §6 read(fd, buf, n[, timeout])). timeoutMs < 0
// means infinite, 0 a single non-blocking attempt.
func Read(fd int, buf []byte, timeoutMs int) (int, error) {
	timeoutMs = resolveTimeoutMs(timeoutMs)
	attempt := func() (ioResult, bool) {
		n, err := readFD(fd, buf)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: n, err: err}, false
	}
	if timeoutMs == 0 {
		res, _ := attempt()
		return res.n, res.err
	}
	res := withTimeout("read", ioEvent(fd, false, attempt), timeoutMs)
	return res.n, res.err
}

// Write writes up to len(buf) bytes to fd (spec §6 write(fd, buf, n[, timeout])).
func Write(fd int, buf []byte, timeoutMs int) (int, error) {
	timeoutMs = resolveTimeoutMs(timeoutMs)
	attempt := func() (ioResult, bool) {
		n, err := writeFD(fd, buf)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: n, err: err}, false
	}
	if timeoutMs == 0 {
		res, _ := attempt()
		return res.n, res.err
	}
	res := withTimeout("write", ioEvent(fd, true, attempt), timeoutMs)
	return res.n, res.err
}

// Accept accepts a connection on listening socket fd (spec §6
// accept(sock, addr, addrlen[, timeout])).
func Accept(fd int, timeoutMs int) (int, unix.Sockaddr, error) {
	timeoutMs = resolveTimeoutMs(timeoutMs)
	attempt := func() (ioResult, bool) {
		nfd, sa, err := unix.Accept(fd)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: nfd, sa: sa, err: err}, false
	}
	if timeoutMs == 0 {
		res, _ := attempt()
		return res.n, res.sa, res.err
	}
	res := withTimeout("accept", ioEvent(fd, false, attempt), timeoutMs)
	return res.n, res.sa, res.err
}

// Connect initiates a non-blocking connect on fd (spec §6
// connect(sock, addr, addrlen[, timeout])). A non-blocking connect that
// has not yet completed reports EINPROGRESS, which this treats the same
// as EAGAIN: the routine suspends on write-readiness, which signals
// connect completion per POSIX convention.
func Connect(fd int, sa unix.Sockaddr, timeoutMs int) error {
	timeoutMs = resolveTimeoutMs(timeoutMs)
	first := true
	attempt := func() (ioResult, bool) {
		if !first {
			errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if gerr != nil {
				return ioResult{err: gerr}, false
			}
			if errno != 0 {
				return ioResult{err: unix.Errno(errno)}, false
			}
			return ioResult{}, false
		}
		first = false
		err := unix.Connect(fd, sa)
		if err != nil && (isWouldBlock(err) || err == unix.EINPROGRESS) {
			return ioResult{}, true
		}
		return ioResult{err: err}, false
	}
	if timeoutMs == 0 {
		res, _ := attempt()
		return res.err
	}
	res := withTimeout("connect", ioEvent(fd, true, attempt), timeoutMs)
	return res.err
}

// Send sends buf on socket fd with the given flags (spec §6
// send(sock, buf, n, flags[, timeout])).
func Send(fd int, buf []byte, flags int, timeoutMs int) (int, error) {
	timeoutMs = resolveTimeoutMs(timeoutMs)
	attempt := func() (ioResult, bool) {
		err := unix.Send(fd, buf, flags)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		n := 0
		if err == nil {
			n = len(buf)
		}
		return ioResult{n: n, err: err}, false
	}
	if timeoutMs == 0 {
		res, _ := attempt()
		return res.n, res.err
	}
	res := withTimeout("send", ioEvent(fd, true, attempt), timeoutMs)
	return res.n, res.err
}

// Recv receives into buf from socket fd with the given flags (spec §6
// recv(sock, buf, n, flags[, timeout])).
func Recv(fd int, buf []byte, flags int, timeoutMs int) (int, error) {
	timeoutMs = resolveTimeoutMs(timeoutMs)
	attempt := func() (ioResult, bool) {
		n, _, err := unix.Recvfrom(fd, buf, flags)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: n, err: err}, false
	}
	if timeoutMs == 0 {
		res, _ := attempt()
		return res.n, res.err
	}
	res := withTimeout("recv", ioEvent(fd, false, attempt), timeoutMs)
	return res.n, res.err
}

// EventRead builds a select branch around a single non-blocking Read
// attempt (spec §6 event constructors used inside select_any).
func EventRead(fd int, buf []byte, cb func(n int, err error) int) Event[int] {
	ev := ioEvent(fd, false, func() (ioResult, bool) {
		n, err := readFD(fd, buf)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: n, err: err}, false
	})
	return mapIOEvent(ev, cb)
}

// EventWrite builds a select branch around a single non-blocking Write
// attempt.
func EventWrite(fd int, buf []byte, cb func(n int, err error) int) Event[int] {
	ev := ioEvent(fd, true, func() (ioResult, bool) {
		n, err := writeFD(fd, buf)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: n, err: err}, false
	})
	return mapIOEvent(ev, cb)
}

// EventAccept builds a select branch around a single non-blocking Accept
// attempt (spec §8 scenario 6).
func EventAccept(fd int, cb func(newfd int, sa unix.Sockaddr, err error) int) Event[int] {
	ev := ioEvent(fd, false, func() (ioResult, bool) {
		nfd, sa, err := unix.Accept(fd)
		if err != nil && isWouldBlock(err) {
			return ioResult{}, true
		}
		return ioResult{n: nfd, sa: sa, err: err}, false
	})
	return Event[int]{
		kind:      ev.kind,
		subscribe: ev.subscribe,
		cancel:    ev.cancel,
		invoke: func() int {
			r := ev.invoke()
			return cb(r.n, r.sa, r.err)
		},
	}
}

// EventConnect builds a select branch around a single non-blocking Connect
// attempt (spec §8 scenario 6).
func EventConnect(fd int, sa unix.Sockaddr, cb func(err error) int) Event[int] {
	first := true
	ev := ioEvent(fd, true, func() (ioResult, bool) {
		if !first {
			errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if gerr != nil {
				return ioResult{err: gerr}, false
			}
			if errno != 0 {
				return ioResult{err: unix.Errno(errno)}, false
			}
			return ioResult{}, false
		}
		first = false
		err := unix.Connect(fd, sa)
		if err != nil && (isWouldBlock(err) || err == unix.EINPROGRESS) {
			return ioResult{}, true
		}
		return ioResult{err: err}, false
	})
	return Event[int]{
		kind:      ev.kind,
		subscribe: ev.subscribe,
		cancel:    ev.cancel,
		invoke: func() int {
			r := ev.invoke()
			return cb(r.err)
		},
	}
}

func mapIOEvent(ev Event[ioResult], cb func(n int, err error) int) Event[int] {
	return Event[int]{
		kind:      ev.kind,
		subscribe: ev.subscribe,
		cancel:    ev.cancel,
		invoke: func() int {
			r := ev.invoke()
			return cb(r.n, r.err)
		},
	}
}
