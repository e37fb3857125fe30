//go:build darwin

package routine

import (
	"syscall"
)

// createWakeFd creates a self-pipe used to wake a thread's poller from a
// cross-thread command push (kqueue has no eventfd equivalent).
func createWakeFd() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func closeWakeFd(readFd, writeFd int) error {
	if readFd >= 0 {
		_ = syscall.Close(readFd)
	}
	if writeFd >= 0 && writeFd != readFd {
		_ = syscall.Close(writeFd)
	}
	return nil
}

// drainWakeUpPipe empties the self-pipe's read end.
func drainWakeUpPipe(readFd int) error {
	var buf [64]byte
	for {
		if _, err := syscall.Read(readFd, buf[:]); err != nil {
			return nil
		}
	}
}

// submitWakeup writes a single byte to the self-pipe, per spec §4.2's
// send_event.
func submitWakeup(writeFd int) error {
	_, err := syscall.Write(writeFd, []byte{1})
	if err == syscall.EAGAIN {
		// pipe buffer already has a pending wake byte
		return nil
	}
	return err
}
