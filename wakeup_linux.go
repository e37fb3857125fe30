//go:build linux

package routine

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const (
	EFD_CLOEXEC  = unix.EFD_CLOEXEC
	EFD_NONBLOCK = unix.EFD_NONBLOCK
)

// createWakeFd creates an eventfd used to wake a thread's poller from a
// cross-thread command push. The same fd serves as both read and write end.
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}

func closeWakeFd(readFd, writeFd int) error {
	if readFd >= 0 {
		_ = unix.Close(readFd)
	}
	return nil
}

// drainWakeUpPipe empties a wake eventfd so a subsequent register_event
// dispatch doesn't immediately fire again for an already-delivered wake.
func drainWakeUpPipe(readFd int) error {
	var buf [8]byte
	for {
		if _, err := unix.Read(readFd, buf[:]); err != nil {
			return nil
		}
	}
}

// submitWakeup signals the wake eventfd, per spec §4.2's send_event.
func submitWakeup(writeFd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(writeFd, buf[:])
	if err == unix.EAGAIN {
		// counter already non-zero; a wake is already pending
		return nil
	}
	return err
}
