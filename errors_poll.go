package routine

import "golang.org/x/sys/unix"

// isRetryablePollErr reports whether err from the readiness facility's wait
// syscall should be silently retried rather than surfaced as fatal (spec
// §4.2: "EINTR/transient EBADF from the wait syscall are retried silently;
// EFAULT/EINVAL are fatal."). FastPoller.PollIO already absorbs EINTR; this
// additionally covers EBADF, which can occur transiently if a racing
// UnregisterFD closes an fd mid-wait.
func isRetryablePollErr(err error) bool {
	return err == unix.EINTR || err == unix.EBADF
}

// isFatalPollErr reports whether err indicates syscall misuse the poller
// should never surface in correct operation (spec §4.2, §7).
func isFatalPollErr(err error) bool {
	return err == unix.EFAULT || err == unix.EINVAL
}
