// FastPoller is the readiness-facility wrapper of spec §4.2: a
// level-triggered interest set over file descriptors (an fd stays
// registered until UnregisterFD), backed by epoll on Linux and kqueue on
// Darwin.
//
// RegisterFD/UnregisterFD/ModifyFD/PollIO are implemented per platform:
//   - poller_linux.go (epoll)
//   - poller_darwin.go (kqueue)
//
// Usage:
//
//	var p FastPoller
//	p.Init()
//	p.RegisterFD(fd, EventRead, func(events IOEvents) { ... })
//
// Always call UnregisterFD before closing a file descriptor to prevent
// stale event delivery from fd recycling.
package routine
