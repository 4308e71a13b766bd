//go:build linux

// Package netpoll provides a minimal epoll-based readiness source used by
// the reactor. It exists because the stdlib net package gives no access to
// raw readiness events on non-blocking sockets, which the single-threaded
// reactor model requires.
package netpoll

import (
	"golang.org/x/sys/unix"
)

// Event is the readiness state reported for a file descriptor.
type Event struct {
	Fd       int32
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

// Poller wraps a Linux epoll instance in level-triggered mode. Level
// triggering is deliberate: the reactor re-arms interest explicitly
// (reregister) rather than relying on edge-triggered semantics, matching
// the coalescing behavior documented for the reactor component.
type Poller struct {
	fd int
}

// NewPoller creates a new epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd}, nil
}

func interestMask(read, write bool) uint32 {
	var events uint32 = unix.EPOLLRDHUP
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	return events
}

// Add registers fd for the given interest set.
func (p *Poller) Add(fd int, read, write bool) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: interestMask(read, write),
		Fd:     int32(fd),
	})
}

// Modify updates fd's interest set.
func (p *Poller) Modify(fd int, read, write bool) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: interestMask(read, write),
		Fd:     int32(fd),
	})
}

// Remove deregisters fd. It is not an error to remove an fd that was
// already closed out from under the poller.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

// Wait blocks until at least one fd is ready or timeoutMillis elapses
// (-1 blocks indefinitely, 0 polls without blocking).
func (p *Poller) Wait(timeoutMillis int, events []unix.EpollEvent) ([]Event, error) {
	n, err := unix.EpollWait(p.fd, events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		out = append(out, Event{
			Fd:       ev.Fd,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Error:    ev.Events&unix.EPOLLERR != 0,
			HangUp:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}

// Close releases the epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}
