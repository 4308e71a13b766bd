//go:build linux

package core

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/raftkit/raftnet/pkg/raft/netpoll"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// ReadyHandler is implemented by the server core and driven by the
// reactor's event loop (§4.5).
type ReadyHandler interface {
	// OnReady is called once per readiness event for a registered
	// connection handle.
	OnReady(handle types.ConnectionHandle, readable, writable, hangup bool)

	// OnTimeout is called once per fired timer, in deadline order.
	OnTimeout(payload interface{})
}

const maxEpollEvents = 256

// Reactor is the single-threaded, cooperative event loop: it polls a
// readiness source and a timer wheel and dispatches both to a
// ReadyHandler. It never calls back into consensus directly; all it does
// is translate socket/timer events into handler calls (§4.5).
type Reactor struct {
	poller     *netpoll.Poller
	fdToHandle map[int]types.ConnectionHandle
	rawEvents  []unix.EpollEvent
}

// NewReactor creates a reactor with its own epoll instance.
func NewReactor() (*Reactor, error) {
	p, err := netpoll.NewPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:     p,
		fdToHandle: make(map[int]types.ConnectionHandle),
		rawEvents:  make([]unix.EpollEvent, maxEpollEvents),
	}, nil
}

// Register arms interest for handle's fd.
func (r *Reactor) Register(handle types.ConnectionHandle, fd int, read, write bool) error {
	if err := r.poller.Add(fd, read, write); err != nil {
		return types.ErrConnectionRegisterFailed
	}
	r.fdToHandle[fd] = handle
	return nil
}

// Reregister updates the interest mask for handle's fd, used after a
// partial write or when the outbound queue transitions empty<->non-empty.
func (r *Reactor) Reregister(fd int, read, write bool) error {
	if err := r.poller.Modify(fd, read, write); err != nil {
		return types.ErrConnectionRegisterFailed
	}
	return nil
}

// Deregister removes fd from the readiness source.
func (r *Reactor) Deregister(fd int) {
	_ = r.poller.Remove(fd)
	delete(r.fdToHandle, fd)
}

// Close releases the underlying epoll fd.
func (r *Reactor) Close() error {
	return r.poller.Close()
}

// Tick blocks for at most the time until the wheel's next deadline (or
// at most 250ms when no timers are armed), then dispatches every
// readiness event and every fired timer to handler. It returns promptly
// after one such round; callers loop it from Run.
func (r *Reactor) Tick(wheel *Wheel, handler ReadyHandler) error {
	// Cap the wait even when idle so Run's stop channel is rechecked
	// promptly instead of blocking in epoll_wait forever.
	const idlePollMillis = 250
	timeout := idlePollMillis
	if deadline, ok := wheel.NextDeadline(); ok {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timeout = int(d / time.Millisecond)
	}

	events, err := r.poller.Wait(timeout, r.rawEvents)
	if err != nil {
		return err
	}
	for _, ev := range events {
		handle, ok := r.fdToHandle[int(ev.Fd)]
		if !ok {
			continue
		}
		handler.OnReady(handle, ev.Readable, ev.Writable, ev.Error || ev.HangUp)
	}

	for _, fired := range wheel.PopExpired(time.Now()) {
		handler.OnTimeout(fired.Payload)
	}
	return nil
}

// Run drives Tick in a loop until stop is closed.
func (r *Reactor) Run(wheel *Wheel, handler ReadyHandler, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := r.Tick(wheel, handler); err != nil {
			return err
		}
	}
}
