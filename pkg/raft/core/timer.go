package core

import (
	"container/heap"
	"time"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

// ConsensusTimeoutPayload is the timer-wheel payload for an election or
// heartbeat deadline known to consensus.
type ConsensusTimeoutPayload struct {
	Kind types.ConsensusTimeoutKind
}

// ReconnectPayload is the timer-wheel payload for a peer's back-off
// expiry.
type ReconnectPayload struct {
	Handle types.ConnectionHandle
}

type timerEntry struct {
	handle    types.TimerHandle
	deadline  time.Time
	payload   interface{}
	cancelled bool
	index     int // heap index, maintained by container/heap
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel schedules and cancels one-shot timers keyed by opaque handles
// (§4.4). It is backed by a min-heap rather than a literal "wheel" data
// structure: the spec names it a timer wheel for the role it plays
// (schedule/cancel/fire), not for a specific scheduling algorithm, and a
// heap gives exact deadlines with no discretization.
type Wheel struct {
	next     uint64
	byHandle map[types.TimerHandle]*timerEntry
	heap     timerHeap
}

// NewWheel constructs an empty timer wheel.
func NewWheel() *Wheel {
	return &Wheel{
		next:     1,
		byHandle: make(map[types.TimerHandle]*timerEntry),
	}
}

// Arm schedules payload to fire after delay and returns its handle.
func (w *Wheel) Arm(delay time.Duration, payload interface{}) types.TimerHandle {
	handle := types.TimerHandle(w.next)
	w.next++
	e := &timerEntry{
		handle:   handle,
		deadline: time.Now().Add(delay),
		payload:  payload,
	}
	w.byHandle[handle] = e
	heap.Push(&w.heap, e)
	return handle
}

// Cancel cancels handle. Returns false if the timer already fired or
// never existed (cancelling an already-fired timer is a documented
// no-op).
func (w *Wheel) Cancel(handle types.TimerHandle) bool {
	e, ok := w.byHandle[handle]
	if !ok || e.cancelled {
		return false
	}
	e.cancelled = true
	delete(w.byHandle, handle)
	if e.index >= 0 {
		heap.Remove(&w.heap, e.index)
	}
	return true
}

// NextDeadline reports the deadline of the earliest live timer, if any.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	for w.heap.Len() > 0 {
		top := w.heap[0]
		if top.cancelled {
			heap.Pop(&w.heap)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// Expired is one timer that has fired, reported by PopExpired.
type Expired struct {
	Handle  types.TimerHandle
	Payload interface{}
}

// PopExpired removes and returns every timer whose deadline is at or
// before now, in deadline order. Each surviving timer fires exactly once.
func (w *Wheel) PopExpired(now time.Time) []Expired {
	var fired []Expired
	for w.heap.Len() > 0 {
		top := w.heap[0]
		if top.cancelled {
			heap.Pop(&w.heap)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&w.heap)
		delete(w.byHandle, top.handle)
		fired = append(fired, Expired{Handle: top.handle, Payload: top.payload})
	}
	return fired
}

// Len reports the number of still-live timers.
func (w *Wheel) Len() int {
	return len(w.byHandle)
}
