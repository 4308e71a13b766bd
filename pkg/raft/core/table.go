package core

import "github.com/raftkit/raftnet/pkg/raft/types"

// Table is a fixed-capacity connection slot allocator keyed by an opaque
// handle (§3/§4.3). Handles are monotonic and never reused, which gives
// the same "stable handle, invalid once removed" contract a generational
// slab allocator would, without porting a generational-index data
// structure that has no idiomatic Go equivalent in the retrieved pack.
type Table struct {
	capacity int
	next     uint64
	slots    map[types.ConnectionHandle]*Connection
}

// NewTable builds a table that rejects inserts once it holds capacity
// live connections.
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		next:     uint64(types.Listener) + 1,
		slots:    make(map[types.ConnectionHandle]*Connection),
	}
}

// Insert admits conn into a new slot and returns its handle, or
// types.ErrConnectionLimitReached if the table is full.
func (t *Table) Insert(conn *Connection) (types.ConnectionHandle, error) {
	if len(t.slots) >= t.capacity {
		return 0, types.ErrConnectionLimitReached
	}
	handle := types.ConnectionHandle(t.next)
	t.next++
	conn.Handle = handle
	t.slots[handle] = conn
	return handle, nil
}

// Get looks up a connection by handle.
func (t *Table) Get(handle types.ConnectionHandle) (*Connection, bool) {
	c, ok := t.slots[handle]
	return c, ok
}

// Remove invalidates handle. It is a no-op if the handle is not present.
func (t *Table) Remove(handle types.ConnectionHandle) {
	delete(t.slots, handle)
}

// Len reports the number of live slots.
func (t *Table) Len() int {
	return len(t.slots)
}

// Range calls fn for every live slot. fn must not mutate the table.
func (t *Table) Range(fn func(types.ConnectionHandle, *Connection)) {
	for h, c := range t.slots {
		fn(h, c)
	}
}
