package core

import (
	"testing"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

func TestTableInsertAndGet(t *testing.T) {
	table := NewTable(2)
	conn := &Connection{Kind: types.KindUnknown}

	handle, err := table.Insert(conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == types.Listener {
		t.Fatalf("insert must never return the reserved listener handle")
	}

	got, ok := table.Get(handle)
	if !ok || got != conn {
		t.Fatalf("expected to retrieve the inserted connection")
	}
}

func TestTableEnforcesCapacity(t *testing.T) {
	table := NewTable(1)
	if _, err := table.Insert(&Connection{}); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if _, err := table.Insert(&Connection{}); err != types.ErrConnectionLimitReached {
		t.Fatalf("expected ErrConnectionLimitReached, got %v", err)
	}
}

func TestTableRemoveInvalidatesHandle(t *testing.T) {
	table := NewTable(4)
	handle, _ := table.Insert(&Connection{})
	table.Remove(handle)

	if _, ok := table.Get(handle); ok {
		t.Fatalf("expected handle to be invalid after removal")
	}
	if table.Len() != 0 {
		t.Fatalf("expected table to be empty after removal")
	}
}

func TestTableHandlesNeverReused(t *testing.T) {
	table := NewTable(4)
	first, _ := table.Insert(&Connection{})
	table.Remove(first)
	second, _ := table.Insert(&Connection{})

	if first == second {
		t.Fatalf("expected a fresh handle after removal, got the same one back")
	}
}
