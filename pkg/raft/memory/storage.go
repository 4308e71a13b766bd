// Package memory supplies minimal, explicitly non-Raft reference
// implementations of the external Log, StateMachine and Consensus
// collaborators, so the reactor can be exercised end to end without a
// real consensus algorithm.
package memory

import (
	"sync"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

// Log is an in-memory, non-durable implementation of types.Log, grounded
// on the shape of a minimal append-only entry store.
type Log struct {
	mu      sync.Mutex
	entries [][]byte
}

// NewLog builds an empty in-memory log.
func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(entries [][]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *Log) Entries(from, to uint64) ([][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from > uint64(len(l.entries)) {
		return nil, nil
	}
	if to > uint64(len(l.entries)) {
		to = uint64(len(l.entries))
	}
	out := make([][]byte, to-from)
	copy(out, l.entries[from:to])
	return out, nil
}

func (l *Log) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}

func (l *Log) Truncate(after uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if after < uint64(len(l.entries)) {
		l.entries = l.entries[:after]
	}
	return nil
}

var _ types.Log = (*Log)(nil)
