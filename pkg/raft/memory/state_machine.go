package memory

import (
	"sync"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

// StateMachine is an in-memory implementation of types.StateMachine that
// simply records every applied command, grounded on the teacher's
// InMemoryStateMachine (which also commits straight onto an in-memory
// Storage without any real business logic of its own).
type StateMachine struct {
	mu      sync.Mutex
	applied [][]byte
}

// NewStateMachine builds an empty in-memory state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

func (s *StateMachine) Apply(command []byte) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(command))
	copy(cp, command)
	s.applied = append(s.applied, cp)
	return len(s.applied), nil
}

// Applied returns every command committed so far, for test assertions.
func (s *StateMachine) Applied() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.applied))
	copy(out, s.applied)
	return out
}

var _ types.StateMachine = (*StateMachine)(nil)
