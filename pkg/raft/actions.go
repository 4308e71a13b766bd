//go:build linux

package raft

import (
	"github.com/raftkit/raftnet/pkg/raft/core"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// executeActions applies a batched Actions value in the fixed, documented
// order (§4.6.2): clear peer outboxes, send peer messages, send client
// messages, clear all consensus timers, then arm the newly requested
// ones. Reordering this would let stale term traffic reach a peer after
// a clear, or let a freshly armed timer be wiped by a clear that should
// only have applied to what came before it.
func (s *Server) executeActions(actions types.Actions) {
	if actions.ClearPeerMessages {
		for _, handle := range s.peerIndex {
			if conn, ok := s.table.Get(handle); ok {
				conn.ClearOutbox()
				s.reregisterInterest(handle, conn)
			}
		}
	}

	for _, pm := range actions.PeerMessages {
		handle, ok := s.peerIndex[pm.To]
		if !ok {
			s.logger.Errorf("action referenced unknown peer %d", pm.To)
			continue
		}
		s.send(handle, pm.Message)
	}

	for _, cm := range actions.ClientMessages {
		handle, ok := s.clientIndex[cm.To]
		if !ok {
			// Client disconnected; dropped silently per §4.6.2 step 3.
			continue
		}
		s.send(handle, cm.Message)
	}

	if actions.ClearTimeouts {
		for key, timer := range s.consensusTimeouts {
			s.wheel.Cancel(timer)
			delete(s.consensusTimeouts, key)
		}
	}

	for _, kind := range actions.Timeouts {
		key := kind.Key()
		if old, ok := s.consensusTimeouts[key]; ok {
			// Fixes the source's missing cancellation of a same-kind
			// timer; consensus must never observe two concurrent
			// timers for one kind.
			s.wheel.Cancel(old)
		}
		delay := kind.Duration(s.cfg)
		handle := s.wheel.Arm(delay, core.ConsensusTimeoutPayload{Kind: kind})
		s.consensusTimeouts[key] = handle
	}
}

// send enqueues msg on handle's connection and re-arms write interest if
// the queue was previously empty. Any failure resets the connection.
func (s *Server) send(handle types.ConnectionHandle, msg types.Message) {
	conn, ok := s.table.Get(handle)
	if !ok {
		return
	}
	needsRearm := conn.Enqueue(msg.Payload)
	if needsRearm {
		s.reregisterInterest(handle, conn)
	}
}
