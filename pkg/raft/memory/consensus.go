package memory

import (
	"math/rand"
	"sync"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

// TimeoutKind is the minimal ConsensusTimeoutKind implementation used by
// EchoConsensus: an election deadline and, per connected peer, a
// heartbeat deadline.
type TimeoutKind struct {
	Election bool
	Peer     types.ServerId
}

func (k TimeoutKind) Duration(cfg types.TimeoutConfiguration) types.Duration {
	if k.Election {
		span := cfg.ElectionMaxMillis - cfg.ElectionMinMillis
		ms := cfg.ElectionMinMillis
		if span > 0 {
			ms += uint64(rand.Int63n(int64(span) + 1))
		}
		return types.Duration(ms) * 1_000_000
	}
	return types.Duration(cfg.HeartbeatMillis) * 1_000_000
}

func (k TimeoutKind) Key() interface{} {
	return k
}

// EchoConsensus is a reference, non-Raft Consensus implementation: it
// applies every inbound message straight to the state machine and echoes
// client messages back, re-arming a single election timeout on every
// message and timeout (PeerConnectionReset only records the new address).
// It exists only to exercise the reactor end to end (§6.7); real
// deployments inject an actual consensus algorithm behind the same
// interface.
type EchoConsensus struct {
	mu    sync.Mutex
	self  types.ServerId
	peers map[types.ServerId]types.NetAddr
	log   types.Log
	sm    types.StateMachine
	cfg   types.TimeoutConfiguration
}

// NewEchoConsensus satisfies types.ConsensusFactory.
func NewEchoConsensus(cfg types.TimeoutConfiguration) types.ConsensusFactory {
	return func(self types.ServerId, peers map[types.ServerId]types.NetAddr, log types.Log, sm types.StateMachine) (types.Consensus, error) {
		cp := make(map[types.ServerId]types.NetAddr, len(peers))
		for k, v := range peers {
			cp[k] = v
		}
		return &EchoConsensus{self: self, peers: cp, log: log, sm: sm, cfg: cfg}, nil
	}
}

func (e *EchoConsensus) Init() types.Actions {
	return types.Actions{
		Timeouts: []types.ConsensusTimeoutKind{TimeoutKind{Election: true}},
	}
}

func (e *EchoConsensus) ApplyPeerMessage(from types.ServerId, msg types.Message) types.Actions {
	_ = e.log.Append([][]byte{msg.Payload})
	_, _ = e.sm.Apply(msg.Payload)
	return types.Actions{
		Timeouts: []types.ConsensusTimeoutKind{TimeoutKind{Election: true}},
	}
}

func (e *EchoConsensus) ApplyClientMessage(from types.ClientId, msg types.Message) types.Actions {
	_ = e.log.Append([][]byte{msg.Payload})
	_, _ = e.sm.Apply(msg.Payload)
	return types.Actions{
		ClientMessages: []types.ClientMessage{{To: from, Message: msg}},
		Timeouts:       []types.ConsensusTimeoutKind{TimeoutKind{Election: true}},
	}
}

func (e *EchoConsensus) ApplyTimeout(kind types.ConsensusTimeoutKind) types.Actions {
	return types.Actions{
		Timeouts: []types.ConsensusTimeoutKind{TimeoutKind{Election: true}},
	}
}

func (e *EchoConsensus) PeerConnectionReset(id types.ServerId, addr types.NetAddr) types.Actions {
	e.mu.Lock()
	e.peers[id] = addr
	e.mu.Unlock()
	return types.NoActions()
}

func (e *EchoConsensus) Peers() map[types.ServerId]types.NetAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(map[types.ServerId]types.NetAddr, len(e.peers))
	for k, v := range e.peers {
		cp[k] = v
	}
	return cp
}

var _ types.Consensus = (*EchoConsensus)(nil)
