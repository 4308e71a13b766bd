package types

// TimeoutConfiguration carries the durations consensus timeouts derive
// from. Election timers sample uniformly in [ElectionMinMillis,
// ElectionMaxMillis]; heartbeat timers fire exactly every HeartbeatMillis.
// The core does not otherwise interpret these values.
type TimeoutConfiguration struct {
	ElectionMinMillis uint64
	ElectionMaxMillis uint64
	HeartbeatMillis   uint64
}

// PeerMessage pairs an outbound message with the peer it targets.
type PeerMessage struct {
	To      ServerId
	Message Message
}

// ClientMessage pairs an outbound message with the client it targets.
type ClientMessage struct {
	To      ClientId
	Message Message
}

// Actions is the batched command buffer returned by Consensus after every
// event. The server executes it in the fixed order documented in §4.6.2:
// clear-peer-outboxes, send peer messages, send client messages,
// clear-all-consensus-timers, arm new timers.
type Actions struct {
	PeerMessages      []PeerMessage
	ClientMessages    []ClientMessage
	Timeouts          []ConsensusTimeoutKind
	ClearTimeouts     bool
	ClearPeerMessages bool
}

// NoActions is the zero value; executing it must be a no-op on observable
// state (Testable property 6).
func NoActions() Actions {
	return Actions{}
}

// Log is the persistent replicated log, owned and interpreted entirely by
// Consensus. The reactor never reads or writes it directly.
type Log interface {
	Append(entries [][]byte) error
	Entries(from, to uint64) ([][]byte, error)
	LastIndex() uint64
	Truncate(after uint64) error
}

// StateMachine is the applied state, owned and interpreted entirely by
// Consensus. The reactor never reads or writes it directly.
type StateMachine interface {
	Apply(command []byte) (interface{}, error)
}

// Consensus is the external collaborator the reactor drives with events
// and is driven back by via Actions. It must never call back into the
// server directly; every response to an event is returned as a value.
type Consensus interface {
	// Init performs any startup work (e.g. arming the initial election
	// timer) and returns the resulting actions.
	Init() Actions

	ApplyPeerMessage(from ServerId, msg Message) Actions
	ApplyClientMessage(from ClientId, msg Message) Actions
	ApplyTimeout(kind ConsensusTimeoutKind) Actions
	PeerConnectionReset(id ServerId, addr NetAddr) Actions

	// Peers returns the current view of the cluster's peer addresses,
	// for introspection and testing.
	Peers() map[ServerId]NetAddr
}

// ConsensusFactory constructs a Consensus instance bound to a fixed peer
// set and a pair of storage collaborators. Injected into ServerBuilder so
// the server core never imports a concrete consensus algorithm.
type ConsensusFactory func(self ServerId, peers map[ServerId]NetAddr, log Log, sm StateMachine) (Consensus, error)
