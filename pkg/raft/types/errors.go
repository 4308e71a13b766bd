package types

import "errors"

// Error taxonomy (§7). Local errors on a single connection never
// propagate beyond that connection; construction-time errors and
// consensus-invariant violations are fatal.
var (
	// ErrInvalidPeerSet is returned at construction when self_id appears
	// in the peer set.
	ErrInvalidPeerSet = errors.New("raft: self id present in peer set")

	// ErrConnectionLimitReached is returned by the connection table when
	// it is at capacity; the accept loop logs and continues.
	ErrConnectionLimitReached = errors.New("raft: connection table full")

	// ErrConnectionRegisterFailed is returned when the reactor refuses to
	// arm a connection's readiness interest.
	ErrConnectionRegisterFailed = errors.New("raft: failed to register connection with reactor")

	// ErrUnknownConnectionType is returned when a preamble's variant is
	// not recognized.
	ErrUnknownConnectionType = errors.New("raft: unrecognized connection preamble variant")

	// ErrFrameTooLarge is returned by the codec when a frame's declared
	// length exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("raft: frame exceeds maximum size")

	// ErrTimerWheelOverflow indicates the timer wheel could not admit a
	// new timer. Wheel.Arm has no capacity limit and never returns it.
	ErrTimerWheelOverflow = errors.New("raft: timer wheel overflow")

	// ErrUnknownPeer names an action that references a peer id with no
	// entry in peer_index, a consensus-invariant violation. executeActions
	// logs and skips such a message; it does not return this error.
	ErrUnknownPeer = errors.New("raft: action references unknown peer id")

	// ErrHandleNotFound names a lookup against a handle that does not
	// exist (already removed or never inserted). Table.Get reports a
	// missing handle through its boolean result and does not return it.
	ErrHandleNotFound = errors.New("raft: connection handle not found")

	// ErrWouldBlock signals a non-blocking socket operation made no
	// progress; it is not a failure.
	ErrWouldBlock = errors.New("raft: operation would block")

	// ErrConnectionClosed is returned by Connection.Readable when the
	// remote end has closed the stream.
	ErrConnectionClosed = errors.New("raft: connection closed")
)
