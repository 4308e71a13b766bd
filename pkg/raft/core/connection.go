//go:build linux

// Package core implements the connection, connection table, timer wheel
// and reactor components (C2-C5) that the server core (pkg/raft) drives.
package core

import (
	"github.com/raftkit/raftnet/pkg/raft/codec"
	"github.com/raftkit/raftnet/pkg/raft/netpoll"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// ConnState is the state machine for a peer slot (§4.2). Non-peer
// connections (Unknown, Client) are always considered Connected once
// accepted; they have no Dialing/BackOff phase.
type ConnState int

const (
	StateDialing ConnState = iota
	StateConnected
	StateBackOff
)

func (s ConnState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateConnected:
		return "connected"
	case StateBackOff:
		return "backoff"
	default:
		return "unknown"
	}
}

const defaultReadBufferSize = 64 * 1024
const defaultMaxFrameSize = 16 * 1024 * 1024

// Connection is one remote endpoint: a socket, its framing state, an
// outbound queue and the bookkeeping needed to resume a partial write or
// a partial frame (§3 C2).
type Connection struct {
	Handle   types.ConnectionHandle
	Kind     types.ConnKind
	PeerID   types.ServerId
	ClientID types.ClientId
	Addr     types.NetAddr
	State    ConnState

	fd      int
	decoder *codec.Decoder

	outbound []byte // concatenated encoded frames, consumed from the front
	readBuf  []byte

	// hasSocket is false while a peer slot sits in back-off with no live
	// fd; it is true for every other connection for its entire life.
	hasSocket bool
}

// DialPeer opens a new outbound connection to a peer. connected reports
// whether the connect finished synchronously; when it didn't, the caller
// must wait for a writable event and call FinishDialing. A non-nil error
// here is a synchronous dial failure the caller can act on immediately,
// without any reactor tick (needed so an unreachable peer is observable
// right after construction).
func DialPeer(id types.ServerId, addr types.NetAddr) (*Connection, bool, error) {
	fd, connected, err := netpoll.DialTCP(string(addr))
	if err != nil {
		return nil, false, err
	}
	c := &Connection{
		Kind:      types.KindPeer,
		PeerID:    id,
		Addr:      addr,
		fd:        fd,
		hasSocket: true,
		decoder:   codec.NewDecoder(defaultMaxFrameSize),
		readBuf:   make([]byte, defaultReadBufferSize),
	}
	if connected {
		c.State = StateConnected
	} else {
		c.State = StateDialing
	}
	return c, connected, nil
}

// NewPeerBackoff builds a peer slot with no live socket, used when the
// very first dial attempt fails synchronously (§4.6.1, S7): the slot and
// peer_index entry must exist immediately, with the caller responsible
// for arming the reconnection timer.
func NewPeerBackoff(id types.ServerId, addr types.NetAddr) *Connection {
	return &Connection{
		Kind:    types.KindPeer,
		PeerID:  id,
		Addr:    addr,
		State:   StateBackOff,
		fd:      -1,
		decoder: codec.NewDecoder(defaultMaxFrameSize),
		readBuf: make([]byte, defaultReadBufferSize),
	}
}

// AcceptConnection wraps a freshly accepted socket in Unknown kind.
func AcceptConnection(fd int, remoteAddr types.NetAddr) *Connection {
	return &Connection{
		Kind:      types.KindUnknown,
		Addr:      remoteAddr,
		State:     StateConnected,
		fd:        fd,
		hasSocket: true,
		decoder:   codec.NewDecoder(defaultMaxFrameSize),
		readBuf:   make([]byte, defaultReadBufferSize),
	}
}

// FD returns the underlying file descriptor, or -1 if the connection has
// no live socket (a peer currently in back-off).
func (c *Connection) FD() int {
	if !c.hasSocket {
		return -1
	}
	return c.fd
}

// DesiredInterest reports the readiness mask this connection currently
// wants registered: read is always desired while a socket is live; write
// is desired while dialing (to detect connect completion) or while the
// outbound queue is non-empty.
func (c *Connection) DesiredInterest() (read, write bool) {
	if !c.hasSocket {
		return false, false
	}
	return true, c.State == StateDialing || len(c.outbound) > 0
}

// Enqueue appends an already-framed message to the outbound queue.
// needsRearm is true iff the queue was empty before this call, meaning
// the caller must reregister to add write interest.
func (c *Connection) Enqueue(payload []byte) (needsRearm bool) {
	needsRearm = len(c.outbound) == 0
	c.outbound = append(c.outbound, codec.Encode(payload)...)
	return needsRearm
}

// ClearOutbox drops every queued byte, used when consensus invalidates
// in-flight traffic (e.g. a term change) or before resetting a peer.
func (c *Connection) ClearOutbox() {
	c.outbound = c.outbound[:0]
}

// FinishDialing checks the result of an asynchronous connect after a
// writable readiness event fires while State == StateDialing.
func (c *Connection) FinishDialing() error {
	if err := netpoll.CheckConnectError(c.fd); err != nil {
		return err
	}
	c.State = StateConnected
	return nil
}

// Writable writes as many queued bytes as the socket accepts. Returns
// types.ErrWouldBlock (not a failure) when the socket cannot currently
// accept more. Any other error is fatal to the connection.
func (c *Connection) Writable() error {
	for len(c.outbound) > 0 {
		n, err := netpoll.Write(c.fd, c.outbound)
		if err != nil {
			if netpoll.IsWouldBlock(err) {
				return types.ErrWouldBlock
			}
			return err
		}
		c.outbound = c.outbound[n:]
		if n == 0 {
			return types.ErrWouldBlock
		}
	}
	return nil
}

// Readable drains available bytes and returns every complete frame
// decoded from them. An empty, nil-error result means "would block".
func (c *Connection) Readable() ([]types.Message, error) {
	var messages []types.Message
	for {
		n, err := netpoll.Read(c.fd, c.readBuf)
		if err != nil {
			if netpoll.IsWouldBlock(err) {
				break
			}
			return messages, err
		}
		if n == 0 {
			return messages, types.ErrConnectionClosed
		}
		frames, ferr := c.decoder.Feed(c.readBuf[:n])
		for _, f := range frames {
			messages = append(messages, types.Message{Payload: f})
		}
		if ferr != nil {
			return messages, ferr
		}
		if n < len(c.readBuf) {
			break
		}
	}
	return messages, nil
}

// Close tears down the socket. Safe to call more than once.
func (c *Connection) Close() {
	if !c.hasSocket {
		return
	}
	_ = netpoll.Close(c.fd)
	c.hasSocket = false
	c.fd = -1
}

// ResetPeer closes the socket and returns the connection to dial-pending
// state, clearing buffered traffic and decode state. The slot itself is
// untouched; the caller keeps using the same handle.
func (c *Connection) ResetPeer() {
	c.Close()
	c.decoder.Reset()
	c.ClearOutbox()
	c.State = StateBackOff
}

// ReconnectPeer opens a fresh socket toward the connection's current
// address and enqueues the server preamble announcing self to the peer.
func (c *Connection) ReconnectPeer(selfID types.ServerId, listenAddr types.NetAddr) error {
	fd, connected, err := netpoll.DialTCP(string(c.Addr))
	if err != nil {
		c.State = StateBackOff
		return err
	}
	c.fd = fd
	c.hasSocket = true
	if connected {
		c.State = StateConnected
	} else {
		c.State = StateDialing
	}

	preamble, err := types.EncodePreamble(types.WirePreamble{
		Kind:     types.PreambleServer,
		ServerID: selfID,
		Addr:     listenAddr,
	})
	if err != nil {
		return err
	}
	c.Enqueue(preamble)
	return nil
}
