//go:build linux

package raft

import (
	"github.com/raftkit/raftnet/pkg/raft/core"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// handlePreamble demultiplexes the first frame on an Unknown connection
// into a peer swap or a client acceptance (§4.6.6). Any other first
// message, or a preamble whose variant fails validation, resets the
// connection as malformed.
func (s *Server) handlePreamble(handle types.ConnectionHandle, conn *core.Connection, payload []byte) {
	preamble, err := types.DecodePreamble(payload)
	if err != nil {
		s.loggerForConnection(handle).Warnf("malformed preamble: %v", err)
		s.resetConnection(handle)
		return
	}

	switch preamble.Kind {
	case types.PreambleServer:
		s.swapPeer(handle, conn, preamble.ServerID, preamble.Addr)
	case types.PreambleClient:
		s.acceptClient(handle, conn, preamble.ClientID)
	default:
		s.resetConnection(handle)
	}
}

// swapPeer implements the peer-swap precondition from §4.6.6: the peer
// set is fixed at construction, so peer_index[id] must already exist.
// The new handle replaces the old one; the old connection and any
// reconnection timer keyed on it are torn down.
func (s *Server) swapPeer(handle types.ConnectionHandle, conn *core.Connection, peerID types.ServerId, addr types.NetAddr) {
	oldHandle, ok := s.peerIndex[peerID]
	if !ok {
		s.loggerForConnection(handle).Warnf("preamble from unconfigured peer %d, closing", peerID)
		s.resetConnection(handle)
		return
	}

	if oldTimer, ok := s.reconnectionTimeouts[oldHandle]; ok {
		s.wheel.Cancel(oldTimer)
		delete(s.reconnectionTimeouts, oldHandle)
	}
	if oldConn, ok := s.table.Get(oldHandle); ok {
		if fd := oldConn.FD(); fd >= 0 {
			s.reactor.Deregister(fd)
		}
		oldConn.Close()
	}
	s.table.Remove(oldHandle)

	conn.Kind = types.KindPeer
	conn.PeerID = peerID
	conn.Addr = addr
	s.peerIndex[peerID] = handle

	s.executeActions(s.consensus.PeerConnectionReset(peerID, addr))
}

// acceptClient promotes an Unknown connection once it presents a client
// preamble. A duplicate client id on a second connection is rejected by
// closing the new connection.
func (s *Server) acceptClient(handle types.ConnectionHandle, conn *core.Connection, clientID types.ClientId) {
	if _, exists := s.clientIndex[clientID]; exists {
		s.loggerForConnection(handle).Warnf("duplicate client id %s, rejecting new connection", clientID)
		s.resetConnection(handle)
		return
	}
	conn.Kind = types.KindClient
	conn.ClientID = clientID
	s.clientIndex[clientID] = handle
}
