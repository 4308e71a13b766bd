//go:build linux

package raft

import (
	prom "github.com/prometheus/common/log"

	"github.com/raftkit/raftnet/pkg/raft/core"
	"github.com/raftkit/raftnet/pkg/raft/netpoll"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// OnReady implements core.ReadyHandler (§4.6.4).
func (s *Server) OnReady(handle types.ConnectionHandle, readable, writable, hangup bool) {
	if handle == types.Listener {
		if readable {
			s.acceptLoop()
		}
		return
	}

	conn, ok := s.table.Get(handle)
	if !ok {
		return
	}

	if hangup {
		s.resetConnection(handle)
		return
	}

	if writable {
		if conn.State == core.StateDialing {
			if err := conn.FinishDialing(); err != nil {
				s.resetConnection(handle)
				return
			}
		}
		if conn.State == core.StateConnected {
			if err := conn.Writable(); err != nil && err != types.ErrWouldBlock {
				s.resetConnection(handle)
				return
			}
		}
	}

	if readable {
		messages, err := conn.Readable()
		for _, msg := range messages {
			switch conn.Kind {
			case types.KindUnknown:
				s.handlePreamble(handle, conn, msg.Payload)
			case types.KindPeer:
				s.executeActions(s.consensus.ApplyPeerMessage(conn.PeerID, msg))
			case types.KindClient:
				s.executeActions(s.consensus.ApplyClientMessage(conn.ClientID, msg))
			}
			// A preamble swap, a rejection, or an action's side effects
			// may have torn this handle down already (e.g. it lost a
			// peer swap, or a reregister failed mid-action); stop
			// feeding it further messages from this batch if so.
			if _, stillThere := s.table.Get(handle); !stillThere {
				return
			}
		}
		if err != nil {
			s.resetConnection(handle)
			return
		}
	}

	if conn, ok := s.table.Get(handle); ok {
		s.reregisterInterest(handle, conn)
	}
}

// OnTimeout implements core.ReadyHandler (§4.6.8).
func (s *Server) OnTimeout(payload interface{}) {
	switch p := payload.(type) {
	case core.ConsensusTimeoutPayload:
		delete(s.consensusTimeouts, p.Kind.Key())
		s.executeActions(s.consensus.ApplyTimeout(p.Kind))
	case core.ReconnectPayload:
		s.onReconnectTimeout(p.Handle)
	}
}

func (s *Server) onReconnectTimeout(handle types.ConnectionHandle) {
	delete(s.reconnectionTimeouts, handle)

	conn, ok := s.table.Get(handle)
	if !ok || conn.Kind != types.KindPeer {
		return
	}

	if err := conn.ReconnectPeer(s.selfID, s.listenAddr); err != nil {
		s.loggerForConnection(handle).Warnf("reconnect to peer %d failed: %v", conn.PeerID, err)
		s.resetConnection(handle)
		return
	}

	read, write := conn.DesiredInterest()
	if err := s.reactor.Register(handle, conn.FD(), read, write); err != nil {
		s.resetConnection(handle)
		return
	}

	s.executeActions(s.consensus.PeerConnectionReset(conn.PeerID, conn.Addr))
}

// acceptLoop drains the listening socket until WouldBlock (§4.6.4).
func (s *Server) acceptLoop() {
	for {
		fd, remote, err := netpoll.Accept(s.listenFd)
		if err != nil {
			if !netpoll.IsWouldBlock(err) {
				prom.Warnf("accept error: %v", err)
			}
			return
		}

		conn := core.AcceptConnection(fd, types.NetAddr(remote))
		handle, err := s.table.Insert(conn)
		if err != nil {
			s.logger.Warnf("connection limit reached, dropping accepted socket from %s: %v", remote, err)
			conn.Close()
			continue
		}

		read, write := conn.DesiredInterest()
		if err := s.reactor.Register(handle, fd, read, write); err != nil {
			s.table.Remove(handle)
			conn.Close()
		}
	}
}

// resetConnection implements the kind-dependent reset policy of §4.6.7.
func (s *Server) resetConnection(handle types.ConnectionHandle) {
	conn, ok := s.table.Get(handle)
	if !ok {
		return
	}

	switch conn.Kind {
	case types.KindPeer:
		if fd := conn.FD(); fd >= 0 {
			s.reactor.Deregister(fd)
		}
		conn.ResetPeer()
		timer := s.wheel.Arm(s.backoffDuration(), core.ReconnectPayload{Handle: handle})
		s.reconnectionTimeouts[handle] = timer

	case types.KindClient:
		if fd := conn.FD(); fd >= 0 {
			s.reactor.Deregister(fd)
		}
		conn.Close()
		delete(s.clientIndex, conn.ClientID)
		s.table.Remove(handle)

	case types.KindUnknown:
		if fd := conn.FD(); fd >= 0 {
			s.reactor.Deregister(fd)
		}
		conn.Close()
		s.table.Remove(handle)
	}
}
