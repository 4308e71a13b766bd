//go:build linux

package raft

import (
	"sync"

	prom "github.com/prometheus/common/log"

	"github.com/raftkit/raftnet/pkg/raft/core"
	"github.com/raftkit/raftnet/pkg/raft/definition"
	"github.com/raftkit/raftnet/pkg/raft/netpoll"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// Server owns the connection table, timer wheel and reactor (C2-C5), the
// two identity indexes, and the consensus engine. It is the only
// component permitted to mutate any of them (§5).
type Server struct {
	selfID     types.ServerId
	listenAddr types.NetAddr
	cfg        types.TimeoutConfiguration
	logger     types.Logger
	consensus  types.Consensus

	table   *core.Table
	wheel   *core.Wheel
	reactor *core.Reactor

	listenFd int

	peerIndex   map[types.ServerId]types.ConnectionHandle
	clientIndex map[types.ClientId]types.ConnectionHandle

	consensusTimeouts    map[interface{}]types.TimerHandle
	reconnectionTimeouts map[types.ConnectionHandle]types.TimerHandle

	mu          sync.Mutex
	stop        chan struct{}
	done        chan struct{}
	loopStarted bool
	stopped     bool
}

func newServer(b *ServerBuilder) (*Server, error) {
	if _, self := b.peers[b.id]; self {
		return nil, types.ErrInvalidPeerSet
	}

	consensus, err := b.factory(b.id, b.peers, b.log, b.sm)
	if err != nil {
		return nil, err
	}

	listenFd, boundAddr, err := netpoll.ListenTCP(string(b.listenAddr))
	if err != nil {
		return nil, err
	}
	prom.Infof("raft server %d listening on %s", b.id, boundAddr)

	reactor, err := core.NewReactor()
	if err != nil {
		_ = netpoll.Close(listenFd)
		return nil, err
	}

	s := &Server{
		selfID:               b.id,
		listenAddr:           types.NetAddr(boundAddr),
		cfg:                  b.cfg,
		logger:               scopeLoggerToServer(b.logger, b.id),
		consensus:            consensus,
		table:                core.NewTable(b.maxConnections),
		wheel:                core.NewWheel(),
		reactor:              reactor,
		listenFd:             listenFd,
		peerIndex:            make(map[types.ServerId]types.ConnectionHandle),
		clientIndex:          make(map[types.ClientId]types.ConnectionHandle),
		consensusTimeouts:    make(map[interface{}]types.TimerHandle),
		reconnectionTimeouts: make(map[types.ConnectionHandle]types.TimerHandle),
		stop:                 make(chan struct{}),
		done:                 make(chan struct{}),
	}

	if err := s.reactor.Register(types.Listener, listenFd, true, false); err != nil {
		_ = netpoll.Close(listenFd)
		return nil, err
	}

	for id, addr := range b.peers {
		s.insertPeerSlot(id, addr)
	}

	s.executeActions(consensus.Init())

	for id, handle := range s.peerIndex {
		conn, ok := s.table.Get(handle)
		if !ok || conn.State == core.StateBackOff {
			continue
		}
		s.sendPreambleAndRegister(handle, conn, id)
	}

	return s, nil
}

// insertPeerSlot performs the dial-pending peer insertion documented in
// §4.6.1 step 3: dial immediately so a synchronous failure (e.g. an
// unreachable local port) is observable right after construction,
// without needing a reactor tick.
func (s *Server) insertPeerSlot(id types.ServerId, addr types.NetAddr) {
	conn, _, err := core.DialPeer(id, addr)
	if err != nil {
		s.logger.Warnf("initial dial to peer %d at %s failed: %v", id, addr, err)
		conn = core.NewPeerBackoff(id, addr)
	}
	handle, ierr := s.table.Insert(conn)
	if ierr != nil {
		s.logger.Errorf("could not insert peer %d slot: %v", id, ierr)
		return
	}
	s.peerIndex[id] = handle

	if err != nil {
		timer := s.wheel.Arm(s.backoffDuration(), core.ReconnectPayload{Handle: handle})
		s.reconnectionTimeouts[handle] = timer
	}
}

func (s *Server) sendPreambleAndRegister(handle types.ConnectionHandle, conn *core.Connection, id types.ServerId) {
	preamble, err := types.EncodePreamble(types.WirePreamble{
		Kind:     types.PreambleServer,
		ServerID: s.selfID,
		Addr:     s.listenAddr,
	})
	if err != nil {
		s.logger.Errorf("failed encoding preamble for peer %d: %v", id, err)
		return
	}
	conn.Enqueue(preamble)

	read, write := conn.DesiredInterest()
	if err := s.reactor.Register(handle, conn.FD(), read, write); err != nil {
		s.resetConnection(handle)
	}
}

func (s *Server) backoffDuration() types.Duration {
	return types.Duration(s.cfg.ElectionMinMillis) * 1_000_000
}

func (s *Server) reregisterInterest(handle types.ConnectionHandle, conn *core.Connection) {
	fd := conn.FD()
	if fd < 0 {
		return
	}
	read, write := conn.DesiredInterest()
	if err := s.reactor.Reregister(fd, read, write); err != nil {
		s.resetConnection(handle)
	}
}

// Tick drives exactly one round of the reactor: at most one readiness
// wait followed by dispatch of every ready connection and fired timer.
func (s *Server) Tick() error {
	return s.reactor.Tick(s.wheel, s)
}

func (s *Server) runLoop() error {
	s.mu.Lock()
	s.loopStarted = true
	s.mu.Unlock()
	err := s.reactor.Run(s.wheel, s, s.stop)
	close(s.done)
	return err
}

// Stop signals the reactor loop to exit (if running via Spawn/Run) and
// releases every socket and the epoll instance. Safe to call against a
// server that was only ever driven manually via Tick.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.loopStarted
	s.mu.Unlock()

	close(s.stop)
	if started {
		<-s.done
	}

	s.table.Range(func(_ types.ConnectionHandle, c *core.Connection) {
		c.Close()
	})
	_ = netpoll.Close(s.listenFd)
	_ = s.reactor.Close()
}

// PeerConnected reports whether id currently has a live (not back-off)
// connection, per §4.6.7's definition.
func (s *Server) PeerConnected(id types.ServerId) bool {
	handle, ok := s.peerIndex[id]
	if !ok {
		return false
	}
	_, backoff := s.reconnectionTimeouts[handle]
	return !backoff
}

// ClientConnected reports whether id has a live client connection.
func (s *Server) ClientConnected(id types.ClientId) bool {
	_, ok := s.clientIndex[id]
	return ok
}

// Peers exposes consensus's view of the cluster for introspection.
func (s *Server) Peers() map[types.ServerId]types.NetAddr {
	return s.consensus.Peers()
}

// ListenAddr returns the address the server is actually listening on.
func (s *Server) ListenAddr() types.NetAddr {
	return s.listenAddr
}

// scopeLoggerToServer binds the server id as a structured field when the
// injected logger is the definition.DefaultLogger adapter; a caller-supplied
// types.Logger that doesn't support field binding is used as-is.
func scopeLoggerToServer(logger types.Logger, id types.ServerId) types.Logger {
	if dl, ok := logger.(*definition.DefaultLogger); ok {
		return dl.WithServer(id)
	}
	return logger
}

// loggerForConnection scopes s.logger with handle as a structured field
// when possible, for warnings and errors tied to one connection slot.
func (s *Server) loggerForConnection(handle types.ConnectionHandle) types.Logger {
	if dl, ok := s.logger.(*definition.DefaultLogger); ok {
		return dl.WithConnection(handle)
	}
	return s.logger
}
