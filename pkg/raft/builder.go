//go:build linux

// Package raft assembles the connection, timer and reactor components in
// pkg/raft/core into the server shell described by the external
// interfaces: a fixed peer set, a listening socket, and a pull-based
// Consensus driven by reactor events (§6.4).
package raft

import (
	"github.com/raftkit/raftnet/pkg/raft/definition"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

// ServerBuilder constructs a Server from its required collaborators plus
// optional tuning knobs, mirroring §6.4's configuration surface.
type ServerBuilder struct {
	id         types.ServerId
	listenAddr types.NetAddr
	peers      map[types.ServerId]types.NetAddr

	factory types.ConsensusFactory
	log     types.Log
	sm      types.StateMachine
	logger  types.Logger

	maxConnections int
	cfg            types.TimeoutConfiguration
}

// NewServerBuilder starts a builder with the defaults documented in
// §6.2/§6.4 (max_connections 128, election 150-350ms, heartbeat 60ms).
func NewServerBuilder(id types.ServerId, listenAddr types.NetAddr, peers map[types.ServerId]types.NetAddr, factory types.ConsensusFactory, log types.Log, sm types.StateMachine) *ServerBuilder {
	return &ServerBuilder{
		id:             id,
		listenAddr:     listenAddr,
		peers:          peers,
		factory:        factory,
		log:            log,
		sm:             sm,
		logger:         definition.NewDefaultLogger(),
		maxConnections: definition.DefaultMaxConnections,
		cfg:            definition.DefaultTimeoutConfiguration(),
	}
}

// WithLogger overrides the default logger.
func (b *ServerBuilder) WithLogger(logger types.Logger) *ServerBuilder {
	b.logger = logger
	return b
}

// WithMaxConnections overrides the connection table capacity.
func (b *ServerBuilder) WithMaxConnections(n int) *ServerBuilder {
	b.maxConnections = n
	return b
}

// WithElectionMillis overrides the election timeout range.
func (b *ServerBuilder) WithElectionMillis(min, max uint64) *ServerBuilder {
	b.cfg.ElectionMinMillis = min
	b.cfg.ElectionMaxMillis = max
	return b
}

// WithHeartbeatMillis overrides the heartbeat interval.
func (b *ServerBuilder) WithHeartbeatMillis(ms uint64) *ServerBuilder {
	b.cfg.HeartbeatMillis = ms
	return b
}

// Finalize builds and initializes the Server per §4.6.1 but does not
// enter the reactor loop.
func (b *ServerBuilder) Finalize() (*Server, error) {
	return newServer(b)
}

// Run finalizes the server and runs the reactor loop on the calling
// goroutine until Stop is called.
func (b *ServerBuilder) Run() error {
	s, err := b.Finalize()
	if err != nil {
		return err
	}
	return s.runLoop()
}

// Spawn finalizes the server and runs the reactor loop on a background
// goroutine, returning immediately with a handle to control it.
func (b *ServerBuilder) Spawn() (*Server, error) {
	s, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	go func() {
		_ = s.runLoop()
	}()
	return s, nil
}
