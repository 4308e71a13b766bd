//go:build linux

// Command raftnode runs a single reactor-driven node wired to the
// in-memory reference Consensus/Log/StateMachine collaborators. It exists
// to exercise the server shell end to end; it is not a production
// deployment story.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/raftkit/raftnet/pkg/raft"
	"github.com/raftkit/raftnet/pkg/raft/definition"
	"github.com/raftkit/raftnet/pkg/raft/memory"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

func main() {
	var (
		id      = flag.Uint64("id", 0, "this node's server id")
		listen  = flag.String("listen", "127.0.0.1:7000", "listen address")
		peerArg = flag.String("peers", "", "comma-separated id=addr peer list, e.g. 1=127.0.0.1:7001,2=127.0.0.1:7002")
	)
	flag.Parse()

	peers, err := parsePeers(*peerArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode:", err)
		os.Exit(1)
	}

	logger := definition.NewDefaultLogger()
	logger.ToggleDebug(true)

	cfg := definition.DefaultTimeoutConfiguration()
	builder := raft.NewServerBuilder(
		types.ServerId(*id),
		types.NetAddr(*listen),
		peers,
		memory.NewEchoConsensus(cfg),
		memory.NewLog(),
		memory.NewStateMachine(),
	).WithLogger(logger)

	server, err := builder.Spawn()
	if err != nil {
		fmt.Fprintln(os.Stderr, "raftnode: failed to start:", err)
		os.Exit(1)
	}
	logger.Infof("node %d listening on %s with peers %v", *id, server.ListenAddr(), peers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	server.Stop()
}

func parsePeers(raw string) (map[types.ServerId]types.NetAddr, error) {
	peers := make(map[types.ServerId]types.NetAddr)
	if raw == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer entry %q, expected id=addr", entry)
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id in %q: %w", entry, err)
		}
		peers[types.ServerId(id)] = types.NetAddr(parts[1])
	}
	return peers, nil
}
