//go:build linux

package raft

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/raftkit/raftnet/pkg/raft/codec"
	"github.com/raftkit/raftnet/pkg/raft/definition"
	"github.com/raftkit/raftnet/pkg/raft/memory"
	"github.com/raftkit/raftnet/pkg/raft/types"
)

func newTestBuilder(id types.ServerId, peers map[types.ServerId]types.NetAddr) *ServerBuilder {
	cfg := definition.DefaultTimeoutConfiguration()
	return NewServerBuilder(id, types.NetAddr("127.0.0.1:0"), peers, memory.NewEchoConsensus(cfg), memory.NewLog(), memory.NewStateMachine())
}

// newTestBuilderWithSM is like newTestBuilder but hands back the state
// machine too, so a test can assert on exactly what Consensus applied.
func newTestBuilderWithSM(id types.ServerId, peers map[types.ServerId]types.NetAddr) (*ServerBuilder, *memory.StateMachine) {
	cfg := definition.DefaultTimeoutConfiguration()
	sm := memory.NewStateMachine()
	b := NewServerBuilder(id, types.NetAddr("127.0.0.1:0"), peers, memory.NewEchoConsensus(cfg), memory.NewLog(), sm)
	return b, sm
}

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	if _, err := conn.Write(codec.Encode(payload)); err != nil {
		t.Fatalf("failed writing frame: %v", err)
	}
}

// readFrame drives s's reactor until one whole frame has arrived on conn
// and returns its payload; the server only writes queued frames from
// inside a Tick.
func readFrame(t *testing.T, s *Server, conn net.Conn) []byte {
	t.Helper()
	header := make([]byte, 4)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.Tick(); err != nil {
			t.Fatalf("unexpected Tick error: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, err := io.ReadFull(conn, header)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed reading frame header: %v", err)
		}
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("failed reading frame payload: %v", err)
	}
	return payload
}

// tickUntil drives the server's reactor loop manually until cond reports
// true or the deadline elapses.
func tickUntil(t *testing.T, s *Server, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		if err := s.Tick(); err != nil {
			t.Fatalf("unexpected Tick error: %v", err)
		}
	}
	t.Fatalf("condition never became true")
}

func TestSelfInPeerSetIsRejected(t *testing.T) {
	peers := map[types.ServerId]types.NetAddr{1: "127.0.0.1:1"}
	_, err := newTestBuilder(1, peers).Finalize()
	if err != types.ErrInvalidPeerSet {
		t.Fatalf("expected ErrInvalidPeerSet, got %v", err)
	}
}

func TestUnreachablePeerIsImmediatelyInBackoff(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s, err := newTestBuilder(1, map[types.ServerId]types.NetAddr{2: types.NetAddr(addr)}).Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	if s.PeerConnected(2) {
		t.Fatalf("expected peer 2 to be in back-off immediately after construction, with no tick")
	}
}

func TestPeerDialConnectsAndSendsPreamble(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	s, err := newTestBuilder(1, map[types.ServerId]types.NetAddr{2: types.NetAddr(ln.Addr().String())}).Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tickUntil(t, s, func() bool { return s.PeerConnected(2) })

	var peerSide net.Conn
	select {
	case peerSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("peer never accepted the dial")
	}
	defer peerSide.Close()

	payload := readFrame(t, s, peerSide)
	preamble, err := types.DecodePreamble(payload)
	if err != nil {
		t.Fatalf("failed decoding preamble: %v", err)
	}
	if preamble.Kind != types.PreambleServer || preamble.ServerID != 1 {
		t.Fatalf("unexpected preamble: %+v", preamble)
	}
}

func TestInboundPeerPreambleSwapsBackoffSlot(t *testing.T) {
	unreachable, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	peerAddr := unreachable.Addr().String()
	unreachable.Close()

	s, err := newTestBuilder(1, map[types.ServerId]types.NetAddr{2: types.NetAddr(peerAddr)}).Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	if s.PeerConnected(2) {
		t.Fatalf("expected peer 2 to start in back-off")
	}

	inbound, err := net.Dial("tcp", string(s.ListenAddr()))
	if err != nil {
		t.Fatalf("failed dialing server: %v", err)
	}
	defer inbound.Close()

	preamble, err := types.EncodePreamble(types.WirePreamble{Kind: types.PreambleServer, ServerID: 2, Addr: types.NetAddr(peerAddr)})
	if err != nil {
		t.Fatalf("failed encoding preamble: %v", err)
	}
	writeFrame(t, inbound, preamble)

	tickUntil(t, s, func() bool { return s.PeerConnected(2) })
}

// TestInboundPeerPreambleSwapsLiveConnection covers the harder case named
// explicitly by spec.md's scenario S3: swapping a peer slot that already
// holds a live, accepted connection, not just a back-off placeholder. The
// old socket must be closed, consensus's peer address updated, and the
// slot must keep reporting connected under the new handle.
func TestInboundPeerPreambleSwapsLiveConnection(t *testing.T) {
	unreachable, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	peerAddr := unreachable.Addr().String()
	unreachable.Close()

	s, err := newTestBuilder(1, map[types.ServerId]types.NetAddr{2: types.NetAddr(peerAddr)}).Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	firstAddr := types.NetAddr("127.0.0.1:9001")
	first, err := net.Dial("tcp", string(s.ListenAddr()))
	if err != nil {
		t.Fatalf("failed dialing server: %v", err)
	}
	defer first.Close()

	firstPreamble, err := types.EncodePreamble(types.WirePreamble{Kind: types.PreambleServer, ServerID: 2, Addr: firstAddr})
	if err != nil {
		t.Fatalf("failed encoding preamble: %v", err)
	}
	writeFrame(t, first, firstPreamble)
	tickUntil(t, s, func() bool { return s.PeerConnected(2) && s.Peers()[2] == firstAddr })

	secondAddr := types.NetAddr("127.0.0.1:9002")
	second, err := net.Dial("tcp", string(s.ListenAddr()))
	if err != nil {
		t.Fatalf("failed dialing server: %v", err)
	}
	defer second.Close()

	secondPreamble, err := types.EncodePreamble(types.WirePreamble{Kind: types.PreambleServer, ServerID: 2, Addr: secondAddr})
	if err != nil {
		t.Fatalf("failed encoding preamble: %v", err)
	}
	writeFrame(t, second, secondPreamble)
	tickUntil(t, s, func() bool { return s.Peers()[2] == secondAddr })

	if !s.PeerConnected(2) {
		t.Fatalf("expected peer 2 to still report connected under the new handle")
	}

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := first.Read(buf); err != io.EOF {
		t.Fatalf("expected the superseded connection to be closed, got err=%v", err)
	}
}

// TestMalformedPeerMessageIsDeliveredOpaquely covers spec.md's scenario S6.
// Beyond the preamble, message payloads are opaque to the reactor: it never
// validates them, it only frames and delivers bytes, so an unparseable
// payload must reach Consensus verbatim and must not reset the connection.
func TestMalformedPeerMessageIsDeliveredOpaquely(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	builder, sm := newTestBuilderWithSM(1, map[types.ServerId]types.NetAddr{2: types.NetAddr(ln.Addr().String())})
	s, err := builder.Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	tickUntil(t, s, func() bool { return s.PeerConnected(2) })

	var peerSide net.Conn
	select {
	case peerSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("peer never accepted the dial")
	}
	defer peerSide.Close()
	readFrame(t, s, peerSide) // drain the server's own preamble

	garbage := []byte{0x00, 0xff, '{', 'n', 'o', 't', 0x01, 'j', 's', 'o', 'n'}
	writeFrame(t, peerSide, garbage)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Tick(); err != nil {
			t.Fatalf("unexpected Tick error: %v", err)
		}
		for _, applied := range sm.Applied() {
			if bytes.Equal(applied, garbage) {
				if !s.PeerConnected(2) {
					t.Fatalf("connection should not have been reset by an opaque payload")
				}
				return
			}
		}
	}
	t.Fatalf("malformed peer message was never delivered to the state machine")
}

func TestClientAcceptEchoAndDisconnect(t *testing.T) {
	s, err := newTestBuilder(1, nil).Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", string(s.ListenAddr()))
	if err != nil {
		t.Fatalf("failed dialing server: %v", err)
	}
	defer conn.Close()

	var clientID types.ClientId
	clientID[0] = 0x42

	preamble, err := types.EncodePreamble(types.WirePreamble{Kind: types.PreambleClient, ClientID: clientID})
	if err != nil {
		t.Fatalf("failed encoding preamble: %v", err)
	}
	writeFrame(t, conn, preamble)

	tickUntil(t, s, func() bool { return s.ClientConnected(clientID) })

	writeFrame(t, conn, []byte("ping"))

	for {
		if err := s.Tick(); err != nil {
			t.Fatalf("unexpected Tick error: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err == nil {
			payload := make([]byte, binary.BigEndian.Uint32(header))
			if _, err := io.ReadFull(conn, payload); err != nil {
				t.Fatalf("failed reading echoed payload: %v", err)
			}
			if !bytes.Equal(payload, []byte("ping")) {
				t.Fatalf("got echo %q, want %q", payload, "ping")
			}
			break
		}
	}

	conn.Close()
	tickUntil(t, s, func() bool { return !s.ClientConnected(clientID) })
}

func TestMalformedPreambleResetsConnection(t *testing.T) {
	s, err := newTestBuilder(1, nil).Finalize()
	if err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", string(s.ListenAddr()))
	if err != nil {
		t.Fatalf("failed dialing server: %v", err)
	}
	defer conn.Close()

	writeFrame(t, conn, []byte("not a valid preamble"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Tick(); err != nil {
			t.Fatalf("unexpected Tick error: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err == io.EOF {
			return
		}
	}
	t.Fatalf("expected server to close the connection after a malformed preamble")
}
