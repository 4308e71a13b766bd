//go:build linux

package core

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

// waitConnected gives a connecting peer Connection time to finish its
// handshake: it sleeps in 5ms steps and calls FinishDialing, which only
// reports a pending socket error (SO_ERROR is also 0 while the connect is
// still in progress). Loopback connects settle well within the first step.
func waitConnected(t *testing.T, c *Connection) {
	t.Helper()
	if c.State == StateConnected {
		return
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		if err := c.FinishDialing(); err == nil {
			return
		}
	}
	t.Fatalf("peer connection never became writable")
}

func TestDialPeerConnectsAndExchangesFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	conn, connected, err := DialPeer(types.ServerId(1), types.NetAddr(ln.Addr().String()))
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()
	if !connected {
		waitConnected(t, conn)
	}

	var peerSide net.Conn
	select {
	case peerSide = <-accepted:
	case <-time.After(time.Second):
		t.Fatalf("listener never accepted the dial")
	}
	defer peerSide.Close()

	if needsRearm := conn.Enqueue([]byte("hello")); !needsRearm {
		t.Fatalf("expected needsRearm on first enqueue")
	}
	if err := conn.Writable(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(peerSide, header); err != nil {
		t.Fatalf("failed reading frame header: %v", err)
	}
	length := binary.BigEndian.Uint32(header)
	payload := make([]byte, length)
	if _, err := io.ReadFull(peerSide, payload); err != nil {
		t.Fatalf("failed reading frame payload: %v", err)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("got payload %q, want %q", payload, "hello")
	}
}

func TestConnectionReadableDecodesFramesFromPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	conn, connected, err := DialPeer(types.ServerId(1), types.NetAddr(ln.Addr().String()))
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()
	if !connected {
		waitConnected(t, conn)
	}

	var peerSide net.Conn
	select {
	case peerSide = <-accepted:
	case <-time.After(time.Second):
		t.Fatalf("listener never accepted the dial")
	}
	defer peerSide.Close()

	frame := make([]byte, 4+len("world"))
	binary.BigEndian.PutUint32(frame, uint32(len("world")))
	copy(frame[4:], "world")
	if _, err := peerSide.Write(frame); err != nil {
		t.Fatalf("failed writing frame: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		messages, err := conn.Readable()
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if len(messages) == 1 {
			if !bytes.Equal(messages[0].Payload, []byte("world")) {
				t.Fatalf("got %q, want %q", messages[0].Payload, "world")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("frame never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDialPeerSurfacesSynchronousFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing is listening now; connect should be refused

	_, _, err = DialPeer(types.ServerId(1), types.NetAddr(addr))
	if err == nil {
		t.Fatalf("expected a synchronous dial failure against a closed port")
	}
}

func TestResetPeerClosesSocketAndClearsState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	conn, connected, err := DialPeer(types.ServerId(1), types.NetAddr(ln.Addr().String()))
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	if !connected {
		waitConnected(t, conn)
	}
	conn.Enqueue([]byte("queued"))

	conn.ResetPeer()

	if conn.FD() != -1 {
		t.Fatalf("expected no live socket after ResetPeer")
	}
	if conn.State != StateBackOff {
		t.Fatalf("expected StateBackOff after ResetPeer, got %v", conn.State)
	}
	if read, write := conn.DesiredInterest(); read || write {
		t.Fatalf("expected no readiness interest while in back-off")
	}
}
