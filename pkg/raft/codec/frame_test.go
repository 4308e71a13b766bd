package codec

import (
	"bytes"
	"testing"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := NewDecoder(1024)
	frame := Encode([]byte("hello"))

	messages, err := d.Feed(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 || !bytes.Equal(messages[0], []byte("hello")) {
		t.Fatalf("unexpected messages: %v", messages)
	}
}

func TestDecoderIsRestartable(t *testing.T) {
	d := NewDecoder(1024)
	frame := Encode([]byte("restartable"))

	var got [][]byte
	for i := 0; i < len(frame); i++ {
		msgs, err := d.Feed(frame[i : i+1])
		if err != nil {
			t.Fatalf("unexpected error feeding byte %d: %v", i, err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte("restartable")) {
		t.Fatalf("expected one reassembled message, got %v", got)
	}
}

func TestDecoderYieldsMultipleFramesFromOneFeed(t *testing.T) {
	d := NewDecoder(1024)
	var buf []byte
	buf = append(buf, Encode([]byte("a"))...)
	buf = append(buf, Encode([]byte("bb"))...)
	buf = append(buf, Encode([]byte("ccc"))...)

	messages, err := d.Feed(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")} {
		if !bytes.Equal(messages[i], want) {
			t.Fatalf("message %d = %q, want %q", i, messages[i], want)
		}
	}
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	d := NewDecoder(4)
	frame := Encode([]byte("toolong"))

	_, err := d.Feed(frame)
	if err != types.ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecoderResetDiscardsResidual(t *testing.T) {
	d := NewDecoder(1024)
	frame := Encode([]byte("partial"))

	if _, err := d.Feed(frame[:3]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Reset()

	// Had the three header bytes survived Reset, this fresh frame would be
	// misread behind them and fail with ErrFrameTooLarge.
	messages, err := d.Feed(Encode([]byte("fresh")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 || !bytes.Equal(messages[0], []byte("fresh")) {
		t.Fatalf("expected only the fresh frame after reset discarded the partial header, got %v", messages)
	}
}
