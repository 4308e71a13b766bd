// Package codec implements the length-framed binary wire format used
// between reactor connections. Frames are a 4-byte big-endian length
// header followed by that many opaque payload bytes.
package codec

import (
	"encoding/binary"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

const headerSize = 4

// Encode wraps payload in a length-prefixed frame ready to be enqueued on
// a connection's outbound queue.
func Encode(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// Decoder incrementally parses a stream of length-framed messages. It is
// restartable: Feed accepts byte slices of any size (including a partial
// header or a partial payload) and returns every complete message found,
// retaining any residual bytes for the next call.
type Decoder struct {
	maxFrame uint32
	buf      []byte
}

// NewDecoder builds a Decoder that rejects any frame whose declared length
// exceeds maxFrame.
func NewDecoder(maxFrame uint32) *Decoder {
	return &Decoder{maxFrame: maxFrame}
}

// Feed appends data to the internal buffer and extracts every complete
// frame now available. A malformed length prefix (exceeding maxFrame) is
// fatal to the connection and reported as types.ErrFrameTooLarge; the
// caller must reset the connection in that case.
func (d *Decoder) Feed(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)

	var messages [][]byte
	for {
		if len(d.buf) < headerSize {
			break
		}
		length := binary.BigEndian.Uint32(d.buf[:headerSize])
		if length > d.maxFrame {
			return messages, types.ErrFrameTooLarge
		}
		total := headerSize + int(length)
		if len(d.buf) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, d.buf[headerSize:total])
		messages = append(messages, payload)
		d.buf = d.buf[total:]
	}

	// Compact now rather than letting the residual grow unboundedly
	// across many small Feed calls.
	if len(d.buf) > 0 && cap(d.buf) > 4*len(d.buf) {
		compacted := make([]byte, len(d.buf))
		copy(compacted, d.buf)
		d.buf = compacted
	}

	return messages, nil
}

// Reset discards any residual buffered bytes, used when a connection is
// reset and its partial-message state must not leak into its next life.
func (d *Decoder) Reset() {
	d.buf = nil
}
