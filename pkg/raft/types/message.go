package types

import "encoding/json"

// Message is an opaque payload exchanged with Consensus. The reactor never
// interprets its contents; it only frames and delivers the bytes.
type Message struct {
	Payload []byte
}

// PreambleKind distinguishes the two wire preamble variants described in
// the external interface (§6.3): a server announcing itself to a peer, or
// a client opening a session.
type PreambleKind string

const (
	PreambleServer PreambleKind = "server"
	PreambleClient PreambleKind = "client"
)

// WirePreamble is the first frame sent on every connection. It is encoded
// with encoding/json, the same wire encoding the teacher's transport layer
// uses for its own messages.
type WirePreamble struct {
	Kind PreambleKind `json:"kind"`

	// Set when Kind == PreambleServer.
	ServerID ServerId `json:"server_id,omitempty"`
	Addr     NetAddr  `json:"addr,omitempty"`

	// Set when Kind == PreambleClient.
	ClientID ClientId `json:"client_id,omitempty"`
}

// EncodePreamble serializes a WirePreamble to be sent as the payload of the
// first frame on a connection.
func EncodePreamble(p WirePreamble) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePreamble attempts to parse the first frame's payload as a
// WirePreamble. A decode failure means the first message was not a valid
// preamble and the connection must be reset as malformed.
func DecodePreamble(data []byte) (WirePreamble, error) {
	var p WirePreamble
	if err := json.Unmarshal(data, &p); err != nil {
		return WirePreamble{}, err
	}
	if p.Kind != PreambleServer && p.Kind != PreambleClient {
		return WirePreamble{}, ErrUnknownConnectionType
	}
	return p, nil
}
