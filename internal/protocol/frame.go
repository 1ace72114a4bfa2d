package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMalformedFrame is returned when a datagram cannot be decoded as a
	// protocol frame. Callers treat such datagrams as pass-through,
	// non-protocol messages.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Message represents a decoded wire frame.
// Payload is the raw bytes after the sequence field; it is opaque at this
// layer and only CONNECT_REQ/KEEPALIVE_REQ consumers parse it as JSON.
type Message struct {
	Type    Type
	Seq     uint64
	Payload []byte
}

// Encode serializes the message to its wire form:
// "<TYPE> <seq>[ <payload>]".
func Encode(msg Message) []byte {
	buf := make([]byte, 0, len(msg.Type)+21+len(msg.Payload))
	buf = append(buf, msg.Type...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, msg.Seq, 10)
	if len(msg.Payload) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, msg.Payload...)
	}
	return buf
}

// Decode parses a datagram as a protocol frame.
// It fails with ErrMalformedFrame when the leading token is not a known
// frame type or the sequence field is missing or not a non-negative
// integer.
func Decode(data []byte) (Message, error) {
	fields := bytes.SplitN(data, []byte{' '}, 3)

	token := string(fields[0])
	if !KnownType(token) {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, token)
	}

	if len(fields) < 2 {
		return Message{}, fmt.Errorf("%w: %s frame missing sequence", ErrMalformedFrame, token)
	}
	seq, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: bad sequence %q", ErrMalformedFrame, fields[1])
	}

	msg := Message{Type: Type(token), Seq: seq}
	if len(fields) == 3 {
		msg.Payload = fields[2]
	}
	return msg, nil
}

// ParsePayload decodes a CONNECT_REQ/KEEPALIVE_REQ payload as a JSON
// object. Malformed or empty input yields an empty object; a payload
// parse failure never fails the request that carried it.
func ParsePayload(raw []byte) map[string]any {
	payload := make(map[string]any)
	if len(raw) == 0 {
		return payload
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return make(map[string]any)
	}
	return payload
}

// String returns a debug representation of the message.
func (m Message) String() string {
	if len(m.Payload) == 0 {
		return fmt.Sprintf("Message{Type=%s, Seq=%d}", m.Type, m.Seq)
	}
	return fmt.Sprintf("Message{Type=%s, Seq=%d, PayloadLen=%d}", m.Type, m.Seq, len(m.Payload))
}
