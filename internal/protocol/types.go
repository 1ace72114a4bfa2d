// Package protocol defines the wire protocol for node-discovery rendezvous.
//
// Frames are single UDP datagrams of UTF-8 text with space-separated
// fields. The leading token selects the frame type:
//
//	DISCOVER_REQ   <seq>
//	DISCOVER_ACK   <seq>
//	CONNECT_REQ    <seq> <jsonPayload>
//	CONNECT_ACK    <seq>
//	KEEPALIVE_REQ  <seq> <jsonPayload>
//	KEEPALIVE_ACK  <seq>
//	ERROR          <seq> <offendingType>
//
// Datagrams whose leading token is not one of these are not protocol
// frames; receivers hand them to the host application unmodified.
package protocol

// Type identifies a frame type by its wire token.
type Type string

// Frame type tokens
const (
	TypeDiscoverReq  Type = "DISCOVER_REQ"  // Broadcast server lookup
	TypeDiscoverAck  Type = "DISCOVER_ACK"  // Server lookup response
	TypeConnectReq   Type = "CONNECT_REQ"   // Register with discovered server
	TypeConnectAck   Type = "CONNECT_ACK"   // Registration accepted
	TypeKeepaliveReq Type = "KEEPALIVE_REQ" // Liveness probe
	TypeKeepaliveAck Type = "KEEPALIVE_ACK" // Liveness response
	TypeError        Type = "ERROR"         // Protocol violation, payload names the offending type
)

var knownTypes = map[Type]bool{
	TypeDiscoverReq:  true,
	TypeDiscoverAck:  true,
	TypeConnectReq:   true,
	TypeConnectAck:   true,
	TypeKeepaliveReq: true,
	TypeKeepaliveAck: true,
	TypeError:        true,
}

// KnownType reports whether token is one of the protocol's frame types.
func KnownType(token string) bool {
	return knownTypes[Type(token)]
}

// IsRequest reports whether t is a client-originated request frame.
func IsRequest(t Type) bool {
	switch t {
	case TypeDiscoverReq, TypeConnectReq, TypeKeepaliveReq:
		return true
	}
	return false
}

// AckFor returns the acknowledgement type for a request frame.
// The second return value is false for non-request types.
func AckFor(t Type) (Type, bool) {
	switch t {
	case TypeDiscoverReq:
		return TypeDiscoverAck, true
	case TypeConnectReq:
		return TypeConnectAck, true
	case TypeKeepaliveReq:
		return TypeKeepaliveAck, true
	}
	return "", false
}
