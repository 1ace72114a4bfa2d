package client

import "net"

// Handler receives session events from a Client. Callbacks run on the
// client's event loop; they must not block and must not call back into
// blocking Client methods.
type Handler interface {
	// Connected fires when the connect handshake completes. server is
	// the rendezvous endpoint the session is bound to.
	Connected(server *net.UDPAddr)

	// Disconnected fires when an established session is torn down,
	// either by a missing ack or by a matching error frame. Discovery
	// restarts immediately after.
	Disconnected()

	// Message fires for every datagram that is not part of the
	// protocol exchange, with the raw bytes unmodified.
	Message(from *net.UDPAddr, data []byte)
}

// NopHandler discards all events.
type NopHandler struct{}

func (NopHandler) Connected(*net.UDPAddr)       {}
func (NopHandler) Disconnected()                {}
func (NopHandler) Message(*net.UDPAddr, []byte) {}
