package server

import "net"

// Handler receives connection lifecycle and pass-through events from the
// server. Callbacks are invoked from the server's event loop and must not
// block; the registry snapshot they receive is a private copy.
type Handler interface {
	// Connected is called after a client is registered.
	Connected(rec ClientRecord, clients []ClientRecord)

	// Closed is called after a client is evicted, with its last known
	// record.
	Closed(rec ClientRecord, clients []ClientRecord)

	// Message is called for every non-protocol datagram, unmodified.
	Message(from *net.UDPAddr, data []byte)
}

// NopHandler is a Handler that ignores all events.
type NopHandler struct{}

func (NopHandler) Connected(ClientRecord, []ClientRecord) {}
func (NopHandler) Closed(ClientRecord, []ClientRecord)    {}
func (NopHandler) Message(*net.UDPAddr, []byte)           {}
