// Package transport provides the datagram transport for node-discovery:
// a broadcast-capable UDP socket for production and an in-process hub
// for tests.
//
// Sends are fire-and-forget. Delivery, ordering, and duplication are the
// protocol layer's problem, not the transport's.
package transport

import "net"

// Datagram is a received datagram together with its sender.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
}

// RecvFunc is invoked for every received datagram. It is called from the
// transport's read goroutine; implementations must not block indefinitely.
type RecvFunc func(Datagram)

// Conn is a bound datagram endpoint.
type Conn interface {
	// Send transmits data to a single peer.
	Send(data []byte, addr *net.UDPAddr) error

	// Broadcast transmits data to the configured broadcast address.
	Broadcast(data []byte) error

	// LocalAddr returns the bound local address.
	LocalAddr() *net.UDPAddr

	// Close shuts down the endpoint and stops the receive callbacks.
	Close() error
}
