package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrAddrInUse is returned when binding a hub endpoint whose address is
// already taken.
var ErrAddrInUse = errors.New("address already in use")

// Hub is an in-process datagram switch used in tests. Every endpoint
// bound to the same hub shares one broadcast domain: a send to an address
// with the IPv4 broadcast IP reaches every other endpoint listening on
// that port.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*MemConn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*MemConn)}
}

// Listen binds an endpoint at addr ("ip:port"). Broadcast sends go to
// broadcast, which may be nil for endpoints that never broadcast.
func (h *Hub) Listen(addr string, broadcast *net.UDPAddr, recv RecvFunc) (*MemConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := udpAddr.String()
	if _, ok := h.conns[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, key)
	}

	c := &MemConn{hub: h, addr: udpAddr, broadcast: broadcast, recv: recv}
	h.conns[key] = c
	return c, nil
}

func (h *Hub) deliver(from *net.UDPAddr, to *net.UDPAddr, data []byte) {
	h.mu.Lock()
	var targets []*MemConn
	if to.IP.Equal(net.IPv4bcast) {
		for _, c := range h.conns {
			if c.addr.Port == to.Port && c.addr.String() != from.String() {
				targets = append(targets, c)
			}
		}
	} else if c, ok := h.conns[to.String()]; ok {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	// Unknown destinations drop silently, like UDP.
	for _, c := range targets {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.deliver(Datagram{Data: buf, From: from})
	}
}

// MemConn is one endpoint on a Hub.
type MemConn struct {
	hub       *Hub
	addr      *net.UDPAddr
	broadcast *net.UDPAddr
	recv      RecvFunc

	mu     sync.Mutex
	closed bool
}

// Send delivers data to the endpoint bound at addr, if any.
func (c *MemConn) Send(data []byte, addr *net.UDPAddr) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	c.hub.deliver(c.addr, addr, data)
	return nil
}

// Broadcast delivers data to every other endpoint on the broadcast port.
func (c *MemConn) Broadcast(data []byte) error {
	if c.broadcast == nil {
		return ErrNoBroadcast
	}
	return c.Send(data, c.broadcast)
}

// LocalAddr returns the bound address.
func (c *MemConn) LocalAddr() *net.UDPAddr {
	return c.addr
}

// Close unbinds the endpoint from the hub.
func (c *MemConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	delete(c.hub.conns, c.addr.String())
	c.hub.mu.Unlock()
	return nil
}

func (c *MemConn) deliver(d Datagram) {
	c.mu.Lock()
	closed := c.closed
	recv := c.recv
	c.mu.Unlock()
	if closed || recv == nil {
		return
	}
	recv(d)
}

var _ Conn = (*MemConn)(nil)
var _ Conn = (*UDP)(nil)
