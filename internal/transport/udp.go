package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ErrNoBroadcast is returned by Broadcast on endpoints bound without a
// broadcast address.
var ErrNoBroadcast = errors.New("no broadcast address configured")

// maxDatagramSize bounds a single receive. The protocol fits each frame
// in one datagram, so anything larger is not ours.
const maxDatagramSize = 64 * 1024

// UDPConfig configures a UDP endpoint.
type UDPConfig struct {
	// LocalPort is the port to bind on all interfaces. Zero selects an
	// ephemeral port.
	LocalPort int

	// Broadcast is the destination for Broadcast sends. Nil disables
	// broadcasting (server side).
	Broadcast *net.UDPAddr
}

// UDP is a broadcast-capable UDP endpoint with a background read loop.
type UDP struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr

	closed atomic.Bool
	wg     sync.WaitGroup
}

// ListenUDP binds a UDP socket with SO_BROADCAST enabled and starts the
// read loop delivering datagrams to recv. Bind failures are the only
// fatal transport errors.
func ListenUDP(cfg UDPConfig, recv RecvFunc) (*UDP, error) {
	lc := net.ListenConfig{Control: enableBroadcast}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.LocalPort))
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", cfg.LocalPort, err)
	}

	u := &UDP{
		conn:      pc.(*net.UDPConn),
		broadcast: cfg.Broadcast,
	}

	if recv == nil {
		recv = func(Datagram) {}
	}

	u.wg.Add(1)
	go u.readLoop(recv)

	return u, nil
}

// Send transmits data to a single peer. Send never blocks on the peer.
func (u *UDP) Send(data []byte, addr *net.UDPAddr) error {
	_, err := u.conn.WriteToUDP(data, addr)
	return err
}

// Broadcast transmits data to the configured broadcast address.
func (u *UDP) Broadcast(data []byte) error {
	if u.broadcast == nil {
		return ErrNoBroadcast
	}
	return u.Send(data, u.broadcast)
}

// LocalAddr returns the bound local address.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts down the socket and waits for the read loop to exit.
func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

func (u *UDP) readLoop(recv RecvFunc) {
	defer u.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient receive errors are not fatal for a
			// connectionless socket.
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		recv(Datagram{Data: data, From: from})
	}
}
