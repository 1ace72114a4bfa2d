//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST and SO_REUSEADDR on the socket before
// bind. Linux and the BSDs refuse sends to a broadcast address without
// SO_BROADCAST.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
