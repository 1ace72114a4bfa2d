//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// enableBroadcast sets SO_BROADCAST and SO_REUSEADDR on the socket before
// bind.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
