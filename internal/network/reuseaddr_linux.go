//go:build linux

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a listen config that sets SO_REUSEADDR so
// the API port can be rebound while the previous socket sits in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}
