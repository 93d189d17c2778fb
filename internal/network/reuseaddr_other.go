//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config; BSD-derived
// systems already allow rebinding a port in TIME_WAIT for listeners.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
