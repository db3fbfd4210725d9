//go:build windows

package api

import "net"

// reuseAddrListenConfig returns the default config. SO_REUSEADDR on Windows
// allows port hijacking, so it is not set.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
