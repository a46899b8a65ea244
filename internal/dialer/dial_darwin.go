//go:build darwin

package dialer

import (
	"net"
	"strings"
	"syscall"
)

// bindControl resolves iface to its OS index and returns a net.Dialer
// Control callback that sets IP_BOUND_IF (IPv4) or IPV6_BOUND_IF (IPv6)
// before connect, matching outbound_bind_darwin.go's approach.
func bindControl(iface string) (func(network, address string, c syscall.RawConn) error, error) {
	iface = strings.TrimSpace(iface)
	if iface == "" {
		return nil, syscall.EINVAL
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	index := ifi.Index

	return func(network, address string, c syscall.RawConn) error {
		var controlErr error
		if err := c.Control(func(fd uintptr) {
			if strings.HasPrefix(network, "tcp6") {
				controlErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_BOUND_IF, index)
				return
			}
			controlErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_BOUND_IF, index)
		}); err != nil {
			return err
		}
		return controlErr
	}, nil
}
