//go:build linux

package dialer

import (
	"net"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// bindControl returns a net.Dialer Control callback that sets
// SO_BINDTODEVICE to the interface name before connect. This requires
// CAP_NET_RAW (or root) on most kernels.
func bindControl(iface string) (func(network, address string, c syscall.RawConn) error, error) {
	iface = strings.TrimSpace(iface)
	if iface == "" {
		return nil, unix.EINVAL
	}

	if _, err := net.InterfaceByName(iface); err != nil {
		return nil, err
	}

	return func(network, address string, c syscall.RawConn) error {
		var controlErr error
		if err := c.Control(func(fd uintptr) {
			controlErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
		}); err != nil {
			return err
		}
		return controlErr
	}, nil
}
