//go:build !darwin && !linux

package dialer

import (
	"fmt"
	"runtime"
	"syscall"
)

// bindControl is unimplemented outside Darwin/Linux. The spec mandates
// that the dialer never silently fall back to an unbound socket, so an
// unsupported platform must fail fast rather than guess.
func bindControl(iface string) (func(network, address string, c syscall.RawConn) error, error) {
	return nil, fmt.Errorf("interface binding not implemented on %s", runtime.GOOS)
}
