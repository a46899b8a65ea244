// Package dialer opens outbound TCP connections pinned to a caller-named
// network interface, so the egress path ignores the host's routing table.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Dialer binds every connection it opens to a fixed interface.
type Dialer struct {
	Iface string

	// resolver is overridable in tests (grounded on the teacher's pattern
	// of accepting a pluggable transport rather than hardcoding net.Dial).
	resolver *net.Resolver
}

// New returns a Dialer bound to the named interface.
func New(iface string) *Dialer {
	return &Dialer{Iface: iface, resolver: net.DefaultResolver}
}

// Dial resolves host, then tries each candidate address in order, binding
// the outbound socket to d.Iface before connect. It never falls back to an
// unbound socket: a bind failure on a candidate is a dial failure for that
// candidate, not a reason to drop the binding.
func (d *Dialer) Dial(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	control, err := bindControl(d.Iface)
	if err != nil {
		return nil, newError(KindInterfaceUnknown, host, port, d.Iface, err)
	}

	addrs, err := d.lookup(ctx, host)
	if err != nil {
		return nil, newError(KindNoRoute, host, port, d.Iface, err)
	}

	var lastErr error
	allTimedOut := true
	for _, ip := range addrs {
		network := "tcp4"
		if ip.To4() == nil {
			network = "tcp6"
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		nd := &net.Dialer{Control: control}
		addr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))
		conn, dialErr := nd.DialContext(dialCtx, network, addr)
		cancel()
		if dialErr == nil {
			return conn, nil
		}

		lastErr = dialErr
		var netErr net.Error
		if !errors.As(dialErr, &netErr) || !netErr.Timeout() {
			allTimedOut = false
		}
	}

	if allTimedOut {
		return nil, newError(KindTimeout, host, port, d.Iface, lastErr)
	}
	return nil, newError(KindNoRoute, host, port, d.Iface, lastErr)
}

func (d *Dialer) lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	r := d.resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}
