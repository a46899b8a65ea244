package httpproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paulGUZU/ifproxy/internal/dialer"
	"github.com/paulGUZU/ifproxy/internal/logging"
)

// requireLoopbackIface finds an up loopback interface so Serve tests can
// exercise a real bound dial; it skips the test where none is available.
func requireLoopbackIface(t *testing.T) string {
	t.Helper()
	ifaces, err := net.Interfaces()
	require.NoError(t, err)
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 && ifc.Flags&net.FlagUp != 0 {
			return ifc.Name
		}
	}
	t.Skip("no loopback interface available")
	return ""
}

// newLoopbackDialer returns a Dialer bound to the host's loopback
// interface, skipping the test if interface binding is not permitted in
// the current environment (e.g. missing CAP_NET_RAW).
func newLoopbackDialer(t *testing.T) *dialer.Dialer {
	t.Helper()
	d := dialer.New(requireLoopbackIface(t))

	probeLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer probeLn.Close()

	addr := probeLn.Addr().(*net.TCPAddr)
	conn, err := d.Dial(context.Background(), "127.0.0.1", addr.Port, time.Second)
	if err != nil {
		t.Skipf("interface binding unavailable in this environment: %v", err)
	}
	conn.Close()
	return d
}

func testHandler(t *testing.T, d *dialer.Dialer) *Handler {
	t.Helper()
	return &Handler{
		Dialer:         d,
		Log:            logging.NewWithOptions(io.Discard, logging.DefaultBudget),
		ReadTimeout:    2 * time.Second,
		SessionTimeout: 2 * time.Second,
		IdleTimeout:    2 * time.Second,
	}
}

func serveOneConn(t *testing.T, h *Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h.Serve(conn)
	}()
	return ln.Addr().String()
}

// TestServeRewritesAndForwardsOriginFormRequest drives the HTTP origin-form
// scenario over real sockets: the upstream must receive the rewritten
// origin-form request line and the response must be relayed verbatim.
func TestServeRewritesAndForwardsOriginFormRequest(t *testing.T) {
	d := newLoopbackDialer(t)

	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()
	upstreamAddr := upstreamLn.Addr().String()

	upstreamReq := make(chan string, 1)
	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		upstreamReq <- string(buf[:n])
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	}()

	h := testHandler(t, d)
	proxyAddr := serveOneConn(t, h)

	client, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	defer client.Close()

	request := fmt.Sprintf("GET http://%s/ HTTP/1.1\r\nHost: %s\r\n\r\n", upstreamAddr, upstreamAddr)
	_, err = client.Write([]byte(request))
	require.NoError(t, err)
	if tc, ok := client.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	select {
	case got := <-upstreamReq:
		require.Equal(t, fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n\r\n", upstreamAddr), got)
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received the forwarded request")
	}

	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi", string(resp))
}

// TestServeTunnelsConnectRequest drives the HTTPS CONNECT scenario: the
// client must receive the literal "200 Connection Established" reply, and
// bytes after that are tunneled byte-for-byte in both directions.
func TestServeTunnelsConnectRequest(t *testing.T) {
	d := newLoopbackDialer(t)

	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()
	upstreamAddr := upstreamLn.Addr().String()

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	h := testHandler(t, d)
	proxyAddr := serveOneConn(t, h)

	client, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	defer client.Close()

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", upstreamAddr, upstreamAddr)
	_, err = client.Write([]byte(connectReq))
	require.NoError(t, err)

	want := "HTTP/1.1 200 Connection Established\r\n\r\n"
	reply := make([]byte, len(want))
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	require.Equal(t, want, string(reply))

	payload := []byte("tunnel-bytes-both-ways")
	_, err = client.Write(payload)
	require.NoError(t, err)
	if tc, ok := client.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	got, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestServeReturns502OnConnectDialFailure drives the refused-dial scenario:
// CONNECT to a port nothing listens on must yield a literal 502 reply.
func TestServeReturns502OnConnectDialFailure(t *testing.T) {
	d := newLoopbackDialer(t)

	tempLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	refusedAddr := tempLn.Addr().String()
	require.NoError(t, tempLn.Close())

	h := testHandler(t, d)
	proxyAddr := serveOneConn(t, h)

	client, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	defer client.Close()

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", refusedAddr, refusedAddr)
	_, err = client.Write([]byte(connectReq))
	require.NoError(t, err)

	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 502 Bad Gateway\r\n\r\n", string(resp))
}
