// Package httpproxy implements the HTTP/1.x front-end: absolute-form
// request forwarding and HTTPS CONNECT tunneling.
package httpproxy

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/paulGUZU/ifproxy/internal/dialer"
	"github.com/paulGUZU/ifproxy/internal/logging"
	"github.com/paulGUZU/ifproxy/internal/pump"
)

// MaxHeadSize caps how many bytes of a request head we will buffer before
// giving up, per spec 4.4.
const MaxHeadSize = 64 * 1024

// Handler serves one accepted client connection end to end.
type Handler struct {
	Dialer         *dialer.Dialer
	Log            *logging.Logger
	ReadTimeout    time.Duration
	SessionTimeout time.Duration
	IdleTimeout    time.Duration
}

// Serve reads and dispatches exactly one request head from conn, then
// (on success) runs the tunnel for the remainder of the connection's
// lifetime. conn is always closed before Serve returns.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()

	deadline := time.Now().Add(h.ReadTimeout)
	_ = conn.SetReadDeadline(deadline)

	buf, headEnd, err := readHead(conn, MaxHeadSize)
	if err != nil {
		h.Log.Log("httpproxy: read head: " + err.Error())
		writeStatusLine(conn, 400, "Bad Request")
		return
	}

	head, err := ParseHead(buf[:headEnd])
	if err != nil {
		h.Log.Log("httpproxy: parse head: " + err.Error())
		writeStatusLine(conn, 400, "Bad Request")
		return
	}
	trailing := buf[headEnd:]

	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(context.Background(), h.ReadTimeout)
	defer cancel()

	if head.IsConnect() {
		h.serveConnect(ctx, conn, head, trailing)
		return
	}
	h.serveForward(ctx, conn, head, trailing)
}

func (h *Handler) serveConnect(ctx context.Context, conn net.Conn, head *RequestHead, trailing []byte) {
	dst, err := ConnectDestination(head.Target)
	if err != nil {
		h.Log.Log("httpproxy: " + err.Error())
		writeStatusLine(conn, 400, "Bad Request")
		return
	}

	upstream, err := h.Dialer.Dial(ctx, dst.Host, dst.Port, h.ReadTimeout)
	if err != nil {
		h.Log.Log("httpproxy: CONNECT dial failed: " + err.Error())
		writeStatusLine(conn, 502, "Bad Gateway")
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		h.Log.Log("httpproxy: write CONNECT reply: " + err.Error())
		return
	}
	if len(trailing) > 0 {
		if _, err := upstream.Write(trailing); err != nil {
			h.Log.Log("httpproxy: replay buffered bytes: " + err.Error())
			return
		}
	}

	if err := pump.Run(conn, upstream, h.IdleTimeout, h.SessionTimeout); err != nil {
		h.Log.Log("httpproxy: tunnel ended: " + err.Error())
	}
}

func (h *Handler) serveForward(ctx context.Context, conn net.Conn, head *RequestHead, trailing []byte) {
	dst, err := OriginDestination(head)
	if err != nil {
		h.Log.Log("httpproxy: " + err.Error())
		writeStatusLine(conn, 400, "Bad Request")
		return
	}

	upstream, err := h.Dialer.Dial(ctx, dst.Host, dst.Port, h.ReadTimeout)
	if err != nil {
		h.Log.Log("httpproxy: forward dial failed: " + err.Error())
		writeStatusLine(conn, 502, "Bad Gateway")
		return
	}
	defer upstream.Close()

	rewritten := Serialize(RewriteRequestLine(head), head)
	if _, err := upstream.Write(rewritten); err != nil {
		h.Log.Log("httpproxy: write rewritten head: " + err.Error())
		return
	}
	if len(trailing) > 0 {
		if _, err := upstream.Write(trailing); err != nil {
			h.Log.Log("httpproxy: replay buffered body: " + err.Error())
			return
		}
	}

	if err := pump.Run(conn, upstream, h.IdleTimeout, h.SessionTimeout); err != nil {
		h.Log.Log("httpproxy: tunnel ended: " + err.Error())
	}
}

func writeStatusLine(conn net.Conn, code int, reason string) {
	line := "HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n\r\n"
	_, _ = conn.Write([]byte(line))
}

// readHead reads from conn until the head terminator is found, the
// configured ceiling is exceeded, or the read deadline already set on
// conn elapses.
func readHead(conn net.Conn, maxSize int) (buf []byte, headEnd int, err error) {
	buf = make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if end := FindHeadEnd(buf); end >= 0 {
				return buf, end, nil
			}
			if len(buf) > maxSize {
				return nil, 0, errHeadTooLarge
			}
		}
		if readErr != nil {
			return nil, 0, readErr
		}
	}
}

var errHeadTooLarge = headTooLargeError{}

type headTooLargeError struct{}

func (headTooLargeError) Error() string { return "httpproxy: request head exceeds size ceiling" }
