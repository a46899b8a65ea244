package httpproxy

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Header is one ordered name/value pair from a request head.
type Header struct {
	Name  string
	Value string
}

// RequestHead is the HTTP front-end's parsed scratch state for one
// request, kept only until handoff to the pump (spec 3).
type RequestHead struct {
	Method  string
	Target  string
	Version string
	Headers []Header
}

// HeaderEndMarker is the byte sequence terminating an HTTP/1.x head.
var HeaderEndMarker = []byte("\r\n\r\n")

// FindHeadEnd returns the index just past the first "\r\n\r\n" in buf, or
// -1 if the head is not yet complete.
func FindHeadEnd(buf []byte) int {
	idx := bytes.Index(buf, HeaderEndMarker)
	if idx < 0 {
		return -1
	}
	return idx + len(HeaderEndMarker)
}

// ParseHead parses the request line and headers from buf[:headEnd].
// Target is stored as the raw request-line token; it is not parsed as a
// URI here, and OriginDestination and RewriteRequestLine each parse it
// again on their own. Headers are kept in original order and are not
// stripped, including hop-by-hop ones, since this is a pass-through proxy.
func ParseHead(buf []byte) (*RequestHead, error) {
	lines := strings.Split(string(bytes.TrimSuffix(buf, HeaderEndMarker)), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("httpproxy: empty request line")
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("httpproxy: malformed request line %q", lines[0])
	}

	head := &RequestHead{
		Method:  parts[0],
		Target:  parts[1],
		Version: parts[2],
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("httpproxy: malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if name == "" {
			return nil, fmt.Errorf("httpproxy: empty header name")
		}
		head.Headers = append(head.Headers, Header{Name: name, Value: value})
	}

	return head, nil
}

// Header looks up the first header matching name, case-insensitively.
func (h *RequestHead) Header(name string) (string, bool) {
	for _, hv := range h.Headers {
		if strings.EqualFold(hv.Name, name) {
			return hv.Value, true
		}
	}
	return "", false
}

// IsConnect reports whether this head is an HTTPS CONNECT tunnel request.
func (h *RequestHead) IsConnect() bool {
	return strings.EqualFold(h.Method, "CONNECT")
}

// Destination is a resolved host/port pair for dialing.
type Destination struct {
	Host string
	Port int
}

// ConnectDestination parses a CONNECT target, which spec 4.4 requires to
// be authority-form "host:port".
func ConnectDestination(target string) (Destination, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return Destination{}, fmt.Errorf("httpproxy: CONNECT target %q is not authority-form: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Destination{}, fmt.Errorf("httpproxy: CONNECT target %q has invalid port", target)
	}
	return Destination{Host: host, Port: port}, nil
}

// OriginDestination derives the destination for a non-CONNECT request from
// the absolute-form target's authority if present, else the Host header.
func OriginDestination(head *RequestHead) (Destination, error) {
	if u, err := url.ParseRequestURI(head.Target); err == nil && u.Host != "" {
		return hostPortFromAuthority(u.Host, u.Scheme)
	}

	if hostHeader, ok := head.Header("Host"); ok && hostHeader != "" {
		return hostPortFromAuthority(hostHeader, "http")
	}

	return Destination{}, fmt.Errorf("httpproxy: cannot determine destination for target %q", head.Target)
}

func hostPortFromAuthority(authority, scheme string) (Destination, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
		portStr = ""
	}
	if portStr == "" {
		switch strings.ToLower(scheme) {
		case "https":
			portStr = "443"
		default:
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Destination{}, fmt.Errorf("httpproxy: invalid port in authority %q", authority)
	}
	if host == "" {
		return Destination{}, fmt.Errorf("httpproxy: empty host in authority %q", authority)
	}
	return Destination{Host: host, Port: port}, nil
}

// RewriteRequestLine rewrites the first line to origin-form, stripping any
// scheme/authority from the target (spec 4.4 / invariant 8.2). The path is
// synthesized as "/" when the original target carried none.
func RewriteRequestLine(head *RequestHead) string {
	path := head.Target
	if u, err := url.ParseRequestURI(head.Target); err == nil && u.Host != "" {
		path = u.RequestURI()
	}
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s %s\r\n", head.Method, path, head.Version)
}

// Serialize writes the (possibly rewritten) request line followed by all
// original headers in order and the terminating blank line.
func Serialize(requestLine string, head *RequestHead) []byte {
	var b bytes.Buffer
	b.WriteString(requestLine)
	for _, h := range head.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}
