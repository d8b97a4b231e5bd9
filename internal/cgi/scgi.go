package cgi

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HostPort is the "SCGI host port" line spec §4.4 says an `.scgi` file
// contains, naming where the request should be relayed to.
type HostPort struct {
	Host string
	Port string
}

// ParseHostPortLine parses the single line an `.scgi` file holds.
func ParseHostPortLine(line string) (HostPort, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 2 {
		return HostPort{}, errors.Errorf("cgi: malformed SCGI host/port line %q", line)
	}
	return HostPort{Host: fields[0], Port: fields[1]}, nil
}

// encodeNetstring frames data per the netstring format ("<len>:<data>,")
// SCGI uses for its header block.
func encodeNetstring(data []byte) []byte {
	out := make([]byte, 0, len(data)+16)
	out = append(out, []byte(strconv.Itoa(len(data)))...)
	out = append(out, ':')
	out = append(out, data...)
	out = append(out, ',')
	return out
}

// encodeSCGIHeaders renders the name/value pairs as SCGI's
// NUL-terminated, netstring-framed header block.
func encodeSCGIHeaders(pairs [][2]string) []byte {
	var raw []byte
	for _, kv := range pairs {
		raw = append(raw, kv[0]...)
		raw = append(raw, 0)
		raw = append(raw, kv[1]...)
		raw = append(raw, 0)
	}
	return encodeNetstring(raw)
}

// Proxy relays one request to an SCGI responder at hp: the netstring
// header block, then body, are written; the responder's reply (itself
// CGI-framed: optional headers, blank line, content) is parsed exactly
// like a local CGI child's stdout and returned.
func Proxy(ctx context.Context, hp HostPort, req *RequestInfo, serverSoftware string, body io.Reader) (*Output, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(hp.Host, hp.Port))
	if err != nil {
		return nil, errors.Wrapf(err, "cgi: dial SCGI responder %s:%s", hp.Host, hp.Port)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	headers := encodeSCGIHeaders(BuildSCGIHeaders(req, serverSoftware))
	if _, err := conn.Write(headers); err != nil {
		return nil, errors.Wrap(err, "cgi: write SCGI headers")
	}
	if body != nil {
		if _, err := io.Copy(conn, body); err != nil {
			return nil, errors.Wrap(err, "cgi: write SCGI body")
		}
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	out, err := ParseOutput(bufio.NewReader(conn), false)
	if err != nil {
		return nil, errors.Wrap(err, "cgi: parse SCGI reply")
	}
	return out, nil
}
