package cgi

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Output is a CGI child's framed response: an HTTP status, a header set
// translated from CGI header lines, and the remaining stdout as the
// response body (spec §6.5: "CGI-parsed headers translated or passed
// through; Status: lines mapped to the response status").
type Output struct {
	Status int
	Header http.Header
	Body   io.Reader
}

// ErrMalformedCGIOutput signals a CGI child whose stdout never reached a
// blank line before EOF — treated as a 500 by the caller.
var ErrMalformedCGIOutput = errors.New("cgi: malformed CGI output")

// ParseOutput reads and classifies a CGI child's stdout. When nph is
// true (the script's filename has the "nph-" prefix), the output is not
// parsed at all and streams through unparsed, per spec §6.5; the
// returned Status is 0 and the caller must not add its own framing.
func ParseOutput(r io.Reader, nph bool) (*Output, error) {
	if nph {
		return &Output{Status: 0, Header: nil, Body: r}, nil
	}

	br := bufio.NewReader(r)
	hdr := http.Header{}
	status := 0

	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if err != nil {
				return nil, ErrMalformedCGIOutput
			}
			break
		}
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "cgi: read header")
		}
		name, value, ok := splitCGIHeader(trimmed)
		if ok {
			if strings.EqualFold(name, "Status") {
				status = parseStatusValue(value)
			} else {
				hdr.Add(name, value)
			}
		}
		if err == io.EOF {
			return nil, ErrMalformedCGIOutput
		}
	}

	if status == 0 {
		if hdr.Get("Location") != "" {
			status = http.StatusFound
		} else {
			status = http.StatusOK
		}
	}

	return &Output{Status: status, Header: hdr, Body: br}, nil
}

// parseStatusValue reads the leading digits of a "Status:" value
// ("200 OK" → 200), defaulting to 200 if unparsable.
func parseStatusValue(value string) int {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return http.StatusOK
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return http.StatusOK
	}
	return n
}

func splitCGIHeader(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}
