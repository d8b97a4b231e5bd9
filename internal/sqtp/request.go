// Package sqtp implements the SQTP translator: a line-oriented,
// header-driven SQL-over-HTTP protocol (spec §4.3, §6.3) that maps
// named headers to parameterized SQL against an embedded relational
// engine and renders results as JSON.
package sqtp

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Verb is one of the SQTP-<VERB> methods spec §4.3 names.
type Verb string

const (
	VerbSelect     Verb = "SELECT"
	VerbInsert     Verb = "INSERT"
	VerbUpdate     Verb = "UPDATE"
	VerbDelete     Verb = "DELETE"
	VerbUpsert     Verb = "UPSERT"
	VerbReset      Verb = "RESET"
	VerbBegin      Verb = "BEGIN"
	VerbCommit     Verb = "COMMIT"
	VerbRollback   Verb = "ROLLBACK"
	VerbSavepoint  Verb = "SAVEPOINT"
	VerbCreate     Verb = "CREATE"
	VerbDrop       Verb = "DROP"
	VerbAlter      Verb = "ALTER"
)

// listHeaders accumulate into an ordered collection when repeated;
// everything else is "single" kind and the last occurrence wins. ACTION
// is treated as list-kind (an ordered sequence of trigger action
// statements); ALTER's variant selector reads ACTION[0] specifically —
// see buildAlter in generators.go. This resolves the ambiguity in spec §4.3's header
// vocabulary table, where ACTION appears under both "single" (DDL
// modifiers) and "single/list" (triggers).
var listHeaders = map[string]bool{
	"WHERE":              true,
	"WHERE-IN":           true,
	"COLUMN":             true,
	"UNIQUE-CONSTRAINT":  true,
	"FOREIGN-KEY":        true,
	"ACTION":             true,
}

// Request is the parsed SQTP request descriptor (spec §3 "SQTP request
// descriptor").
type Request struct {
	Verb            Verb
	DatabaseURI     string
	ProtocolVersion string

	single map[string]string
	list   map[string][]string

	ContentLength int64
	ContentType   string
	Body          []byte
}

// Single returns the value of a single-kind header, case-insensitively,
// or "" if absent.
func (r *Request) Single(name string) string {
	return r.single[canonicalHeader(name)]
}

// List returns the accumulated values of a list-kind header in request
// order, or nil if the header was never present.
func (r *Request) List(name string) []string {
	return r.list[canonicalHeader(name)]
}

// Has reports whether header name was present at all (single or list).
func (r *Request) Has(name string) bool {
	key := canonicalHeader(name)
	if _, ok := r.single[key]; ok {
		return true
	}
	_, ok := r.list[key]
	return ok
}

func canonicalHeader(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// ErrMalformedRequest maps to a 400 response per spec §7.
var ErrMalformedRequest = errors.New("sqtp: malformed request")

// ParseRequest reads one SQTP request off br: the "SQTP-<VERB> <uri>
// <version>" request line, CRLF-terminated headers up to a blank line,
// and an optional Content-Length-framed JSON body. br must be the
// connection's own buffered reader (not a fresh wrapper around it) so
// that bytes belonging to a pipelined next request are never pulled into
// a throwaway buffer and lost — this matters once a connection serves
// more than one SQTP request (spec §4.6 "Ordering").
func ParseRequest(br *bufio.Reader) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedRequest, err.Error())
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "SQTP-") {
		return nil, errors.Wrapf(ErrMalformedRequest, "bad request line %q", line)
	}

	req := &Request{
		Verb:            Verb(strings.ToUpper(strings.TrimPrefix(parts[0], "SQTP-"))),
		DatabaseURI:     parts[1],
		ProtocolVersion: parts[2],
		single:          map[string]string{},
		list:            map[string][]string{},
	}

	for {
		hline, err := readLine(br)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedRequest, err.Error())
		}
		if hline == "" {
			break
		}
		name, value, ok := splitHeader(hline)
		if !ok {
			// Unknown/malformed header lines are ignored per spec §4.3.
			continue
		}
		key := canonicalHeader(name)
		if listHeaders[key] {
			req.list[key] = append(req.list[key], value)
		} else {
			req.single[key] = value
		}
	}

	req.ContentType = req.single["CONTENT-TYPE"]
	if cl := req.single["CONTENT-LENGTH"]; cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRequest, "bad Content-Length %q", cl)
		}
		req.ContentLength = n
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, errors.Wrap(ErrMalformedRequest, "short body")
		}
		req.Body = body
	}

	return req, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// splitHeader splits "Key: value" into its parts. The trailing colon is
// mandatory per spec §4.3.
func splitHeader(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}
