// Package httpd implements the request-lifecycle pipeline: the
// connection server, resource resolution, static sending, and the CGI/
// SQTP dispatch policy spec §4.4 describes (~40% of the system).
package httpd

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wpphttpd/wpphttpd/internal/abuse"
	"github.com/wpphttpd/wpphttpd/internal/cgi"
	"github.com/wpphttpd/wpphttpd/internal/config"
	"github.com/wpphttpd/wpphttpd/internal/jitcgi"
	ilog "github.com/wpphttpd/wpphttpd/internal/log"
	"github.com/wpphttpd/wpphttpd/internal/metrics"
	"github.com/wpphttpd/wpphttpd/internal/sqtp"
	"github.com/wpphttpd/wpphttpd/internal/vfs"
)

// Deps collects every collaborator the pipeline needs (spec §9 Design
// Note 1: dependency-injected context instead of process globals).
type Deps struct {
	Config         *config.ServerConfig
	VFS            *vfs.FS
	Metrics        *metrics.Registry
	Abuse          *abuse.Tracker
	JITEnv         *jitcgi.Environment
	Compiler       jitcgi.Compiler
	Translator     *sqtp.Translator
	ServerSoftware string
}

// Server accepts connections and runs the per-connection request loop.
// Each connection is a goroutine — the Go-native stand-in for the
// original design's forked child (spec §0 translation decision); the
// sem channel reproduces the "enforces a child cap" requirement.
type Server struct {
	deps Deps
	sem  chan struct{}
}

// New returns a Server ready to Serve accepted connections.
func New(deps Deps) *Server {
	maxChild := deps.Config.MaxChild
	if maxChild <= 0 {
		maxChild = 1000
	}
	return &Server{deps: deps, sem: make(chan struct{}, maxChild)}
}

// Serve accepts connections from ln until ctx is cancelled or Accept
// fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		}
		go func(c net.Conn) {
			defer func() { <-s.sem }()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// handleConn runs the per-connection request loop: requests are
// serialized on one connection (spec §4.6 "Ordering"), each either an
// SQTP request or an HTTP request, sniffed by its first bytes.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveConnection.Inc()
		defer s.deps.Metrics.ActiveConnection.Dec()
	}

	if s.deps.Metrics != nil {
		conn = &countingConn{Conn: conn, in: s.deps.Metrics.BytesIn, out: s.deps.Metrics.BytesOut}
	}
	br := bufio.NewReader(conn)
	remoteAddr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	if s.deps.Abuse != nil && s.deps.Abuse.Shunned(remoteAddr, time.Now()) {
		return
	}

	sqtpConn := &sqtp.ConnState{}
	defer sqtpConn.Close()

	maxReq := s.deps.Config.MaxRequestsPerConnection
	if maxReq <= 0 {
		maxReq = 101
	}

	for i := 0; i < maxReq; i++ {
		timeout := s.deps.Config.NextRequestHeaderTimeout
		if i == 0 {
			timeout = s.deps.Config.FirstRequestHeaderTimeout
		}
		if s.deps.Config.TimeoutsOn && timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(timeout))
		}

		peek, err := br.Peek(5)
		if err != nil {
			return
		}

		var keepAlive bool
		if bytes.HasPrefix(peek, []byte("SQTP-")) {
			keepAlive = s.serveSQTP(br, conn, sqtpConn)
		} else {
			keepAlive = s.serveHTTP(ctx, br, conn, remoteAddr)
		}
		if !keepAlive {
			return
		}
	}
}

func (s *Server) serveSQTP(br *bufio.Reader, conn net.Conn, sqtpConn *sqtp.ConnState) (keepAlive bool) {
	req, err := sqtp.ParseRequest(br)
	if err != nil {
		writeSQTPError(conn, 400, err.Error())
		return false
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SQTPVerbsTotal.WithLabelValues(string(req.Verb)).Inc()
	}
	resp := s.deps.Translator.Handle(req, sqtpConn)
	writeSQTPResponse(conn, resp)
	return !resp.Close
}

func writeSQTPResponse(w net.Conn, resp *sqtp.Response) {
	var b bytes.Buffer
	b.WriteString("SQTP/1.0 ")
	b.WriteString(strconv.Itoa(resp.Status))
	b.WriteString(" ")
	b.WriteString(http.StatusText(resp.Status))
	b.WriteString("\r\n")
	for k, v := range resp.Headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(resp.Body)))
	b.WriteString("\r\n\r\n")
	b.WriteString(resp.Body)
	_, _ = w.Write(b.Bytes())
}

func writeSQTPError(w net.Conn, status int, msg string) {
	body := `{"error":` + sqtp.EscapeJSONString(msg) + `}` + "\n"
	var b bytes.Buffer
	b.WriteString("SQTP/1.0 ")
	b.WriteString(strconv.Itoa(status))
	b.WriteString(" ")
	b.WriteString(http.StatusText(status))
	b.WriteString("\r\nContent-Type: application/json\r\nContent-Length: ")
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteString("\r\n\r\n")
	b.WriteString(body)
	_, _ = w.Write(b.Bytes())
}

// serveHTTP parses one HTTP request off br and writes the response to
// conn, reporting whether the connection should be kept open.
func (s *Server) serveHTTP(ctx context.Context, br *bufio.Reader, conn net.Conn, remoteAddr string) (keepAlive bool) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return false
	}
	defer req.Body.Close()

	keepAlive = req.ProtoAtLeast(1, 1)
	if c := req.Header.Get("Connection"); strings.EqualFold(c, "close") {
		keepAlive = false
	} else if strings.EqualFold(c, "keep-alive") {
		keepAlive = true
	}

	resource := s.resolveForRequest(req)
	if s.deps.Abuse != nil && isAbuseHeuristicMatch(req.URL.Path) {
		if s.deps.Abuse.Flag(remoteAddr, time.Now()) {
			ilog.Errorf("shunning %s after abuse heuristic match on %s", remoteAddr, req.URL.Path)
		}
	}

	start := time.Now()
	status, header, body := s.dispatch(ctx, req, resource, remoteAddr)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RequestDuration.WithLabelValues(kindLabel(resource.Kind)).Observe(time.Since(start).Seconds())
	}
	if status == statusRawPassthrough {
		// nph- scripts (spec §6.5) own their entire HTTP response
		// framing; the server must not add a status line or headers.
		_, _ = conn.Write(body)
		return false
	}
	writeHTTPResponse(conn, req, status, header, body, keepAlive)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RequestsTotal.WithLabelValues(kindLabel(resource.Kind), statusClass(status)).Inc()
	}
	return keepAlive
}

// statusRawPassthrough signals that body is a complete, already-framed
// HTTP response (an nph- CGI script's raw stdout) that must be written
// to the connection verbatim instead of through writeHTTPResponse.
const statusRawPassthrough = -1

// isAbuseHeuristicMatch is the abuse heuristic spec §7 calls out as an
// out-of-scope collaborator: requests for well-known exploit-probe paths
// (for example scanners hunting for old CGI vulnerabilities) flag the
// remote address without otherwise changing the response.
func isAbuseHeuristicMatch(urlPath string) bool {
	for _, needle := range abuseHeuristicNeedles {
		if strings.Contains(urlPath, needle) {
			return true
		}
	}
	return false
}

var abuseHeuristicNeedles = []string{
	"/../", "\\", "/.git/", "/.env", "/cgi-bin/phf", "/wp-admin/",
}

func (s *Server) resolveForRequest(req *http.Request) *Resource {
	home := s.deps.Config.DocumentRoot
	if host := req.Header.Get("Host"); host != "" {
		home = VirtualHostDir(s.deps.Config.DocumentRoot, host, s.deps.Config.VirtualHostDefault)
	}
	return ResolveResource(home, req.URL.Path, s.deps.VFS)
}

func (s *Server) dispatch(ctx context.Context, req *http.Request, res *Resource, remoteAddr string) (status int, header http.Header, body []byte) {
	switch res.Kind {
	case KindRedirect:
		h := http.Header{"Location": {res.RedirectTo}}
		return res.RedirectCode, h, nil
	case KindNotFound:
		return http.StatusNotFound, http.Header{}, []byte("not found\n")
	case KindStatic:
		return s.serveStaticFS(res.FSPath, req)
	case KindVFSStatic:
		return s.serveStaticVFS(res.VFSEntry, req)
	case KindCCGI, KindClassicCGI, KindSCGI:
		return s.serveCGI(ctx, req, res, remoteAddr)
	default:
		return http.StatusInternalServerError, http.Header{}, []byte("unhandled resource kind\n")
	}
}

func (s *Server) serveStaticFS(fsPath string, req *http.Request) (int, http.Header, []byte) {
	result, err := ServeFilesystemStatic(fsPath, req)
	if err != nil {
		return http.StatusNotFound, http.Header{}, nil
	}
	return staticResultToResponse(result)
}

func (s *Server) serveStaticVFS(e *vfs.Entry, req *http.Request) (int, http.Header, []byte) {
	result, err := ServeVFSStatic(s.deps.VFS, e, req)
	if err != nil {
		return http.StatusInternalServerError, http.Header{}, nil
	}
	return staticResultToResponse(result)
}

func staticResultToResponse(result *StaticResult) (int, http.Header, []byte) {
	header := http.Header{}
	if result.ETag != "" {
		header.Set("ETag", result.ETag)
	}
	if result.Status == http.StatusNotModified {
		return result.Status, header, nil
	}
	defer result.Body.Close()
	data, _ := io.ReadAll(result.Body)
	if result.ContentType != "" {
		header.Set("Content-Type", result.ContentType)
	}
	if result.ContentEncoding != "" {
		header.Set("Content-Encoding", result.ContentEncoding)
	}
	if result.Status == http.StatusPartialContent {
		header.Set("Content-Range", "bytes "+strconv.FormatInt(result.RangeStart, 10)+"-"+strconv.FormatInt(result.RangeEnd, 10)+"/"+strconv.FormatInt(result.TotalSize, 10))
	}
	return result.Status, header, data
}

func (s *Server) serveCGI(ctx context.Context, req *http.Request, res *Resource, remoteAddr string) (int, http.Header, []byte) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.CGIInvocations.Inc()
	}

	// Go has no per-goroutine rlimit: RLIMIT_CPU/SIGXCPU (spec §4.4,
	// §7) only means something for a real forked process. The
	// wall-clock proxy below is the closest idiomatic stand-in and
	// caps every CGI kind, not just classic CGI's own DecodeTimeout.
	if limit := s.deps.Config.CPUSecondLimit; limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(limit)*time.Second)
		defer cancel()
	}
	ri := &cgi.RequestInfo{
		Method:        req.Method,
		RequestURI:    req.RequestURI,
		ScriptName:    req.URL.Path,
		ScriptFile:    res.FSPath,
		Query:         req.URL.RawQuery,
		ServerName:    req.Host,
		ServerPort:    portOf(req.Host),
		Protocol:      req.Proto,
		RemoteAddr:    remoteAddr,
		ContentLength: req.Header.Get("Content-Length"),
		ContentType:   req.Header.Get("Content-Type"),
		Header:        req.Header,
	}

	var out *cgi.Output
	var err error
	switch res.Kind {
	case KindCCGI:
		out, err = ccgiOutput(ctx, s.deps.JITEnv, s.deps.Compiler, res.FSPath, req, ri, s.deps.ServerSoftware)
	case KindClassicCGI:
		out, err = classicCGIOutput(ctx, res.FSPath, req, ri, s.deps.ServerSoftware, s.deps.Config.DecodeTimeout)
	case KindSCGI:
		out, err = scgiOutput(ctx, res.FSPath, req, ri, s.deps.ServerSoftware)
	}
	if err != nil {
		ilog.Errorf("cgi dispatch failed for %s: %v", res.FSPath, err)
		return http.StatusInternalServerError, http.Header{}, []byte("CGI error\n")
	}
	data, _ := io.ReadAll(out.Body)
	if out.Header == nil && out.Status == 0 {
		return statusRawPassthrough, nil, data
	}
	header := out.Header
	if header == nil {
		header = http.Header{}
	}
	status := out.Status
	if status == 0 {
		status = http.StatusOK
	}
	return status, header, data
}

func portOf(host string) string {
	if _, port, err := net.SplitHostPort(host); err == nil {
		return port
	}
	return "80"
}

func writeHTTPResponse(conn net.Conn, req *http.Request, status int, header http.Header, body []byte, keepAlive bool) {
	var b bytes.Buffer
	b.WriteString(req.Proto)
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(status))
	b.WriteString(" ")
	b.WriteString(http.StatusText(status))
	b.WriteString("\r\n")
	if header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	if status >= 400 {
		header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		header.Set("Pragma", "no-cache")
		header.Set("Expires", "0")
	}
	if keepAlive {
		header.Set("Connection", "keep-alive")
	} else {
		header.Set("Connection", "close")
	}
	_ = header.Write(&b)
	b.WriteString("\r\n")
	b.Write(body)
	_, _ = conn.Write(b.Bytes())
}

func kindLabel(k ResourceKind) string {
	switch k {
	case KindStatic, KindVFSStatic:
		return "static"
	case KindCCGI:
		return "ccgi"
	case KindClassicCGI:
		return "cgi"
	case KindSCGI:
		return "scgi"
	case KindRedirect:
		return "redirect"
	default:
		return "notfound"
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// countingConn wraps a net.Conn to feed the bytes-in/bytes-out counters
// (spec SPEC_FULL.md §2: "promoted from a hand-rolled string dump to
// real metrics").
type countingConn struct {
	net.Conn
	in, out prometheusCounter
}

type prometheusCounter interface {
	Add(float64)
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 && c.in != nil {
		c.in.Add(float64(n))
	}
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 && c.out != nil {
		c.out.Add(float64(n))
	}
	return n, err
}
