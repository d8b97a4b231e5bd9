// Package cgi synthesizes the classic CGI/1.0 environment for a request,
// parses a CGI child's framed stdout into an HTTP status/header/body
// triple, and proxies the same framing over SCGI's netstring envelope
// (spec §6.5, §4.4).
package cgi

import (
	"fmt"
	"net/http"
	"strings"
)

// RequestInfo is the subset of an inbound HTTP request the CGI/SCGI
// environment is derived from; it is deliberately narrow so this
// package does not need to import the httpd server package.
type RequestInfo struct {
	Method        string
	RequestURI    string
	ScriptName    string
	ScriptFile    string
	PathInfo      string
	Query         string
	ServerName    string
	ServerPort    string
	Protocol      string
	RemoteAddr    string
	ContentLength string
	ContentType   string
	HTTPS         bool
	RemoteUser    string
	AuthType      string
	Header        http.Header
}

// httpHeaderEnv maps the CGI/1.0 HTTP_* passthrough headers spec §6.5
// names onto the request header they're sourced from.
var httpHeaderEnv = map[string]string{
	"HTTP_HOST":            "Host",
	"HTTP_USER_AGENT":      "User-Agent",
	"HTTP_ACCEPT":          "Accept",
	"HTTP_ACCEPT_ENCODING": "Accept-Encoding",
	"HTTP_COOKIE":          "Cookie",
	"HTTP_REFERER":         "Referer",
}

// BuildEnv returns the CGI/1.0 meta-variables spec §6.5 requires, in
// "NAME=value" form ready for exec.Cmd.Env.
func BuildEnv(req *RequestInfo, serverSoftware string) []string {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=" + req.Method,
		"REQUEST_URI=" + req.RequestURI,
		"SCRIPT_NAME=" + req.ScriptName,
		"SCRIPT_FILENAME=" + req.ScriptFile,
		"PATH_INFO=" + req.PathInfo,
		"QUERY_STRING=" + req.Query,
		"SERVER_NAME=" + req.ServerName,
		"SERVER_PORT=" + req.ServerPort,
		"SERVER_PROTOCOL=" + req.Protocol,
		"SERVER_SOFTWARE=" + serverSoftware,
		"REMOTE_ADDR=" + req.RemoteAddr,
	}
	if req.ContentLength != "" {
		env = append(env, "CONTENT_LENGTH="+req.ContentLength)
	}
	if req.ContentType != "" {
		env = append(env, "CONTENT_TYPE="+req.ContentType)
	}
	if req.HTTPS {
		env = append(env, "HTTPS=on")
	}
	if req.RemoteUser != "" {
		env = append(env, "REMOTE_USER="+req.RemoteUser)
	}
	if req.AuthType != "" {
		env = append(env, "AUTH_TYPE="+req.AuthType)
	}
	for name, header := range httpHeaderEnv {
		if v := req.Header.Get(header); v != "" {
			env = append(env, fmt.Sprintf("%s=%s", name, v))
		}
	}
	return env
}

// BuildSCGIHeaders renders the same meta-variables as an ordered list of
// (name, value) pairs suitable for netstring encoding (spec §4.4), with
// CONTENT_LENGTH always first per the SCGI protocol's own requirement.
func BuildSCGIHeaders(req *RequestInfo, serverSoftware string) [][2]string {
	cl := req.ContentLength
	if cl == "" {
		cl = "0"
	}
	pairs := [][2]string{{"CONTENT_LENGTH", cl}}
	for _, kv := range BuildEnv(req, serverSoftware) {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		name, val := kv[:idx], kv[idx+1:]
		if name == "CONTENT_LENGTH" {
			continue
		}
		pairs = append(pairs, [2]string{name, val})
	}
	pairs = append(pairs, [2]string{"SCGI", "1"})
	return pairs
}
