package httpd

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafePathRejectsDotDot(t *testing.T) {
	_, ok := SafePath("/a/../b")
	require.False(t, ok, "expected ../ segment to be rejected")
}

func TestSafePathAllowsWellKnown(t *testing.T) {
	_, ok := SafePath("/.well-known/acme-challenge/token")
	require.True(t, ok, "expected .well-known to be allowed")
}

func TestSafePathRejectsDotPrefixedSegment(t *testing.T) {
	_, ok := SafePath("/.htaccess")
	require.False(t, ok, "expected dot-prefixed segment to be rejected")
	_, ok = SafePath("/static/-private")
	require.False(t, ok, "expected dash-prefixed segment to be rejected")
}

func TestSafePathRejectsOverlongURI(t *testing.T) {
	long := "/" + string(make([]byte, maxURILength+1))
	_, ok := SafePath(long)
	require.False(t, ok, "expected overlong URI to be rejected")
}

func TestNormalizeHostHeaderStripsPortAndLowercases(t *testing.T) {
	require.Equal(t, "example_com", normalizeHostHeader("Example.COM:8080"))
}

func TestNormalizeHostHeaderKeepsTrailingDot(t *testing.T) {
	require.Equal(t, "example_com.", normalizeHostHeader("example.com."))
}

func TestVirtualHostDirFallsBackToDefault(t *testing.T) {
	root := t.TempDir()
	defaultDir := filepath.Join(root, "default.website")
	require.NoError(t, os.Mkdir(defaultDir, 0o755))
	got := VirtualHostDir(root, "unknown.example.com", "default.website")
	require.Equal(t, defaultDir, got)
}

func TestVirtualHostDirFallsBackToRootWhenNoDefault(t *testing.T) {
	root := t.TempDir()
	got := VirtualHostDir(root, "unknown.example.com", "default.website")
	require.Equal(t, root, got)
}

func TestResolveResourceDirectHit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "page.html"), []byte("hi"), 0o644))
	res := ResolveResource(root, "/page.html", nil)
	require.Equal(t, KindStatic, res.Kind)
}

func TestResolveResourceDirectoryRedirectsToTrailingSlash(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "index.html"), []byte("hi"), 0o644))
	res := ResolveResource(root, "/sub", nil)
	require.Equal(t, KindRedirect, res.Kind)
	require.Equal(t, "/sub/", res.RedirectTo)
	require.Equal(t, 301, res.RedirectCode)
}

func TestResolveResourceDirectoryServesDefaultIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "home"), []byte("hi"), 0o644))
	res := ResolveResource(root, "/sub/", nil)
	require.Equal(t, KindStatic, res.Kind)
}

func TestResolveResourceWalksBackToNotFound(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "not-found.html"), []byte("nf"), 0o644))
	res := ResolveResource(root, "/sub/missing", nil)
	require.Equal(t, KindRedirect, res.Kind)
	require.Equal(t, "/not-found.html", res.RedirectTo)
	require.Equal(t, 302, res.RedirectCode)
}

func TestResolveResourceReturns404WhenNothingMatches(t *testing.T) {
	root := t.TempDir()
	res := ResolveResource(root, "/nope", nil)
	require.Equal(t, KindNotFound, res.Kind)
}

func TestClassicCGIEligibility(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "script")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
	res := ResolveResource(root, "/script", nil)
	require.Equal(t, KindClassicCGI, res.Kind)
}

func TestClassicCGIRejectsGroupWritable(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "script")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o777))
	require.NoError(t, os.Chmod(p, 0o777))
	res := ResolveResource(root, "/script", nil)
	require.NotEqual(t, KindClassicCGI, res.Kind)
}

func TestServeFilesystemStaticETagAndConditionalGet(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello world"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/f.txt", nil)
	result, err := ServeFilesystemStatic(p, req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.Status)
	require.NotEmpty(t, result.ETag)
	result.Body.Close()

	req2 := httptest.NewRequest(http.MethodGet, "/f.txt", nil)
	req2.Header.Set("If-None-Match", result.ETag)
	result2, err := ServeFilesystemStatic(p, req2)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, result2.Status)
}

func TestServeFilesystemStaticRange(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/f.txt", nil)
	req.Header.Set("Range", "bytes=2-4")
	result, err := ServeFilesystemStatic(p, req)
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, result.Status)
	require.EqualValues(t, 3, result.ContentLength)
	require.EqualValues(t, 10, result.TotalSize)

	status, header, body := staticResultToResponse(result)
	require.Equal(t, http.StatusPartialContent, status)
	require.Equal(t, "bytes 2-4/10", header.Get("Content-Range"))
	require.Equal(t, "234", string(body))
}

// TestWriteHTTPResponseErrorHeaders exercises spec §6.2: every response
// carries a Date header, and a >=400 response additionally disables
// caching.
func TestWriteHTTPResponseErrorHeaders(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Proto = "HTTP/1.1"
	go func() {
		writeHTTPResponse(server, req, http.StatusNotFound, http.Header{}, []byte("not found\n"), false)
		server.Close()
	}()

	resp, err := http.ReadResponse(bufio.NewReader(client), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("Date"))
	require.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	require.Equal(t, "no-cache", resp.Header.Get("Pragma"))
	require.Equal(t, "0", resp.Header.Get("Expires"))
}

// TestWriteHTTPResponseSuccessHasDateNoCacheHeaders checks the
// complementary case: a 200 still gets Date but none of the error-only
// cache-busting headers.
func TestWriteHTTPResponseSuccessHasDateNoCacheHeaders(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Proto = "HTTP/1.1"
	go func() {
		writeHTTPResponse(server, req, http.StatusOK, http.Header{}, []byte("ok\n"), false)
		server.Close()
	}()

	resp, err := http.ReadResponse(bufio.NewReader(client), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("Date"))
	require.Empty(t, resp.Header.Get("Cache-Control"))
}

func TestParseByteRangeSuffixForm(t *testing.T) {
	start, end, ok := parseByteRange("bytes=-5", 10)
	require.True(t, ok)
	require.EqualValues(t, 5, start)
	require.EqualValues(t, 9, end)
}

func TestParseByteRangeRejectsMultiRange(t *testing.T) {
	_, _, ok := parseByteRange("bytes=0-1,2-3", 10)
	require.False(t, ok, "expected multi-range to be rejected")
}
