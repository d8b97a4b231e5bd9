package httpd

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wpphttpd/wpphttpd/internal/vfs"
)

// fileETag and vfsETag render spec §4.4's two ETag formats:
// "m<hex-mtime>s<hex-size>" for filesystem files,
// "b<hex-id>z<hex-origsize>" for VFS files.
func fileETag(modUnix int64, size int64) string {
	return fmt.Sprintf(`"m%xs%x"`, modUnix, size)
}

func vfsETag(hash uint32, origSize int64) string {
	return fmt.Sprintf(`"b%xz%x"`, hash, origSize)
}

// StaticResult is what ServeFilesystemStatic or ServeVFSStatic decided
// to send; the caller writes it
// onto the wire (kept separate so httpd_test.go can assert against it
// without a live connection).
type StaticResult struct {
	Status          int
	ContentType     string
	ContentEncoding string
	ETag            string
	ContentLength   int64
	RangeStart      int64
	RangeEnd        int64 // inclusive, -1 when not a range response
	TotalSize       int64 // full resource size, for the Content-Range total
	Body            io.ReadCloser
}

// acceptsEncoding reports whether the Accept-Encoding header lists enc.
func acceptsEncoding(header, enc string) bool {
	for _, part := range strings.Split(header, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(name, enc) {
			return true
		}
	}
	return false
}

// ServeFilesystemStatic implements the filesystem half of spec §4.4's
// static dispatch: sibling .gz/.br preference when acceptable, ETag/
// If-None-Match, If-Modified-Since, and byte-range support.
func ServeFilesystemStatic(fsPath string, req *http.Request) (*StaticResult, error) {
	servePath := fsPath
	encoding := ""
	acceptEnc := req.Header.Get("Accept-Encoding")
	if acceptsEncoding(acceptEnc, "gzip") {
		if _, err := os.Stat(fsPath + ".gz"); err == nil {
			servePath = fsPath + ".gz"
			encoding = "gzip"
		}
	} else if acceptsEncoding(acceptEnc, "br") {
		if _, err := os.Stat(fsPath + ".br"); err == nil {
			servePath = fsPath + ".br"
			encoding = "br"
		}
	}

	info, err := os.Stat(servePath)
	if err != nil {
		return nil, err
	}
	etag := fileETag(info.ModTime().Unix(), info.Size())

	if inm := req.Header.Get("If-None-Match"); inm != "" && inm == etag {
		return &StaticResult{Status: http.StatusNotModified, ETag: etag}, nil
	}
	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !info.ModTime().After(t) {
			return &StaticResult{Status: http.StatusNotModified, ETag: etag}, nil
		}
	}

	f, err := os.Open(servePath)
	if err != nil {
		return nil, err
	}

	result := &StaticResult{
		Status:          http.StatusOK,
		ContentType:     mime.TypeByExtension(filepath.Ext(fsPath)),
		ContentEncoding: encoding,
		ETag:            etag,
		ContentLength:   info.Size(),
		RangeEnd:        -1,
		TotalSize:       info.Size(),
		Body:            f,
	}

	if rng := req.Header.Get("Range"); rng != "" && encoding == "" {
		if start, end, ok := parseByteRange(rng, info.Size()); ok {
			if _, err := f.Seek(start, io.SeekStart); err != nil {
				f.Close()
				return nil, err
			}
			result.Status = http.StatusPartialContent
			result.RangeStart = start
			result.RangeEnd = end
			result.ContentLength = end - start + 1
			result.Body = &limitedReadCloser{f: f, remaining: result.ContentLength}
		}
	}
	return result, nil
}

// ServeVFSStatic implements the VFS half of spec §4.4: the compressed
// blob is sent directly (Content-Encoding: gzip) when the client accepts
// gzip and no Range was requested; otherwise the entry is decompressed.
func ServeVFSStatic(fsys *vfs.FS, e *vfs.Entry, req *http.Request) (*StaticResult, error) {
	etag := vfsETag(e.Hash, e.OrigSize)
	if inm := req.Header.Get("If-None-Match"); inm != "" && inm == etag {
		return &StaticResult{Status: http.StatusNotModified, ETag: etag}, nil
	}

	wantsGzip := acceptsEncoding(req.Header.Get("Accept-Encoding"), "gzip")
	hasRange := req.Header.Get("Range") != ""

	if wantsGzip && !hasRange {
		return &StaticResult{
			Status:          http.StatusOK,
			ContentType:     mime.TypeByExtension(filepath.Ext(e.URI)),
			ContentEncoding: "gzip",
			ETag:            etag,
			ContentLength:   int64(len(e.Compressed)),
			RangeEnd:        -1,
			Body:            io.NopCloser(bytes.NewReader(e.Compressed)),
		}, nil
	}

	data, err := fsys.Decompressed(e)
	if err != nil {
		return nil, err
	}
	result := &StaticResult{
		Status:        http.StatusOK,
		ContentType:   mime.TypeByExtension(filepath.Ext(e.URI)),
		ETag:          etag,
		ContentLength: int64(len(data)),
		RangeEnd:      -1,
		TotalSize:     int64(len(data)),
		Body:          io.NopCloser(bytes.NewReader(data)),
	}
	if hasRange {
		if start, end, ok := parseByteRange(req.Header.Get("Range"), int64(len(data))); ok {
			result.Status = http.StatusPartialContent
			result.RangeStart = start
			result.RangeEnd = end
			result.ContentLength = end - start + 1
			result.Body = io.NopCloser(bytes.NewReader(data[start : end+1]))
		}
	}
	return result, nil
}

// parseByteRange parses a single "bytes=start-end" range (the only form
// spec §4.4 requires support for); multi-range requests fall through to
// a full 200 response.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if parts[0] == "" {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}
	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 || s >= size {
		return 0, 0, false
	}
	e := size - 1
	if parts[1] != "" {
		if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil && v < e {
			e = v
		}
	}
	return s, e, true
}

type limitedReadCloser struct {
	f         *os.File
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.f.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedReadCloser) Close() error { return l.f.Close() }
