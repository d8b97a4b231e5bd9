package httpd

import (
	"os"
	"path"
	"strings"

	"github.com/wpphttpd/wpphttpd/internal/vfs"
)

// defaultIndexNames are tried in order when a URI resolves to a
// directory (spec §4.4 step 2).
var defaultIndexNames = []string{"home", "index", "index.html", "index.cgi", "not-found.html"}

// maxURILength is the spec §4.4 hard cap; above it the caller responds
// 414 before resolution is even attempted.
const maxURILength = 9990

// ResourceKind classifies what ResolveResource found.
type ResourceKind int

const (
	KindNotFound ResourceKind = iota
	KindRedirect
	KindStatic
	KindVFSStatic
	KindCCGI
	KindClassicCGI
	KindSCGI
)

// Resource is the outcome of resolving a request URI against a virtual
// host's home directory (spec §4.4).
type Resource struct {
	Kind         ResourceKind
	FSPath       string
	VFSEntry     *vfs.Entry
	RedirectTo   string
	RedirectCode int
}

// VirtualHostDir implements the exact Host-header normalization rule
// recovered from the original implementation: strip the port, lowercase,
// map non-alphanumerics to '_' (except a trailing '.'), append
// ".website", and fall back to defaultHost / the bare document root when
// no matching directory exists.
func VirtualHostDir(docRoot, host, defaultHost string) string {
	name := normalizeHostHeader(host)
	candidate := path.Join(docRoot, name+".website")
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	fallback := path.Join(docRoot, defaultHost)
	if info, err := os.Stat(fallback); err == nil && info.IsDir() {
		return fallback
	}
	return docRoot
}

func normalizeHostHeader(host string) string {
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	var b strings.Builder
	runes := []rune(host)
	for i, c := range runes {
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteRune(c - 'A' + 'a')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' && i == len(runes)-1:
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// safeSegment reports whether a single path segment is permitted by the
// safety rewrite rules in spec §4.4: segments beginning with "." or "-"
// are forbidden except the literal ".well-known" prefix, and ".." is
// always forbidden.
func safeSegment(seg string, isFirst bool) bool {
	if seg == ".." {
		return false
	}
	if seg == "" || seg == "." {
		return true
	}
	if seg[0] == '.' || seg[0] == '-' {
		return isFirst && seg == ".well-known"
	}
	return true
}

// SafePath validates a URI path against spec §4.4's safety rewrites and
// the length cap, returning the cleaned path.
func SafePath(urlPath string) (cleaned string, ok bool) {
	if len(urlPath) > maxURILength {
		return "", false
	}
	segs := strings.Split(strings.TrimPrefix(urlPath, "/"), "/")
	for i, s := range segs {
		if !safeSegment(s, i == 0) {
			return "", false
		}
	}
	return path.Clean("/" + strings.Join(segs, "/")), true
}

// ResolveResource walks home (the virtual host directory, possibly a VFS
// root) to find the resource urlPath names, applying the directory
// default-index and not-found walk-back rules of spec §4.4 steps 2-3.
func ResolveResource(home, urlPath string, fsys *vfs.FS) *Resource {
	clean, ok := SafePath(urlPath)
	if !ok {
		return &Resource{Kind: KindNotFound}
	}

	fullPath := path.Join(home, clean)
	if r := tryResource(fullPath, fsys); r != nil {
		return r
	}

	if info, err := os.Stat(fullPath); err == nil && info.IsDir() {
		for _, name := range defaultIndexNames {
			candidate := path.Join(fullPath, name)
			if r := tryResource(candidate, fsys); r != nil {
				if !strings.HasSuffix(urlPath, "/") {
					return &Resource{Kind: KindRedirect, RedirectTo: urlPath + "/", RedirectCode: 301}
				}
				return r
			}
		}
	}

	// Segment did not resolve: walk back toward home trying
	// "<dir>/not-found.html" at each level.
	dir := path.Dir(fullPath)
	for {
		candidate := path.Join(dir, "not-found.html")
		if r := tryResource(candidate, fsys); r != nil {
			return &Resource{Kind: KindRedirect, RedirectTo: relPath(home, candidate), RedirectCode: 302}
		}
		if dir == home || dir == "/" || dir == "." {
			break
		}
		dir = path.Dir(dir)
	}
	return &Resource{Kind: KindNotFound}
}

func relPath(home, full string) string {
	rel := strings.TrimPrefix(full, home)
	if rel == "" {
		return "/"
	}
	if rel[0] != '/' {
		rel = "/" + rel
	}
	return rel
}

// tryResource classifies an existing filesystem or VFS path by
// extension/permission per spec §4.4's dispatch policy, or returns nil
// if it doesn't exist.
func tryResource(fullPath string, fsys *vfs.FS) *Resource {
	if fsys != nil {
		if e, ok := fsys.Find(fullPath); ok && !e.IsDir {
			return classify(fullPath, e, nil)
		}
	}
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return nil
	}
	return classify(fullPath, nil, info)
}

func classify(fullPath string, e *vfs.Entry, info os.FileInfo) *Resource {
	switch {
	case strings.HasSuffix(fullPath, ".c"):
		return &Resource{Kind: KindCCGI, FSPath: fullPath, VFSEntry: e}
	case strings.HasSuffix(fullPath, ".scgi"):
		return &Resource{Kind: KindSCGI, FSPath: fullPath, VFSEntry: e}
	case e != nil:
		return &Resource{Kind: KindVFSStatic, FSPath: fullPath, VFSEntry: e}
	case isExecutableNotOtherWritable(info):
		return &Resource{Kind: KindClassicCGI, FSPath: fullPath}
	default:
		return &Resource{Kind: KindStatic, FSPath: fullPath}
	}
}

// isExecutableNotOtherWritable implements spec §4.4's classic-CGI rule:
// "executable and owned such that no non-owner has write permission".
func isExecutableNotOtherWritable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	mode := info.Mode()
	const anyExec = 0o111
	const nonOwnerWrite = 0o022
	return mode&anyExec != 0 && mode.Perm()&nonOwnerWrite == 0
}
