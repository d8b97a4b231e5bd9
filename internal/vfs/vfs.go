package vfs

import (
	"bytes"
	"io"

	gzip "github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrIsDirectory is returned by Decompressed when called on a directory
// entry.
var ErrIsDirectory = errors.New("vfs: entry is a directory")

// ErrNotFound names a URI with no built-in entry. No function in this
// package returns it: Find and OpenIntercept report a miss as ok=false.
var ErrNotFound = errors.New("vfs: not found")

// FS is the built-ins virtual file system: the Index plus the
// decompression and materialization logic that turns compressed, embedded
// byte slices into OS file descriptors third-party code (the JIT) can
// open/read/lseek against.
//
// Fd inventory (per spec §9 open question #3, replacing the disabled
// "close everything >= 3" loop in the original C): the only fds FS ever
// owns are the memfd/tmpfile backing stores created in AcquireVFile,
// released exactly once in ReleaseVFile when an entry's reference count
// reaches zero. No other fd is ever closed by this package; callers that
// dup a handle own the duplicate outright.
type FS struct {
	index *Index
}

// New wraps an already-built Index.
func New(index *Index) *FS {
	return &FS{index: index}
}

// Find looks up uri in the built-ins index.
func (fs *FS) Find(uri string) (*Entry, bool) {
	return fs.index.Find(uri)
}

// Len reports the number of built-in entries.
func (fs *FS) Len() int { return fs.index.Len() }

// Decompressed returns the decompressed payload of e (spec §4.1),
// decompressing and caching it on first call. Calling it on a directory
// entry is an error. A zero-length original returns a non-nil,
// zero-length slice; the Entry's decompressedOK flag records that the
// payload has been decompressed, so an empty result is cached as well.
func (fs *FS) Decompressed(e *Entry) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.IsDir {
		return nil, ErrIsDirectory
	}
	return fs.decompressedLocked(e)
}

// AcquireVFile materializes e as a virtual-file handle, incrementing its
// reference count. The returned handle is owned by the VFS; call
// ReleaseVFile when done with it, or Dup the fd for an independent
// lifetime.
func (fs *FS) AcquireVFile(e *Entry) (*VFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.IsDir {
		return nil, ErrIsDirectory
	}
	if e.vfile != nil {
		e.vrefs++
		return e.vfile, nil
	}

	data, err := fs.decompressedLocked(e)
	if err != nil {
		return nil, err
	}
	vf, err := newVFile(e.URI, data)
	if err != nil {
		return nil, err
	}
	e.vfile = vf
	e.vrefs = 1
	return vf, nil
}

// decompressedLocked is Decompressed without re-acquiring e.mu; callers
// must already hold it.
func (fs *FS) decompressedLocked(e *Entry) ([]byte, error) {
	if e.decompressedOK {
		return e.decompressed, nil
	}
	if e.OrigSize == 0 {
		e.decompressed = []byte{}
		e.decompressedOK = true
		return e.decompressed, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(e.Compressed))
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: open gzip stream for %q", e.URI)
	}
	defer zr.Close()
	out := &bytes.Buffer{}
	n, err := io.CopyN(out, zr, e.OrigSize+1)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "vfs: inflate %q", e.URI)
	}
	if n > e.OrigSize {
		return nil, errors.Errorf("vfs: decompressed %q exceeds declared size (%d > %d)", e.URI, n, e.OrigSize)
	}
	e.decompressed = out.Bytes()
	e.decompressedOK = true
	return e.decompressed, nil
}

// ReleaseVFile decrements e's virtual-file reference count, tearing the
// handle down at zero. It is a no-op if e has no materialized handle.
func (fs *FS) ReleaseVFile(e *Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vfile == nil {
		return nil
	}
	e.vrefs--
	if e.vrefs > 0 {
		return nil
	}
	vf := e.vfile
	e.vfile = nil
	e.vrefs = 0
	return vf.close()
}

// OpenIntercept is the single function the JIT runtime sees (spec §6.4):
// on a VFS hit it acquires the entry's virtual file and returns a duped
// fd positioned at offset zero; on a miss it returns ok=false so the
// caller falls back to the real filesystem.
func (fs *FS) OpenIntercept(path string) (fd int, ok bool) {
	e, found := fs.Find(path)
	if !found || e.IsDir {
		return -1, false
	}
	vf, err := fs.AcquireVFile(e)
	if err != nil {
		return -1, false
	}
	// Duplicate the raw fd directly: an *os.File wrapper would close it
	// from its finalizer once collected, behind the caller's back.
	raw, err := unix.Dup(int(vf.file.Fd()))
	if err != nil {
		return -1, false
	}
	if _, err := unix.Seek(raw, 0, io.SeekStart); err != nil {
		_ = unix.Close(raw)
		return -1, false
	}
	return raw, true
}
