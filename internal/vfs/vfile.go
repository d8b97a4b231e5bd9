package vfs

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// VFile is a virtual-file handle: an (fd, size, uri) triple backed by an
// anonymous, seekable OS file. On Linux it is a memfd_create'd region; on
// other platforms it falls back to an unlinked temp file. It is always
// created close-on-exec: nothing in this port hands the fd across an
// exec boundary (jitcgi reads it in-process to materialize a shadow
// directory for the exec'd compiler, see jitcgi.Environment), so leaking
// it into a forked child on accident is the only thing CLOEXEC could do
// here. The handle is closed only by the VFS when the owning Entry's
// reference count reaches zero; any other consumer that needs an
// independent lifetime must Dup it first.
type VFile struct {
	file *os.File
	uri  string
	size int64
}

// newVFile creates an anonymous seekable backing store, writes data into
// it, and rewinds to offset zero, matching the write()-then-lseek(0)
// contract entries depend on.
func newVFile(uri string, data []byte) (*VFile, error) {
	f, err := createAnonFile(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: create backing store for %q", uri)
	}
	if err := writeAll(f, data); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "vfs: populate backing store for %q", uri)
	}
	if _, err := f.Seek(0, os.SEEK_SET); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "vfs: rewind backing store for %q", uri)
	}
	return &VFile{file: f, uri: uri, size: int64(len(data))}, nil
}

func writeAll(f *os.File, data []byte) error {
	if err := f.Truncate(int64(len(data))); err != nil {
		return err
	}
	for len(data) > 0 {
		n, err := f.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// createAnonFile prefers memfd_create (Linux) and falls back to a
// private, immediately-unlinked temp file everywhere else.
func createAnonFile(name string) (*os.File, error) {
	if runtime.GOOS == "linux" {
		fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
		if err == nil {
			return os.NewFile(uintptr(fd), name), nil
		}
		// fall through to tmpfile on any memfd failure (e.g. seccomp)
	}
	f, err := os.CreateTemp("", "vfile-*")
	if err != nil {
		return nil, err
	}
	_ = os.Remove(f.Name())
	return f, nil
}

// URI returns the path this handle was materialized for.
func (v *VFile) URI() string { return v.uri }

// Size returns the decompressed byte length backing this handle.
func (v *VFile) Size() int64 { return v.size }

// Dup returns a new, independently-lifetimed *os.File duplicating the
// underlying fd, positioned at offset zero. Callers own the returned
// file and must Close it themselves; doing so never affects the VFS's
// copy.
func (v *VFile) Dup() (*os.File, error) {
	newFd, err := unix.Dup(int(v.file.Fd()))
	if err != nil {
		return nil, errors.Wrap(err, "vfs: dup virtual file")
	}
	dup := os.NewFile(uintptr(newFd), v.uri)
	if _, err := dup.Seek(0, os.SEEK_SET); err != nil {
		_ = dup.Close()
		return nil, errors.Wrap(err, "vfs: rewind duplicated fd")
	}
	return dup, nil
}

// close tears down the backing store. Called only by the VFS when an
// Entry's reference count reaches zero.
func (v *VFile) close() error {
	return v.file.Close()
}
