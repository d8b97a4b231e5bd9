package vfs

import (
	"bytes"
	"embed"
	"io/fs"
	"path"
	"sort"

	gzip "github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// builtinSources embeds the raw resources shipped inside the server
// binary: C headers and a demo CGI script recovered from the original
// implementation's buildins/ and include/ trees. A real image build
// (internal/vfs/gen) would run this same compression pass offline and
// bake the result into a generated .go file; embedding the raw sources
// and compressing them once at process init keeps the shipped binary
// self-building without requiring a separate code-generation step to
// have been run.
//
//go:embed builtins
var builtinSources embed.FS

// directoryEntries returns one Entry per distinct directory prefix
// beneath root so directory listings (spec §4.4 outcome 2, "try the
// default index names") have something to resolve against. A directory
// Entry carries a nil Compressed slice, the reserved sentinel described
// in spec §3.
func directoryEntries(uris []string) []*Entry {
	seen := map[string]bool{}
	var dirs []string
	for _, u := range uris {
		d := path.Dir(u)
		for d != "." && d != "/" && !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
			d = path.Dir(d)
		}
		if !seen["/"] {
			seen["/"] = true
			dirs = append(dirs, "/")
		}
	}
	sort.Strings(dirs)
	entries := make([]*Entry, 0, len(dirs))
	for _, d := range dirs {
		entries = append(entries, &Entry{URI: d, Hash: Hash(d), IsDir: true})
	}
	return entries
}

// BuildImage walks builtinSources, gzip-compressing each file's contents,
// and returns the built-ins Index the server embeds. It panics on any
// I/O or compression failure against the embedded tree, since that tree
// is part of the binary and a failure here means the binary itself is
// broken.
func BuildImage() *Index {
	var files []*Entry
	var uris []string

	err := fs.WalkDir(builtinSources, "builtins", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		raw, err := builtinSources.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "vfs: read embedded %q", p)
		}
		uri := "/" + p[len("builtins/"):]
		compressed, err := gzipCompress(raw)
		if err != nil {
			return errors.Wrapf(err, "vfs: compress embedded %q", p)
		}
		files = append(files, &Entry{
			URI:        uri,
			Hash:       Hash(uri),
			Compressed: compressed,
			OrigSize:   int64(len(raw)),
		})
		uris = append(uris, uri)
		return nil
	})
	if err != nil {
		panic(errors.Wrap(err, "vfs: build built-ins image"))
	}

	all := append(files, directoryEntries(uris)...)
	return NewIndex(all)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
