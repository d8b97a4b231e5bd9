// Command gen builds a built-ins image from a source tree: it walks a
// directory, gzip-compresses every regular file, and emits a Go source
// file with a sorted-by-hash slice literal suitable for embedding
// directly into the server binary as internal/vfs.Index data, without
// paying the embed.FS + init-time-compress cost that the shipped
// internal/vfs.BuildImage takes for convenience.
//
// Usage: go run ./internal/vfs/gen -src <dir> -out <file.go> -pkg <name>
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"text/template"

	gzip "github.com/klauspost/compress/gzip"

	"github.com/wpphttpd/wpphttpd/internal/vfs"
)

type genEntry struct {
	URI        string
	Hash       uint32
	Compressed []byte
	OrigSize   int
}

var tmpl = template.Must(template.New("builtins").Parse(`// Code generated by internal/vfs/gen. DO NOT EDIT.

package {{.Package}}

import "github.com/wpphttpd/wpphttpd/internal/vfs"

// GeneratedEntries returns the built-ins table captured from {{.Source}}.
func GeneratedEntries() []*vfs.Entry {
	return []*vfs.Entry{
{{- range .Entries}}
		{URI: {{printf "%q" .URI}}, Hash: {{.Hash}}, OrigSize: {{.OrigSize}}, Compressed: []byte{ {{range .Compressed}}{{.}},{{end}} }},
{{- end}}
	}
}
`))

func main() {
	src := flag.String("src", "", "source directory to walk")
	out := flag.String("out", "", "output .go file")
	pkg := flag.String("pkg", "builtins", "package name for the generated file")
	flag.Parse()

	if *src == "" || *out == "" {
		log.Fatal("gen: -src and -out are required")
	}

	var entries []genEntry
	err := filepath.Walk(*src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(*src, p)
		if err != nil {
			return err
		}
		uri := "/" + filepath.ToSlash(rel)
		uri = path.Clean(uri)

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}

		entries = append(entries, genEntry{
			URI:        uri,
			Hash:       vfs.Hash(uri),
			Compressed: buf.Bytes(),
			OrigSize:   len(raw),
		})
		return nil
	})
	if err != nil {
		log.Fatalf("gen: walk %s: %v", *src, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Hash != entries[j].Hash {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].URI < entries[j].URI
	})

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("gen: create %s: %v", *out, err)
	}
	defer f.Close()

	err = tmpl.Execute(f, struct {
		Package string
		Source  string
		Entries []genEntry
	}{Package: *pkg, Source: *src, Entries: entries})
	if err != nil {
		log.Fatalf("gen: render template: %v", err)
	}

	fmt.Printf("gen: wrote %d entries to %s\n", len(entries), *out)
}
