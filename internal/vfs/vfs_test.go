package vfs

import (
	"bytes"
	"io"
	"testing"

	gzip "github.com/klauspost/compress/gzip"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestFS(t *testing.T, files map[string][]byte) *FS {
	t.Helper()
	var entries []*Entry
	for uri, data := range files {
		entries = append(entries, &Entry{
			URI:        uri,
			Hash:       Hash(uri),
			Compressed: compress(t, data),
			OrigSize:   int64(len(data)),
		})
	}
	entries = append(entries, &Entry{URI: "/", Hash: Hash("/"), IsDir: true})
	return New(NewIndex(entries))
}

func TestFindDeterministic(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/hello.html": []byte("<html>hi</html>")})
	e1, ok1 := fs.Find("/hello.html")
	e2, ok2 := fs.Find("/hello.html")
	if !ok1 || !ok2 || e1 != e2 {
		t.Fatalf("Find not deterministic: %v %v %v %v", e1, ok1, e2, ok2)
	}
	if _, ok := fs.Find("/missing"); ok {
		t.Fatal("expected miss for /missing")
	}
}

func TestDecompressedExactLengthAndCached(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	fs := newTestFS(t, map[string][]byte{"/f": payload})
	e, _ := fs.Find("/f")

	got, err := fs.Decompressed(e)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != int(e.OrigSize) || !bytes.Equal(got, payload) {
		t.Fatalf("decompressed mismatch: got %q want %q", got, payload)
	}

	got2, err := fs.Decompressed(e)
	if err != nil {
		t.Fatal(err)
	}
	if &got[0] != &got2[0] {
		t.Fatal("expected second call to return the same cached buffer")
	}
}

func TestDecompressedEmptySentinel(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/empty": {}})
	e, _ := fs.Find("/empty")
	got, err := fs.Decompressed(e)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty sentinel, got %v", got)
	}
}

func TestDecompressedOnDirectoryErrors(t *testing.T) {
	fs := newTestFS(t, nil)
	e, ok := fs.Find("/")
	if !ok {
		t.Fatal("expected root directory entry")
	}
	if _, err := fs.Decompressed(e); err != ErrIsDirectory {
		t.Fatalf("expected ErrIsDirectory, got %v", err)
	}
}

func TestAcquireReleaseVFileNetZero(t *testing.T) {
	payload := []byte("virtual file contents")
	fs := newTestFS(t, map[string][]byte{"/f": payload})
	e, _ := fs.Find("/f")

	vf, err := fs.AcquireVFile(e)
	if err != nil {
		t.Fatal(err)
	}
	dup, err := vf.Dup()
	if err != nil {
		t.Fatal(err)
	}
	defer dup.Close()

	got, err := io.ReadAll(dup)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("vfile contents mismatch: got %q want %q", got, payload)
	}

	if err := fs.ReleaseVFile(e); err != nil {
		t.Fatal(err)
	}
	e2, _ := fs.Find("/f")
	if e2.vfile != nil {
		t.Fatal("expected vfile to be cleared after release")
	}
}

func TestAcquireVFileEmptyEntryReadsZero(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/empty": {}})
	e, _ := fs.Find("/empty")
	vf, err := fs.AcquireVFile(e)
	if err != nil {
		t.Fatal(err)
	}
	dup, err := vf.Dup()
	if err != nil {
		t.Fatal(err)
	}
	defer dup.Close()
	buf := make([]byte, 1)
	n, err := dup.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("expected immediate EOF, got n=%d err=%v", n, err)
	}
}

func TestOpenInterceptFallsThroughOnMiss(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/f": []byte("x")})
	if _, ok := fs.OpenIntercept("/not-here"); ok {
		t.Fatal("expected miss to report ok=false")
	}
	fd, ok := fs.OpenIntercept("/f")
	if !ok || fd < 0 {
		t.Fatalf("expected hit with valid fd, got fd=%d ok=%v", fd, ok)
	}
}

func TestHashTableStrategyAboveThreshold(t *testing.T) {
	files := make(map[string][]byte, hashIndexThreshold+5)
	for i := 0; i < hashIndexThreshold+5; i++ {
		files[string(rune('a'+i%26))+"/"+string(rune('0'+i%10))] = []byte("x")
	}
	fs := newTestFS(t, files)
	if !fs.index.useTable {
		t.Fatal("expected hash-table strategy above threshold")
	}
	for uri := range files {
		if _, ok := fs.Find("/" + uri); !ok {
			// the map keys carry no leading slash, so look up the key as stored
			if _, ok2 := fs.Find(uri); !ok2 {
				t.Errorf("lookup failed for %q under hash-table strategy", uri)
			}
		}
	}
}
