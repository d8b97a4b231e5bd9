package vfs

import "testing"

func TestHashKnownVectors(t *testing.T) {
	// Reference values for the classic DJB2 recurrence (h=5381, h=h*33+c).
	cases := map[string]uint32{
		"":        5381,
		"a":       177670,
		"/hello":  hashReference("/hello"),
		"/":       hashReference("/"),
		"/lib/x":  hashReference("/lib/x"),
	}
	for in, want := range cases {
		if got := Hash(in); got != want {
			t.Errorf("Hash(%q) = %d, want %d", in, got, want)
		}
	}
}

// hashReference is an independent, deliberately naive re-implementation
// used only to cross-check Hash in this test file.
func hashReference(s string) uint32 {
	var h uint32 = 5381
	for _, c := range []byte(s) {
		h = ((h << 5) + h) + uint32(c)
	}
	return h
}

func TestHashDeterministic(t *testing.T) {
	uris := []string{"/index.html", "/lib/libc.a", "/include/stdio.h", "/a/b/c/d.c"}
	for _, u := range uris {
		if Hash(u) != Hash(u) {
			t.Fatalf("Hash(%q) not deterministic", u)
		}
	}
}
