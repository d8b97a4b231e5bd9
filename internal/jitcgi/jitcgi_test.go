package jitcgi

import (
	"bytes"
	"context"
	"os"
	"testing"
)

func TestNewEnvironmentNoOpenHits(t *testing.T) {
	open := func(path string) (int, bool) { return -1, false }
	env, err := NewEnvironment(open)
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(env.ShadowDir())

	if len(env.Symbols) != len(HostSymbols) {
		t.Fatalf("expected %d host symbols, got %d", len(HostSymbols), len(env.Symbols))
	}
	if env.ShadowDir() == "" {
		t.Fatal("expected non-empty shadow dir")
	}
}

func TestNewEnvironmentMaterializesHits(t *testing.T) {
	data := []byte("#define NULL ((void*)0)\n")
	f, err := os.CreateTemp("", "stddef-*.h")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	f.Close()

	open := func(path string) (int, bool) {
		if path != "/include/stddef.h" {
			return -1, false
		}
		fd, err := os.Open(f.Name())
		if err != nil {
			return -1, false
		}
		return int(fd.Fd()), true
	}

	env, err := NewEnvironment(open)
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(env.ShadowDir())

	shadowed, err := os.ReadFile(env.ShadowDir() + "/stddef.h")
	if err != nil {
		t.Fatalf("expected stddef.h to be shadowed: %v", err)
	}
	if !bytes.Equal(shadowed, data) {
		t.Fatalf("shadowed content mismatch: got %q want %q", shadowed, data)
	}
}

type fakeCompiler struct {
	ran bool
}

func (f *fakeCompiler) Run(ctx context.Context, sess *Session, req *RunRequest) (int, error) {
	f.ran = true
	_, _ = req.Stdout.Write([]byte("Content-Type: text/plain\r\n\r\nhi\n"))
	return 0, nil
}

func TestCompilerInterfaceContract(t *testing.T) {
	env, err := NewEnvironment(func(string) (int, bool) { return -1, false })
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(env.ShadowDir())
	sess := NewSession(env)

	var out bytes.Buffer
	fc := &fakeCompiler{}
	code, err := fc.Run(context.Background(), sess, &RunRequest{
		SourcePath: "/tmp/does-not-matter.c",
		Stdout:     &out,
	})
	if err != nil || code != 0 {
		t.Fatalf("unexpected result: code=%d err=%v", code, err)
	}
	if !fc.ran {
		t.Fatal("expected fake compiler to run")
	}
	if out.String() != "Content-Type: text/plain\r\n\r\nhi\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
