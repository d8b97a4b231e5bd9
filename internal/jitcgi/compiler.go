package jitcgi

import (
	"context"
	"io"
)

// RunRequest is one C-CGI invocation: the resolved resource path of the
// source, handed to the compiler as is, the
// synthesized CGI environment (spec §6.5), and the stdio the compiled
// program's main() should inherit.
type RunRequest struct {
	SourcePath string
	Env        []string
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// Compiler is the external collaborator from spec §6.4 and §1 scope
// ("the compiler runtime itself ... consumed through the interface in
// §6.4"): something that can compile a C source and run its main(),
// relaying the host-symbol table and VFS-resolved includes the
// Environment configured. This package defines the contract and ships
// one adapter (ExecCompiler); a production deployment could swap in an
// in-process JIT library without touching any other component.
type Compiler interface {
	// Run compiles req.SourcePath and executes its main(), streaming
	// req.Stdin to the program's stdin and the program's stdout/stderr to
	// req.Stdout/req.Stderr. It returns the program's exit code, or a
	// non-nil error if compilation itself failed (spec §4.5 step 4: "On
	// failure, emit a 500 CGI response").
	Run(ctx context.Context, sess *Session, req *RunRequest) (exitCode int, err error)
}

// CompileError distinguishes a compilation failure (→ 500, per spec §7)
// from a runtime failure of the compiled program (→ whatever exit code
// the script itself chose).
type CompileError struct {
	Diagnostics string
}

func (e *CompileError) Error() string { return "jitcgi: compile failed: " + e.Diagnostics }
