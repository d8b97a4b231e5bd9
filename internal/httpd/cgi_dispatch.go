package httpd

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wpphttpd/wpphttpd/internal/cgi"
	"github.com/wpphttpd/wpphttpd/internal/jitcgi"
)

// ccgiOutput invokes the JIT-CGI runner for a resolved ".c" resource
// (spec §4.5, §6.4): a fresh Session clone of the shared Environment,
// the request's CGI meta-variables as its environment, and the body (if
// any) as stdin. The Compiler is the documented out-of-scope collaborator
// (spec §1, §6.4); ExecCompiler is the shipped adapter.
func ccgiOutput(ctx context.Context, env *jitcgi.Environment, compiler jitcgi.Compiler, sourcePath string, req *http.Request, ri *cgi.RequestInfo, serverSoftware string) (*cgi.Output, error) {
	sess := jitcgi.NewSession(env)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runReq := &jitcgi.RunRequest{
		SourcePath: sourcePath,
		Env:        cgi.BuildEnv(ri, serverSoftware),
		Stdin:      req.Body,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}

	code, err := compiler.Run(ctx, sess, runReq)
	if err != nil {
		if _, ok := err.(*jitcgi.CompileError); ok {
			return &cgi.Output{
				Status: http.StatusInternalServerError,
				Header: http.Header{"Content-Type": {"text/plain"}},
				Body:   strings.NewReader("compile error:\n" + stderr.String()),
			}, nil
		}
		return nil, errors.Wrap(err, "ccgi: run")
	}
	if code != 0 {
		return &cgi.Output{
			Status: http.StatusInternalServerError,
			Header: http.Header{"Content-Type": {"text/plain"}},
			Body:   strings.NewReader("script exited " + strconv.Itoa(code) + "\n" + stderr.String()),
		}, nil
	}

	return cgi.ParseOutput(bytes.NewReader(stdout.Bytes()), strings.HasPrefix(filepath.Base(sourcePath), "nph-"))
}

// classicCGIOutput execs a classic CGI script as a real OS subprocess
// (spec §4.4: "otherwise executable ... classic CGI path"), streaming
// the request body to its stdin and parsing its stdout per spec §6.5.
func classicCGIOutput(ctx context.Context, scriptPath string, req *http.Request, ri *cgi.RequestInfo, serverSoftware string, timeout time.Duration) (*cgi.Output, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, scriptPath)
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Env = cgi.BuildEnv(ri, serverSoftware)
	cmd.Stdin = req.Body

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, errors.Wrap(err, "cgi: exec")
		}
	}
	return cgi.ParseOutput(bufio.NewReader(&stdout), strings.HasPrefix(filepath.Base(scriptPath), "nph-"))
}

// scgiOutput proxies to the SCGI responder named by the ".scgi" file's
// single "host port" line (spec §4.4).
func scgiOutput(ctx context.Context, scgiFilePath string, req *http.Request, ri *cgi.RequestInfo, serverSoftware string) (*cgi.Output, error) {
	data, err := os.ReadFile(scgiFilePath)
	if err != nil {
		return nil, errors.Wrap(err, "scgi: read host/port file")
	}
	hp, err := cgi.ParseHostPortLine(string(data))
	if err != nil {
		return nil, err
	}
	return cgi.Proxy(ctx, hp, ri, serverSoftware, req.Body)
}

