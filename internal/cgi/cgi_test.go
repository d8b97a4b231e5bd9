package cgi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEnvCoreVariables(t *testing.T) {
	req := &RequestInfo{
		Method:        "GET",
		RequestURI:    "/cgi-bin/hello.c?x=1",
		ScriptName:    "/cgi-bin/hello.c",
		ScriptFile:    "/var/www/cgi-bin/hello.c",
		PathInfo:      "",
		Query:         "x=1",
		ServerName:    "example.com",
		ServerPort:    "8000",
		Protocol:      "HTTP/1.1",
		RemoteAddr:    "10.0.0.1",
		ContentLength: "0",
		Header:        http.Header{"Host": {"example.com"}, "User-Agent": {"go-test"}},
	}
	env := BuildEnv(req, "wpphttpd/1.0")
	joined := strings.Join(env, "\n")
	for _, want := range []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=GET",
		"SCRIPT_NAME=/cgi-bin/hello.c",
		"HTTP_HOST=example.com",
		"HTTP_USER_AGENT=go-test",
	} {
		require.Contains(t, joined, want)
	}
}

func TestParseOutputStatusLine(t *testing.T) {
	raw := "Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\nnope\n"
	out, err := ParseOutput(strings.NewReader(raw), false)
	require.NoError(t, err)
	require.Equal(t, 404, out.Status)
	require.Equal(t, "text/plain", out.Header.Get("Content-Type"))
	require.Equal(t, "nope\n", readAll(t, out.Body))
}

// TestParseOutputDefaultsTo200 exercises spec §8 scenario 6: a script
// that emits only Content-Type + blank line + body defaults to 200.
func TestParseOutputDefaultsTo200(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\nhi\n"
	out, err := ParseOutput(strings.NewReader(raw), false)
	require.NoError(t, err)
	require.Equal(t, 200, out.Status)
	require.Equal(t, "hi\n", readAll(t, out.Body))
}

func TestParseOutputLocationDefaultsTo302(t *testing.T) {
	raw := "Location: /elsewhere\r\n\r\n"
	out, err := ParseOutput(strings.NewReader(raw), false)
	require.NoError(t, err)
	require.Equal(t, 302, out.Status)
}

func TestParseOutputNPHPassesThroughUnparsed(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nraw\n"
	out, err := ParseOutput(strings.NewReader(raw), true)
	require.NoError(t, err)
	require.Zero(t, out.Status)
	require.Nil(t, out.Header)
	require.Equal(t, raw, readAll(t, out.Body))
}

func TestParseOutputMalformedWithoutBlankLine(t *testing.T) {
	_, err := ParseOutput(strings.NewReader("Content-Type: text/plain\r\nno blank line here"), false)
	require.ErrorIs(t, err, ErrMalformedCGIOutput)
}

func TestParseHostPortLine(t *testing.T) {
	hp, err := ParseHostPortLine("127.0.0.1 9000\n")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", hp.Host)
	require.Equal(t, "9000", hp.Port)

	_, err = ParseHostPortLine("garbage")
	require.Error(t, err)
}

func TestEncodeSCGIHeadersFraming(t *testing.T) {
	pairs := [][2]string{{"CONTENT_LENGTH", "0"}, {"SCGI", "1"}}
	framed := string(encodeSCGIHeaders(pairs))
	require.True(t, strings.HasPrefix(framed, "24:"), "unexpected netstring length prefix: %q", framed)
	require.True(t, strings.HasSuffix(framed, ","), "expected trailing comma: %q", framed)
}

func readAll(t *testing.T, r interface{ Read([]byte) (int, error) }) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}
