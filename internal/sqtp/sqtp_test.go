package sqtp

import (
	"bufio"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) *ConnState {
	t.Helper()
	conn := &ConnState{}
	_, err := conn.handle("")
	require.NoError(t, err)
	return conn
}

func mustExecDDL(t *testing.T, conn *ConnState, sqlText string) {
	t.Helper()
	ex, err := conn.activeExecer("")
	require.NoError(t, err)
	_, err = ex.Exec(sqlText)
	require.NoError(t, err)
}

// parseReq wraps raw in a *bufio.Reader, the same shape the connection
// server hands ParseRequest in production (see request.go's doc comment
// on why a bare io.Reader would silently double-buffer).
func parseReq(t *testing.T, raw string) *Request {
	t.Helper()
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	return req
}

func TestParseRequestRoundTrip(t *testing.T) {
	raw := "SQTP-SELECT  SQTP/1.0\r\nTABLE: widgets\r\nWHERE: id = 1\r\n\r\n"
	req := parseReq(t, raw)
	require.Equal(t, VerbSelect, req.Verb)
	require.Equal(t, "widgets", req.Single("TABLE"))
	require.Equal(t, []string{"id = 1"}, req.List("WHERE"))
}

// TestSelectRoundTrip exercises spec §8 scenario 3: CREATE a table,
// INSERT a row, SELECT it back and check the rendered JSON.
func TestSelectRoundTrip(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	mustExecDDL(t, conn, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")

	tr := NewTranslator()
	insertReq := parseReq(t,
		"SQTP-INSERT  SQTP/1.0\r\n"+
			"TABLE: widgets\r\n"+
			"COLUMNS: id,name\r\n"+
			"Content-Type: application/json\r\n"+
			"Content-Length: 10\r\n"+
			"\r\n"+
			"[1,\"bolt\"]")
	resp := tr.Handle(insertReq, conn)
	require.Equal(t, 201, resp.Status, resp.Body)
	require.Equal(t, "1", resp.Headers["X-SQTP-Changes"])
	require.Contains(t, resp.Body, `"inserted":1`)

	selectReq := parseReq(t, "SQTP-SELECT  SQTP/1.0\r\nTABLE: widgets\r\n\r\n")
	sresp := tr.Handle(selectReq, conn)
	require.Equal(t, 200, sresp.Status, sresp.Body)
	require.Contains(t, sresp.Body, `"id":1`)
	require.Contains(t, sresp.Body, `"name":"bolt"`)
}

// TestInsertBatchReportsChanges exercises spec §8 scenario 4: a
// multi-row INSERT batch reports the row count via X-SQTP-Changes.
func TestInsertBatchReportsChanges(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	mustExecDDL(t, conn, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")

	tr := NewTranslator()
	body := `[[1,"a"],[2,"b"],[3,"c"]]`
	req := parseReq(t,
		"SQTP-INSERT  SQTP/1.0\r\n"+
			"TABLE: widgets\r\n"+
			"COLUMNS: id,name\r\n"+
			"Content-Length: "+strconv.Itoa(len(body))+"\r\n"+
			"\r\n"+body)
	resp := tr.Handle(req, conn)
	require.Equal(t, 201, resp.Status, resp.Body)
	require.Equal(t, "3", resp.Headers["X-SQTP-Changes"])
	require.Contains(t, resp.Body, `"inserted":3`)
}

// TestUpdateWithoutWhereRejected exercises spec §8 scenario 5: UPDATE or
// DELETE without a WHERE header (not even the "*" opt-in) is a 400.
func TestUpdateWithoutWhereRejected(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	mustExecDDL(t, conn, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")

	tr := NewTranslator()
	req := parseReq(t, "SQTP-UPDATE  SQTP/1.0\r\nTABLE: widgets\r\nCOLUMNS: name\r\n\r\n")
	resp := tr.Handle(req, conn)
	require.Equal(t, 400, resp.Status, resp.Body)
	require.True(t, resp.Close, "expected Close to be set on a 4xx response")
}

func TestDeleteWithoutWhereRejected(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	mustExecDDL(t, conn, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	tr := NewTranslator()
	req := parseReq(t, "SQTP-DELETE  SQTP/1.0\r\nTABLE: widgets\r\n\r\n")
	resp := tr.Handle(req, conn)
	require.Equal(t, 400, resp.Status)
}

func TestDeleteWithWildcardWhereAllowed(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	mustExecDDL(t, conn, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
	tr := NewTranslator()

	insertReq := parseReq(t, "SQTP-INSERT  SQTP/1.0\r\nTABLE: widgets\r\nCOLUMNS: id\r\nContent-Length: 3\r\n\r\n[1]")
	tr.Handle(insertReq, conn)

	delReq := parseReq(t, "SQTP-DELETE  SQTP/1.0\r\nTABLE: widgets\r\nWHERE: *\r\n\r\n")
	resp := tr.Handle(delReq, conn)
	require.Equal(t, 200, resp.Status, resp.Body)
	require.Equal(t, "1", resp.Headers["X-SQTP-Changes"])
}

func TestBeginCommitSpanMultipleRequests(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	mustExecDDL(t, conn, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
	tr := NewTranslator()

	beginReq := parseReq(t, "SQTP-BEGIN  SQTP/1.0\r\n\r\n")
	require.Equal(t, 200, tr.Handle(beginReq, conn).Status)

	insertReq := parseReq(t, "SQTP-INSERT  SQTP/1.0\r\nTABLE: widgets\r\nCOLUMNS: id\r\nContent-Length: 3\r\n\r\n[9]")
	insertResp := tr.Handle(insertReq, conn)
	require.Equal(t, 201, insertResp.Status, insertResp.Body)

	commitReq := parseReq(t, "SQTP-COMMIT  SQTP/1.0\r\n\r\n")
	require.Equal(t, 200, tr.Handle(commitReq, conn).Status)

	// A second COMMIT with nothing open must fail.
	require.Equal(t, 500, tr.Handle(commitReq, conn).Status)
}

func TestUnsupportedVerbIsNotImplemented(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	tr := NewTranslator()
	req := &Request{Verb: "VACUUM", single: map[string]string{}, list: map[string][]string{}}
	resp := tr.Handle(req, conn)
	require.Equal(t, 501, resp.Status)
}

func TestSelectFromUnknownTableIsExecError(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()
	tr := NewTranslator()
	req := parseReq(t, "SQTP-SELECT  SQTP/1.0\r\nTABLE: nope\r\n\r\n")
	resp := tr.Handle(req, conn)
	require.Equal(t, 500, resp.Status, "expected sqlite no-such-table to surface as 500")
}
