package sqtp

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Response is the rendered SQTP reply: a status line, a small set of
// framing headers, and a JSON body (spec §4.3, §7).
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
	// Close reports whether the connection must not be reused for a
	// further request, per spec §7 ("any 4xx/5xx forces Connection:
	// close").
	Close bool
}

func errorResponse(status int, err error) *Response {
	return &Response{
		Status: status,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body:  fmt.Sprintf("{%s:%s}\n", EscapeJSONString("error"), EscapeJSONString(err.Error())),
		Close: status >= 400,
	}
}

func missingHeaderResponse(header string) *Response {
	return errorResponse(400, errors.Errorf("missing mandatory header %s", header))
}

func okResponse(body string, headers map[string]string) *Response {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	return &Response{Status: 200, Headers: headers, Body: body}
}

// createdResponse renders INSERT's spec §4.3 response shape:
// `{"inserted": N}` with HTTP 201.
func createdResponse(n int64, headers map[string]string) *Response {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	return &Response{Status: 201, Headers: headers, Body: fmt.Sprintf("{%s:%d}\n", EscapeJSONString("inserted"), n)}
}

// Translator dispatches parsed SQTP requests against a connection's
// database state and renders the JSON reply. It is stateless; all
// mutable state lives in the *ConnState the caller supplies (spec §9,
// resolved per-connection per SPEC_FULL.md §5.1).
type Translator struct{}

// NewTranslator returns a ready-to-use Translator.
func NewTranslator() *Translator { return &Translator{} }

// Handle executes one parsed request and always returns a Response —
// SQTP-level failures (missing headers, bad SQL, unsupported verbs) are
// rendered as error responses rather than returned as Go errors, per
// spec §7's requirement that every failure mode maps to a status code.
func (t *Translator) Handle(req *Request, conn *ConnState) *Response {
	switch req.Verb {
	case VerbSelect:
		return t.handleSelect(req, conn)
	case VerbInsert:
		return t.handleInsert(req, conn)
	case VerbUpdate:
		return t.handleUpdate(req, conn)
	case VerbDelete:
		return t.handleDelete(req, conn)
	case VerbUpsert:
		return t.handleUpsert(req, conn)
	case VerbReset:
		return t.handleReset(req, conn)
	case VerbBegin:
		return t.handleBegin(req, conn)
	case VerbCommit:
		return t.handleCommit(conn)
	case VerbRollback:
		return t.handleRollback(conn)
	case VerbSavepoint:
		return t.handleSavepoint(req, conn)
	case VerbCreate:
		return t.handleCreate(req, conn)
	case VerbDrop:
		return t.handleDrop(req, conn)
	case VerbAlter:
		return t.handleAlter(req, conn)
	default:
		return errorResponse(501, errors.Errorf("unsupported verb %q", req.Verb))
	}
}

func (t *Translator) handleSelect(req *Request, conn *ConnState) *Response {
	sqlText, ok, missing := buildSelect(req)
	if !ok {
		return missingHeaderResponse(missing)
	}
	ex, err := conn.activeExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	rows, err := ex.Query(sqlText)
	if err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: SELECT"))
	}
	defer rows.Close()
	body, err := RowsToJSON(rows)
	if err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: render rows"))
	}
	return okResponse(body, nil)
}

// decodeRows parses the JSON request body into a batch of rows: either a
// single flat array of scalars (one row) or an array of arrays (a
// batch). json.Number is used so integer literals survive as int64
// rather than losing precision through float64.
func decodeRows(body []byte) ([][]any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(ErrMalformedRequest, err.Error())
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, errors.Wrap(ErrMalformedRequest, "body must be a JSON array")
	}
	if len(arr) == 0 {
		return nil, nil
	}
	if _, isRow := arr[0].([]any); isRow {
		rows := make([][]any, 0, len(arr))
		for _, r := range arr {
			row, ok := r.([]any)
			if !ok {
				return nil, errors.Wrap(ErrMalformedRequest, "mixed row shapes in batch")
			}
			rows = append(rows, normalizeRow(row))
		}
		return rows, nil
	}
	return [][]any{normalizeRow(arr)}, nil
}

func normalizeRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if n, ok := v.(json.Number); ok {
			if iv, err := n.Int64(); err == nil {
				out[i] = iv
				continue
			}
			if fv, err := n.Float64(); err == nil {
				out[i] = fv
				continue
			}
		}
		out[i] = v
	}
	return out
}

func (t *Translator) handleInsert(req *Request, conn *ConnState) *Response {
	rows, err := decodeRows(req.Body)
	if err != nil {
		return errorResponse(400, err)
	}
	if len(rows) == 0 {
		return missingHeaderResponse("body")
	}

	ex, batchTx, err := conn.batchExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	var inserted int64
	for _, row := range rows {
		sqlText, args, ok, missing := buildInsert(req, row)
		if !ok {
			abortBatch(batchTx)
			return missingHeaderResponse(missing)
		}
		res, err := ex.Exec(sqlText, args...)
		if err != nil {
			abortBatch(batchTx)
			return errorResponse(500, errors.Wrap(err, "sqtp: INSERT"))
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := commitBatch(batchTx); err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: commit INSERT batch"))
	}
	return createdResponse(inserted, map[string]string{"X-SQTP-Changes": fmt.Sprint(inserted)})
}

func (t *Translator) handleUpsert(req *Request, conn *ConnState) *Response {
	rows, err := decodeRows(req.Body)
	if err != nil {
		return errorResponse(400, err)
	}
	if len(rows) == 0 {
		return missingHeaderResponse("body")
	}
	ex, batchTx, err := conn.batchExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	var affected int64
	for _, row := range rows {
		sqlText, args, ok, missing := buildUpsert(req, row)
		if !ok {
			abortBatch(batchTx)
			return missingHeaderResponse(missing)
		}
		res, err := ex.Exec(sqlText, args...)
		if err != nil {
			abortBatch(batchTx)
			return errorResponse(500, errors.Wrap(err, "sqtp: UPSERT"))
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	if err := commitBatch(batchTx); err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: commit UPSERT batch"))
	}
	return okResponse("{}\n", map[string]string{"X-SQTP-Changes": fmt.Sprint(affected)})
}

func (t *Translator) handleUpdate(req *Request, conn *ConnState) *Response {
	if !req.Has("WHERE") {
		return missingHeaderResponse("WHERE")
	}
	rows, err := decodeRows(req.Body)
	if err != nil {
		return errorResponse(400, err)
	}
	var values []any
	if len(rows) > 0 {
		values = rows[0]
	}
	sqlText, args, ok, missing := buildUpdate(req, values)
	if !ok {
		return missingHeaderResponse(missing)
	}
	ex, err := conn.activeExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	res, err := ex.Exec(sqlText, args...)
	if err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: UPDATE"))
	}
	n, _ := res.RowsAffected()
	return okResponse("{}\n", map[string]string{"X-SQTP-Changes": fmt.Sprint(n)})
}

func (t *Translator) handleDelete(req *Request, conn *ConnState) *Response {
	if !req.Has("WHERE") {
		return missingHeaderResponse("WHERE")
	}
	sqlText, ok, missing := buildDelete(req)
	if !ok {
		return missingHeaderResponse(missing)
	}
	ex, err := conn.activeExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	res, err := ex.Exec(sqlText)
	if err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: DELETE"))
	}
	n, _ := res.RowsAffected()
	return okResponse("{}\n", map[string]string{"X-SQTP-Changes": fmt.Sprint(n)})
}

// handleReset implements RESET (spec §4.3): an atomic DELETE (honoring
// WHERE if present, otherwise unconditional) followed by re-INSERTing
// the posted batch.
func (t *Translator) handleReset(req *Request, conn *ConnState) *Response {
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return missingHeaderResponse("TABLE")
	}
	rows, err := decodeRows(req.Body)
	if err != nil {
		return errorResponse(400, err)
	}

	ex, batchTx, err := conn.batchExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	deleteSQL := "DELETE FROM " + table
	if req.Has("WHERE") && !whereIsWildcardOnly(req) {
		var b strings.Builder
		b.WriteString(deleteSQL)
		writeWhere(&b, req)
		deleteSQL = b.String()
	}
	if _, err := ex.Exec(deleteSQL); err != nil {
		abortBatch(batchTx)
		return errorResponse(500, errors.Wrap(err, "sqtp: RESET delete phase"))
	}
	var inserted int64
	for _, row := range rows {
		sqlText, args, ok, missing := buildInsert(req, row)
		if !ok {
			abortBatch(batchTx)
			return missingHeaderResponse(missing)
		}
		res, err := ex.Exec(sqlText, args...)
		if err != nil {
			abortBatch(batchTx)
			return errorResponse(500, errors.Wrap(err, "sqtp: RESET insert phase"))
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := commitBatch(batchTx); err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: commit RESET"))
	}
	return okResponse("{}\n", map[string]string{"X-SQTP-Changes": fmt.Sprint(inserted)})
}

func (t *Translator) handleBegin(req *Request, conn *ConnState) *Response {
	if err := conn.beginTx(req.DatabaseURI); err != nil {
		return errorResponse(500, err)
	}
	return okResponse("{}\n", nil)
}

func (t *Translator) handleCommit(conn *ConnState) *Response {
	if err := conn.commitTx(); err != nil {
		return errorResponse(500, err)
	}
	return okResponse("{}\n", nil)
}

func (t *Translator) handleRollback(conn *ConnState) *Response {
	if err := conn.rollbackTx(); err != nil {
		return errorResponse(500, err)
	}
	return okResponse("{}\n", nil)
}

func (t *Translator) handleSavepoint(req *Request, conn *ConnState) *Response {
	name := req.Single("NAME")
	if name == "" {
		return missingHeaderResponse("NAME")
	}
	ex, err := conn.activeExecer(req.DatabaseURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	if _, err := ex.Exec("SAVEPOINT " + name); err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: SAVEPOINT"))
	}
	return okResponse("{}\n", nil)
}

func (t *Translator) handleCreate(req *Request, conn *ConnState) *Response {
	objType, dbURI := resolveObjectType(req)
	var sqlText string
	var ok bool
	var missing string
	switch objType {
	case "table":
		sqlText, ok, missing = buildCreateTable(req)
	case "index":
		sqlText, ok, missing = buildCreateIndex(req)
	case "trigger":
		sqlText, ok, missing = buildCreateTrigger(req)
	default:
		return errorResponse(400, errors.Errorf("unknown object type %q (set TYPE or end the URI in /table, /index or /trigger)", objType))
	}
	if !ok {
		return missingHeaderResponse(missing)
	}
	return t.execDDL(dbURI, conn, sqlText)
}

func (t *Translator) handleDrop(req *Request, conn *ConnState) *Response {
	objType, dbURI := resolveObjectType(req)
	if !objectTypes[objType] {
		return errorResponse(400, errors.Errorf("unknown object type %q", objType))
	}
	sqlText, ok, missing := buildDrop(objType, req)
	if !ok {
		return missingHeaderResponse(missing)
	}
	return t.execDDL(dbURI, conn, sqlText)
}

func (t *Translator) handleAlter(req *Request, conn *ConnState) *Response {
	sqlText, ok, missing := buildAlter(req)
	if !ok {
		return missingHeaderResponse(missing)
	}
	return t.execDDL(req.DatabaseURI, conn, sqlText)
}

func (t *Translator) execDDL(dbURI string, conn *ConnState, sqlText string) *Response {
	ex, err := conn.activeExecer(dbURI)
	if err != nil {
		return dbErrorResponse(err)
	}
	if _, err := ex.Exec(sqlText); err != nil {
		return errorResponse(500, errors.Wrap(err, "sqtp: DDL"))
	}
	return okResponse("{}\n", nil)
}

func dbErrorResponse(err error) *Response {
	if errors.Is(err, ErrDatabaseNotFound) {
		return errorResponse(404, err)
	}
	return errorResponse(500, err)
}

// batchExecer starts a fresh transaction for a multi-statement batch
// (INSERT/UPSERT/RESET) unless the connection already has one open via
// BEGIN, in which case the batch rides inside it and the returned *sql.Tx
// is nil — an explicit BEGIN always wins over the per-batch
// auto-transaction, and commitBatch/abortBatch become no-ops for it.
func (c *ConnState) batchExecer(uri string) (ex execer, batchTx *sql.Tx, err error) {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()
	if tx != nil {
		return tx, nil, nil
	}
	db, err := c.handle(uri)
	if err != nil {
		return nil, nil, err
	}
	batchTx, err = db.Begin()
	if err != nil {
		return nil, nil, errors.Wrap(err, "sqtp: begin batch")
	}
	return batchTx, batchTx, nil
}

func commitBatch(batchTx *sql.Tx) error {
	if batchTx == nil {
		return nil
	}
	return batchTx.Commit()
}

func abortBatch(batchTx *sql.Tx) {
	if batchTx == nil {
		return
	}
	_ = batchTx.Rollback()
}
