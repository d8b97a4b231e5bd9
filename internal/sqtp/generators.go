package sqtp

import (
	"strconv"
	"strings"
)

// buildSelect assembles "SELECT <cols> FROM <table> [WHERE] [GROUP BY]
// [HAVING] [ORDER BY] [LIMIT] [OFFSET]" per spec §4.3. WHERE/ORDER-BY/
// etc are whitelisted header keywords assembled textually (Design Note
// 3: only user *data*, not the SQL shape, crosses the bind-parameter
// interface); there are no body-sourced values in a SELECT so no binds
// are needed here.
func buildSelect(req *Request) (sql string, ok bool, missing string) {
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return "", false, "TABLE"
	}
	cols := req.Single("COLUMNS")
	if cols == "" {
		cols = "*"
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if j := req.Single("JOIN"); j != "" {
		b.WriteString(" ")
		b.WriteString(j)
	}
	writeWhere(&b, req)
	if g := req.Single("GROUP-BY"); g != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(g)
	}
	if h := req.Single("HAVING"); h != "" {
		b.WriteString(" HAVING ")
		b.WriteString(h)
	}
	if o := req.Single("ORDER-BY"); o != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(o)
	}
	if l := req.Single("LIMIT"); l != "" {
		b.WriteString(" LIMIT ")
		b.WriteString(l)
	}
	if off := req.Single("OFFSET"); off != "" {
		b.WriteString(" OFFSET ")
		b.WriteString(off)
	}
	return b.String(), true, ""
}

// writeWhere joins the WHERE and WHERE-IN list headers with AND. A
// literal "*" among the WHERE entries disables the clause entirely,
// WHERE-IN included (spec §4.3), which is also the mandatory opt-in
// UPDATE/DELETE rely on to request an unconditional statement.
func writeWhere(b *strings.Builder, req *Request) {
	var clauses []string
	for _, w := range req.List("WHERE") {
		if w == "*" {
			return
		}
		clauses = append(clauses, w)
	}
	clauses = append(clauses, req.List("WHERE-IN")...)
	if len(clauses) == 0 {
		return
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(clauses, " AND "))
}

// whereIsWildcardOnly reports whether the only WHERE header present is
// the literal "*" (and there is no WHERE-IN), the sole opt-in for an
// unconditional UPDATE/DELETE.
func whereIsWildcardOnly(req *Request) bool {
	w := req.List("WHERE")
	return len(w) == 1 && w[0] == "*" && len(req.List("WHERE-IN")) == 0
}

// buildUpdate assembles "UPDATE <table> SET col=?,... [WHERE ...]". The
// SET values are bound parameters sourced from the JSON body array,
// positionally matched to COLUMNS (Design Note 3: values cross the bind
// interface, never string concatenation).
func buildUpdate(req *Request, values []any) (sql string, args []any, ok bool, missing string) {
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return "", nil, false, "TABLE"
	}
	cols := splitCSV(req.Single("COLUMNS"))
	if len(cols) == 0 {
		return "", nil, false, "COLUMNS"
	}
	if !req.Has("WHERE") {
		return "", nil, false, "WHERE"
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(table)
	b.WriteString(" SET ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(" = ?")
		if i < len(values) {
			args = append(args, values[i])
		} else {
			args = append(args, nil)
		}
	}
	writeWhere(&b, req)
	return b.String(), args, true, ""
}

// buildDelete assembles "DELETE FROM <table> [WHERE ...]".
func buildDelete(req *Request) (sql string, ok bool, missing string) {
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return "", false, "TABLE"
	}
	if !req.Has("WHERE") {
		return "", false, "WHERE"
	}
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(table)
	writeWhere(&b, req)
	return b.String(), true, ""
}

// buildInsert assembles "INSERT INTO <table> (cols) VALUES (?,...)" for
// one row; the caller executes it once per row in the posted batch, all
// values bound as parameters. The ON-CONFLICT header is not applied here
// (no "OR <policy>" clause is emitted); only buildUpsert reads it, as the
// conflict target.
func buildInsert(req *Request, row []any) (sql string, args []any, ok bool, missing string) {
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return "", nil, false, "TABLE"
	}
	cols := splitCSV(req.Single("COLUMNS"))
	if len(cols) == 0 {
		return "", nil, false, "COLUMNS"
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		if i < len(row) {
			args = append(args, row[i])
		} else {
			args = append(args, nil)
		}
	}
	b.WriteString(")")
	return b.String(), args, true, ""
}

// buildUpsert assembles "INSERT INTO <table> (cols) VALUES (?,...) ON
// CONFLICT (<on-conflict>) DO UPDATE SET col = excluded.col, ...".
func buildUpsert(req *Request, row []any) (sql string, args []any, ok bool, missing string) {
	insertSQL, args, ok, missing := buildInsert(req, row)
	if !ok {
		return "", nil, false, missing
	}
	onConflict := req.Single("ON-CONFLICT")
	if onConflict == "" {
		return "", nil, false, "ON-CONFLICT"
	}
	cols := splitCSV(req.Single("COLUMNS"))
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = excluded." + c
	}
	sql = insertSQL + " ON CONFLICT (" + onConflict + ") DO UPDATE SET " + strings.Join(sets, ", ")
	return sql, args, true, ""
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// --- DDL (CREATE / DROP / ALTER) ---

// objectTypes are the recognized DDL object kinds (spec §4.3).
var objectTypes = map[string]bool{"table": true, "index": true, "trigger": true}

// resolveObjectType implements "object type is taken from the last path
// segment of the URI (fallback to TYPE header)" (spec §4.3). When the
// database-URI's last path segment names a recognized object type, the
// remaining path is the actual database file path; otherwise the whole
// database-URI is the file path and TYPE must be set.
func resolveObjectType(req *Request) (objType, dbURI string) {
	trimmed := strings.Trim(req.DatabaseURI, "/")
	if trimmed != "" {
		idx := strings.LastIndexByte(trimmed, '/')
		last := trimmed
		rest := ""
		if idx >= 0 {
			last = trimmed[idx+1:]
			rest = trimmed[:idx]
		}
		if objectTypes[strings.ToLower(last)] {
			return strings.ToLower(last), rest
		}
	}
	return strings.ToLower(req.Single("TYPE")), req.DatabaseURI
}

func buildCreateTable(req *Request) (sql string, ok bool, missing string) {
	name := req.Single("NAME")
	if name == "" {
		return "", false, "NAME"
	}
	cols := req.List("COLUMN")
	if len(cols) == 0 {
		return "", false, "COLUMN"
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if req.Single("IF-NOT-EXISTS") != "" {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	for _, uc := range req.List("UNIQUE-CONSTRAINT") {
		b.WriteString(", UNIQUE (")
		b.WriteString(uc)
		b.WriteString(")")
	}
	for _, fk := range req.List("FOREIGN-KEY") {
		b.WriteString(", FOREIGN KEY ")
		b.WriteString(fk)
	}
	b.WriteString(")")
	if req.Single("WITHOUT-ROWID") != "" {
		b.WriteString(" WITHOUT ROWID")
	}
	return b.String(), true, ""
}

func buildCreateIndex(req *Request) (sql string, ok bool, missing string) {
	name := req.Single("NAME")
	if name == "" {
		return "", false, "NAME"
	}
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return "", false, "TABLE"
	}
	cols := req.List("COLUMN")
	if len(cols) == 0 {
		return "", false, "COLUMN"
	}
	var b strings.Builder
	b.WriteString("CREATE ")
	if req.Single("UNIQUE") != "" {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if req.Single("IF-NOT-EXISTS") != "" {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(name)
	b.WriteString(" ON ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(")")
	return b.String(), true, ""
}

func buildCreateTrigger(req *Request) (sql string, ok bool, missing string) {
	name := req.Single("NAME")
	if name == "" {
		return "", false, "NAME"
	}
	timing := req.Single("TIMING")
	event := req.Single("EVENT")
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if timing == "" || event == "" || table == "" {
		missing = "TIMING"
		if event == "" {
			missing = "EVENT"
		}
		if table == "" {
			missing = "TABLE"
		}
		return "", false, missing
	}
	actions := req.List("ACTION")
	if len(actions) == 0 {
		return "", false, "ACTION"
	}

	var b strings.Builder
	b.WriteString("CREATE TRIGGER ")
	if req.Single("IF-NOT-EXISTS") != "" {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(timing)
	b.WriteString(" ")
	b.WriteString(event)
	if uo := req.Single("UPDATE-OF"); uo != "" {
		b.WriteString(" OF ")
		b.WriteString(uo)
	}
	b.WriteString(" ON ")
	b.WriteString(table)
	if req.Single("FOR-EACH-ROW") != "" {
		b.WriteString(" FOR EACH ROW")
	}
	if w := req.Single("WHEN"); w != "" {
		b.WriteString(" WHEN ")
		b.WriteString(w)
	}
	b.WriteString(" BEGIN ")
	for _, a := range actions {
		b.WriteString(a)
		if !strings.HasSuffix(strings.TrimSpace(a), ";") {
			b.WriteString(";")
		}
		b.WriteString(" ")
	}
	b.WriteString("END")
	return b.String(), true, ""
}

func buildDrop(objType string, req *Request) (sql string, ok bool, missing string) {
	name := firstNonEmpty(req.Single("NAME"), req.Single("TABLE"), req.Single("FROM"))
	if name == "" {
		return "", false, "NAME"
	}
	var b strings.Builder
	b.WriteString("DROP ")
	b.WriteString(strings.ToUpper(objType))
	b.WriteString(" ")
	if req.Single("IF-EXISTS") != "" {
		b.WriteString("IF EXISTS ")
	}
	b.WriteString(name)
	return b.String(), true, ""
}

// buildAlter supports the ALTER TABLE variants the header vocabulary
// names: rename-table (ACTION=rename-table, NEW-NAME=...), add-column
// (ACTION=add-column, COLUMN=<col def>).
func buildAlter(req *Request) (sql string, ok bool, missing string) {
	table := firstNonEmpty(req.Single("TABLE"), req.Single("FROM"))
	if table == "" {
		return "", false, "TABLE"
	}
	action := req.Single("ACTION")
	if action == "" {
		if acts := req.List("ACTION"); len(acts) > 0 {
			action = acts[0]
		}
	}
	switch strings.ToLower(action) {
	case "rename-table":
		newName := req.Single("NEW-NAME")
		if newName == "" {
			return "", false, "NEW-NAME"
		}
		return "ALTER TABLE " + table + " RENAME TO " + newName, true, ""
	case "add-column":
		cols := req.List("COLUMN")
		if len(cols) == 0 {
			return "", false, "COLUMN"
		}
		return "ALTER TABLE " + table + " ADD COLUMN " + cols[0], true, ""
	default:
		return "", false, "ACTION"
	}
}

// parseLimitOffset checks that a LIMIT/OFFSET header value is a
// well-formed integer (LIMIT/OFFSET are not bindable as parameters in
// SQLite). Nothing in the package calls it: buildSelect writes both
// header values into the statement as given.
func parseLimitOffset(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
