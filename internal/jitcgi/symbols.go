package jitcgi

// Symbol is one entry of the fixed, documented host-function table spec
// §4.5 step 4 requires: the embedded SQL engine's public API, the
// inflate/deflate interface, and CRC/Adler, each paired with the
// declaration a user script needs to call it without any #include.
// Grounded on original_source/src/tcc_evn.c, which registers the same
// three families against the in-process compiler state.
type Symbol struct {
	Name        string
	Declaration string
}

// HostSymbols is preloaded into every Environment so compiled CGI scripts
// can call the embedded engine, the decompressor, and the checksum
// routines without needing their headers to resolve through the VFS.
var HostSymbols = []Symbol{
	{"sqlite3_open", "int sqlite3_open(const char *filename, void **db);"},
	{"sqlite3_close", "int sqlite3_close(void *db);"},
	{"sqlite3_exec", "int sqlite3_exec(void *db, const char *sql, void *cb, void *arg, char **errmsg);"},
	{"sqlite3_prepare_v2", "int sqlite3_prepare_v2(void *db, const char *sql, int n, void **stmt, const char **tail);"},
	{"sqlite3_step", "int sqlite3_step(void *stmt);"},
	{"sqlite3_finalize", "int sqlite3_finalize(void *stmt);"},
	{"inflate", "int inflate(void *strm, int flush);"},
	{"deflate", "int deflate(void *strm, int flush);"},
	{"crc32", "unsigned long crc32(unsigned long crc, const unsigned char *buf, unsigned int len);"},
	{"adler32", "unsigned long adler32(unsigned long adler, const unsigned char *buf, unsigned int len);"},
}

// PreloadHeaders mirrors spec §4.5 step 5: the compiler's bundled
// headers, primed through the VFS open-intercept callback once at
// Environment construction so the first real request doesn't pay a
// filesystem-miss round trip for any of them.
var PreloadHeaders = []string{
	"stddef.h", "stdarg.h", "stdbool.h", "stdalign.h", "stdnoreturn.h",
	"stdatomic.h", "float.h", "tgmath.h",
}
