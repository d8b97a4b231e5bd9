package sqtp

import (
	"database/sql"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrDatabaseNotFound maps to a 404 response per spec §4.3 error mapping.
var ErrDatabaseNotFound = errors.New("sqtp: database file not found")

// OpenDatabase resolves the two synthetic URIs from spec §3 ("Database
// handle") and opens everything else only if it already exists (no
// auto-create for arbitrary paths).
func OpenDatabase(uri string) (*sql.DB, error) {
	var dsn string
	switch {
	case uri == "":
		dsn = "file:shm?mode=memory&cache=shared"
	case uri == ".db":
		dsn = "file:.db?cache=shared"
	default:
		if _, err := os.Stat(uri); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrDatabaseNotFound
			}
			return nil, errors.Wrapf(err, "sqtp: stat database %q", uri)
		}
		dsn = "file:" + uri + "?cache=shared"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqtp: open database %q", uri)
	}
	// A shared-cache / BEGIN-COMMIT-carrying handle must be served by a
	// single underlying connection, or the connection pool may hand
	// concurrent statements to independent sqlite3 connections that don't
	// see each other's uncommitted writes.
	db.SetMaxOpenConns(1)
	return db, nil
}

// ConnState is the per-HTTP-connection SQTP state: a lazily opened
// database handle reused across SQTP requests on the same connection,
// and the open transaction (if any) a BEGIN started. Spec §9's open
// question ("does BEGIN/COMMIT span connections or requests?") is
// resolved here as per-connection (SPEC_FULL.md §5.1): the handle and
// any in-flight Tx live exactly as long as the TCP connection does.
type ConnState struct {
	mu       sync.Mutex
	openURI  string
	db       *sql.DB
	tx       *sql.Tx
}

// Close releases any open handle/transaction. Called when the owning
// connection closes.
func (c *ConnState) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *ConnState) closeLocked() error {
	var err error
	if c.tx != nil {
		err = c.tx.Rollback()
		c.tx = nil
	}
	if c.db != nil {
		if cerr := c.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.db = nil
	}
	c.openURI = ""
	return err
}

// handle returns the *sql.DB for uri, reopening it if the connection's
// cached handle targets a different database URI than this request
// needs.
func (c *ConnState) handle(uri string) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil && c.openURI == uri {
		return c.db, nil
	}
	if c.db != nil {
		if err := c.closeLocked(); err != nil {
			return nil, err
		}
	}
	db, err := OpenDatabase(uri)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.openURI = uri
	return db, nil
}

// beginTx starts a transaction on the connection's handle, stashing it
// for subsequent requests until commitTx/rollbackTx clears it.
func (c *ConnState) beginTx(uri string) error {
	db, err := c.handle(uri)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return errors.New("sqtp: BEGIN while a transaction is already open on this connection")
	}
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "sqtp: BEGIN")
	}
	c.tx = tx
	return nil
}

func (c *ConnState) commitTx() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return errors.New("sqtp: COMMIT without an open transaction")
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *ConnState) rollbackTx() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return errors.New("sqtp: ROLLBACK without an open transaction")
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

// execer abstracts over *sql.DB and *sql.Tx so generators can bind to
// whichever is active on the connection.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// activeExecer returns the connection's open Tx if one exists, otherwise
// the bare *sql.DB handle for uri.
func (c *ConnState) activeExecer(uri string) (execer, error) {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()
	if tx != nil {
		return tx, nil
	}
	return c.handle(uri)
}
