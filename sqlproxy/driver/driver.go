package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// OpenDB exposes c through database/sql, wrapped for sqlx with the bind style
// of c's dialect. The returned pool holds exactly one connection, c itself;
// closing the pool does not close c.
func OpenDB(c *Conn) *sqlx.DB {
	db := sql.OpenDB(&connector{conn: c})
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return sqlx.NewDb(db, sqlxDriverName(c.dialect))
}

func sqlxDriverName(d dialect.Dialect) string {
	if d == dialect.Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// --- Connector implementation ---

type connector struct {
	conn *Conn
}

func (c *connector) Connect(context.Context) (driver.Conn, error) {
	if err := c.conn.checkOpen(); err != nil {
		return nil, driver.ErrBadConn
	}
	return &sqlConn{conn: c.conn}, nil
}

func (c *connector) Driver() driver.Driver { return proxyDriver{} }

type proxyDriver struct{}

func (proxyDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("sqlproxy: connections are opened with OpenDB")
}

// --- Connection implementation ---

type sqlConn struct {
	conn *Conn
}

// Prepare keeps the query text locally; statements are sent with their binds
// in a single call.
func (c *sqlConn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{conn: c.conn, query: query}, nil
}

func (c *sqlConn) Close() error { return nil }

func (c *sqlConn) Begin() (driver.Tx, error) {
	if c.conn.TransactionDepth() > 0 {
		return nil, fmt.Errorf("sqlproxy: transaction already active on handle %d", c.conn.handle)
	}
	if err := c.conn.Begin(); err != nil {
		return nil, err
	}
	return &tx{conn: c.conn}, nil
}

func (c *sqlConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return (&stmt{conn: c.conn, query: query}).exec(args)
}

func (c *sqlConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return (&stmt{conn: c.conn, query: query}).runQuery(args)
}

// --- Statement implementation ---

type stmt struct {
	conn  *Conn
	query string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.exec(named(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.runQuery(named(args))
}

func (s *stmt) exec(args []driver.NamedValue) (driver.Result, error) {
	q, err := s.build(args)
	if err != nil {
		return nil, err
	}
	n, err := s.conn.ExecuteQuery(q)
	if err != nil {
		return nil, err
	}
	return result{rowsAffected: n}, nil
}

func (s *stmt) runQuery(args []driver.NamedValue) (driver.Rows, error) {
	q, err := s.build(args)
	if err != nil {
		return nil, err
	}
	cur, err := s.conn.LoadQuery(q)
	if err != nil {
		return nil, err
	}
	return &rows{cur: cur}, nil
}

func (s *stmt) build(args []driver.NamedValue) (types.Query, error) {
	binds := make([]types.Bind, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return types.Query{}, fmt.Errorf("sqlproxy: named parameter %q is not supported", arg.Name)
		}
		b, err := dialect.BindValue(s.conn.dialect, bindType(arg.Value), arg.Value)
		if err != nil {
			return types.Query{}, fmt.Errorf("sqlproxy: argument %d: %w", arg.Ordinal, err)
		}
		binds[i] = b
	}
	return types.Query{SQL: s.query, Binds: binds}, nil
}

// bindType picks the abstract type for a database/sql argument.
func bindType(v driver.Value) dialect.SQLType {
	switch v.(type) {
	case int64:
		return dialect.BigInt
	case float64:
		return dialect.Double
	case bool:
		return dialect.Bool
	case []byte:
		return dialect.Binary
	case time.Time:
		return dialect.Timestamptz
	}
	return dialect.Text
}

func named(args []driver.Value) []driver.NamedValue {
	res := make([]driver.NamedValue, len(args))
	for i, v := range args {
		res[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return res
}

// --- Transaction implementation ---

type tx struct {
	conn *Conn
	done bool
}

func (t *tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.conn.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.conn.Rollback()
}

// --- Result implementation ---

type result struct {
	rowsAffected int64
}

func (r result) LastInsertId() (int64, error) {
	return 0, errors.New("sqlproxy: LastInsertId is not supported, use RETURNING")
}

func (r result) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// --- Rows implementation ---

type rows struct {
	cur *Cursor
}

func (r *rows) Columns() []string {
	cols := r.cur.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if !r.cur.Next() {
		return io.EOF
	}
	row := r.cur.Row()
	if row.FieldCount() != len(dest) {
		return fmt.Errorf("sqlproxy: column count mismatch. Expected %d, got %d", len(dest), row.FieldCount())
	}
	for i := range dest {
		f, _ := row.Get(i)
		v, err := f.driverValue()
		if err != nil {
			return fmt.Errorf("sqlproxy: column %s: %w", f.Name(), err)
		}
		dest[i] = v
	}
	return nil
}
