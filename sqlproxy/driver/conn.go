package driver

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-pkgz/lgr"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/query"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// Transport carries serialized requests to the host. Every method is one
// blocking round trip and returns the host's serialized response envelope; a
// non-nil error means the call itself could not be made.
type Transport interface {
	Connect(url string) ([]byte, error)
	Query(h types.Handle, query []byte) ([]byte, error)
	Execute(h types.Handle, query []byte) ([]byte, error)
	BatchExecute(h types.Handle, sql string) ([]byte, error)
	Close(h types.Handle) ([]byte, error)
}

// Options configures a Conn.
type Options struct {
	Logger lgr.L
}

// Conn is one host connection, identified by a handle only it holds. It is not
// safe for concurrent use.
type Conn struct {
	handle    types.Handle
	dialect   dialect.Dialect
	transport Transport
	tm        transactionManager
	log       lgr.L
	closed    bool
}

// Establish asks the host to open url and returns a Conn speaking the dialect
// the url selects.
func Establish(url string, t Transport, opts Options) (*Conn, error) {
	d, err := dialect.ForURL(url)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = lgr.NoOp
	}

	payload, err := t.Connect(url)
	if err != nil {
		return nil, sendError("connect", err)
	}
	var resp types.ConnectResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, sendError("connect", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if resp.Error != nil {
		return nil, fromWire(resp.Error)
	}

	opts.Logger.Logf("[DEBUG] connected to %s database, handle %d", d.Name(), resp.Handle)
	return &Conn{handle: resp.Handle, dialect: d, transport: t, log: opts.Logger}, nil
}

func (c *Conn) Dialect() dialect.Dialect { return c.dialect }
func (c *Conn) Handle() types.Handle     { return c.handle }

// ExecuteReturningCount runs a statement and returns the number of affected rows.
// A multi-row insert on a dialect without multi-row VALUES runs as one statement
// per row inside a transaction.
func (c *Conn) ExecuteReturningCount(n query.Node) (int64, error) {
	if ins, ok := c.splitInsert(n); ok {
		var total int64
		err := c.Transaction(func(c *Conn) error {
			for _, row := range ins.SplitRows() {
				cnt, err := c.ExecuteReturningCount(row)
				if err != nil {
					return err
				}
				total += cnt
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		return total, nil
	}

	q, err := query.Build(n, c.dialect)
	if err != nil {
		return 0, err
	}
	return c.ExecuteQuery(q)
}

// ExecuteQuery sends an already built query to the host's execute call.
func (c *Conn) ExecuteQuery(q types.Query) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal query: %w", err)
	}
	c.log.Logf("[DEBUG] execute %q with %d binds", q.SQL, len(q.Binds))

	respPayload, err := c.transport.Execute(c.handle, payload)
	if err != nil {
		return 0, sendError("execute", err)
	}
	var resp types.ExecResponse
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return 0, sendError("execute", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if resp.Error != nil {
		return 0, fromWire(resp.Error)
	}
	return resp.RowsAffected, nil
}

// Load runs a statement and returns its fully materialized result set. A
// multi-row insert that has to be split returns the rows of every part in order.
func (c *Conn) Load(n query.Node) (*Cursor, error) {
	if ins, ok := c.splitInsert(n); ok {
		var res *Cursor
		err := c.Transaction(func(c *Conn) error {
			for _, row := range ins.SplitRows() {
				cur, err := c.Load(row)
				if err != nil {
					return err
				}
				if res == nil {
					res = cur
					continue
				}
				res.rows = append(res.rows, cur.rows...)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	q, err := query.Build(n, c.dialect)
	if err != nil {
		return nil, err
	}
	return c.LoadQuery(q)
}

// LoadQuery sends an already built query to the host's query call.
func (c *Conn) LoadQuery(q types.Query) (*Cursor, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	c.log.Logf("[DEBUG] query %q with %d binds", q.SQL, len(q.Binds))

	respPayload, err := c.transport.Query(c.handle, payload)
	if err != nil {
		return nil, sendError("query", err)
	}
	var resp types.QueryResponse
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return nil, sendError("query", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if resp.Error != nil {
		return nil, fromWire(resp.Error)
	}
	if resp.Cursor == nil {
		return nil, sendError("query", errors.New("host returned neither a cursor nor an error"))
	}
	return newCursor(c.dialect, *resp.Cursor), nil
}

// BatchExecute runs a script of one or more statements without binds.
func (c *Conn) BatchExecute(sql string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.log.Logf("[DEBUG] batch execute %d bytes", len(sql))
	respPayload, err := c.transport.BatchExecute(c.handle, sql)
	if err != nil {
		return sendError("batch execute", err)
	}
	return decodeGeneral("batch execute", respPayload)
}

// Close releases the host connection. A transaction still open is rolled back
// by the host.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.tm.depth > 0 {
		c.log.Logf("[WARN] closing handle %d with %d open transaction levels", c.handle, c.tm.depth)
	}
	respPayload, err := c.transport.Close(c.handle)
	if err != nil {
		return sendError("close", err)
	}
	return decodeGeneral("close", respPayload)
}

func (c *Conn) checkOpen() error {
	if c.closed {
		return &DbError{Kind: ClosedConnection, Message: fmt.Sprintf("handle %d is closed", c.handle)}
	}
	return nil
}

func (c *Conn) splitInsert(n query.Node) (*query.InsertStatement, bool) {
	ins, ok := n.(*query.InsertStatement)
	if !ok || ins.Rows() < 2 || c.dialect.Capabilities().MultiRowInsert {
		return nil, false
	}
	return ins, true
}

func decodeGeneral(op string, payload []byte) error {
	var resp types.GeneralResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return sendError(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if resp.Error != nil {
		return fromWire(resp.Error)
	}
	return nil
}
