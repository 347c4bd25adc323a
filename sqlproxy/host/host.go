// Package host executes database requests on behalf of guest modules. Each
// guest connection is an integer handle naming a connection pinned from a
// per-URL pool; the guest never sees anything but the handle.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// Options configures an SQLHost.
type Options struct {
	Logger lgr.L
	// MaxOpenConns caps each pool; zero means unlimited.
	MaxOpenConns int
}

type pool struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

type pinned struct {
	conn    *sqlx.Conn
	dialect dialect.Dialect
	url     string
}

// SQLHost owns the database pools and the handle table.
type SQLHost struct {
	opts  Options
	log   lgr.L
	pools map[string]*pool
	conns map[types.Handle]*pinned
	next  types.Handle
	mu    sync.Mutex
}

// NewSQLHost creates an SQLHost with no open pools.
func NewSQLHost(opts Options) *SQLHost {
	if opts.Logger == nil {
		opts.Logger = lgr.Std
	}
	return &SQLHost{
		opts:  opts,
		log:   opts.Logger,
		pools: make(map[string]*pool),
		conns: make(map[types.Handle]*pinned),
		next:  1,
	}
}

// Connect pins a connection from the pool for url and returns its handle.
func (h *SQLHost) Connect(ctx context.Context, url string) (types.Handle, *types.DbError) {
	p, err := h.pool(url)
	if err != nil {
		return 0, &types.DbError{UnableToSendCommand: err.Error()}
	}
	c, err := p.db.Connx(ctx)
	if err != nil {
		return 0, &types.DbError{UnableToSendCommand: fmt.Sprintf("failed to acquire connection: %v", err)}
	}

	h.mu.Lock()
	handle := h.next
	h.next++
	h.conns[handle] = &pinned{conn: c, dialect: p.dialect, url: url}
	h.mu.Unlock()

	h.log.Logf("[DEBUG] handle %d connected to %s", handle, p.dialect.Name())
	return handle, nil
}

func (h *SQLHost) pool(url string) (*pool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pools[url]; ok {
		return p, nil
	}

	d, driverName, dsn, err := engineFor(url)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.Name(), err)
	}
	if h.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(h.opts.MaxOpenConns)
	}
	if url == memoryURL {
		// the database only lives while a connection to it stays open
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	}
	p := &pool{db: db, dialect: d}
	h.pools[url] = p
	h.log.Logf("[INFO] opened %s pool", d.Name())
	return p, nil
}

func (h *SQLHost) lookup(handle types.Handle) (*pinned, *types.DbError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[handle]
	if !ok {
		return nil, &types.DbError{
			Code:    types.CodeConnectionDoesNotExist,
			Message: fmt.Sprintf("unknown connection handle %d", handle),
		}
	}
	return c, nil
}

// Query runs q on handle and materializes the whole result set.
func (h *SQLHost) Query(ctx context.Context, handle types.Handle, q types.Query) (*types.Cursor, *types.DbError) {
	c, dbErr := h.lookup(handle)
	if dbErr != nil {
		return nil, dbErr
	}
	rows, err := c.conn.QueryxContext(ctx, q.SQL, args(c.dialect, q.Binds)...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	cur, err := materialize(c.dialect, rows)
	if err != nil {
		return nil, mapError(err)
	}
	return cur, nil
}

// Execute runs q on handle and returns the affected row count.
func (h *SQLHost) Execute(ctx context.Context, handle types.Handle, q types.Query) (int64, *types.DbError) {
	c, dbErr := h.lookup(handle)
	if dbErr != nil {
		return 0, dbErr
	}
	res, err := c.conn.ExecContext(ctx, q.SQL, args(c.dialect, q.Binds)...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// BatchExecute runs a bind-free script of one or more statements.
func (h *SQLHost) BatchExecute(ctx context.Context, handle types.Handle, sql string) *types.DbError {
	c, dbErr := h.lookup(handle)
	if dbErr != nil {
		return dbErr
	}
	if _, err := c.conn.ExecContext(ctx, sql); err != nil {
		return mapError(err)
	}
	return nil
}

// Release rolls back anything the guest left open and returns the connection
// to its pool. Releasing an unknown handle is not an error.
func (h *SQLHost) Release(ctx context.Context, handle types.Handle) *types.DbError {
	h.mu.Lock()
	c, ok := h.conns[handle]
	delete(h.conns, handle)
	h.mu.Unlock()
	if !ok {
		return nil
	}

	// fails harmlessly when no transaction is open
	_, _ = c.conn.ExecContext(ctx, "ROLLBACK")
	if err := c.conn.Close(); err != nil {
		return mapError(err)
	}
	h.log.Logf("[DEBUG] handle %d released", handle)
	return nil
}

// Close releases every handle and closes every pool.
func (h *SQLHost) Close() error {
	h.mu.Lock()
	handles := make([]types.Handle, 0, len(h.conns))
	for handle := range h.conns {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	var errs *multierror.Error
	for _, handle := range handles {
		if dbErr := h.Release(context.Background(), handle); dbErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("release handle %d: %w", handle, dbErr))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for url, p := range h.pools {
		if err := p.db.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s pool: %w", p.dialect.Name(), err))
		}
		delete(h.pools, url)
	}
	return errs.ErrorOrNil()
}

func args(d dialect.Dialect, binds []types.Bind) []any {
	res := make([]any, len(binds))
	for i, b := range binds {
		res[i] = bindArg(d, b)
	}
	return res
}

// --- serialized entry points, one per guest import ---

// HandleConnect answers a connect call with an encoded types.ConnectResponse.
func (h *SQLHost) HandleConnect(ctx context.Context, url string) ([]byte, error) {
	handle, dbErr := h.Connect(ctx, url)
	return json.Marshal(types.ConnectResponse{Handle: handle, Error: dbErr})
}

// HandleQuery answers a query call with an encoded types.QueryResponse.
func (h *SQLHost) HandleQuery(ctx context.Context, handle types.Handle, payload []byte) ([]byte, error) {
	var q types.Query
	if err := json.Unmarshal(payload, &q); err != nil {
		return marshalErrorResponse(fmt.Sprintf("failed to unmarshal query: %v", err))
	}
	cur, dbErr := h.Query(ctx, handle, q)
	if dbErr != nil {
		h.log.Logf("[DEBUG] query on handle %d failed: %s", handle, dbErr)
	}
	return json.Marshal(types.QueryResponse{Cursor: cur, Error: dbErr})
}

// HandleExecute answers an execute call with an encoded types.ExecResponse.
func (h *SQLHost) HandleExecute(ctx context.Context, handle types.Handle, payload []byte) ([]byte, error) {
	var q types.Query
	if err := json.Unmarshal(payload, &q); err != nil {
		return marshalErrorResponse(fmt.Sprintf("failed to unmarshal query: %v", err))
	}
	n, dbErr := h.Execute(ctx, handle, q)
	if dbErr != nil {
		h.log.Logf("[DEBUG] execute on handle %d failed: %s", handle, dbErr)
	}
	return json.Marshal(types.ExecResponse{RowsAffected: n, Error: dbErr})
}

// HandleBatchExecute answers a batch_execute call with an encoded types.GeneralResponse.
func (h *SQLHost) HandleBatchExecute(ctx context.Context, handle types.Handle, sql string) ([]byte, error) {
	return json.Marshal(types.GeneralResponse{Error: h.BatchExecute(ctx, handle, sql)})
}

// HandleClose answers a close call with an encoded types.GeneralResponse.
func (h *SQLHost) HandleClose(ctx context.Context, handle types.Handle) ([]byte, error) {
	return json.Marshal(types.GeneralResponse{Error: h.Release(ctx, handle)})
}

func marshalErrorResponse(errMsg string) ([]byte, error) {
	resp := types.GeneralResponse{Error: &types.DbError{UnableToSendCommand: errMsg}}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error response for '%s': %w", errMsg, err)
	}
	return payload, nil
}
