package host

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlhost "github.com/tomyedwab/guestdb/sqlproxy/host"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// fakeGuest is a flat linear memory with a bump allocator
type fakeGuest struct {
	mem     []byte
	next    uint32
	handles map[uint32][2]uint32
	last    uint32
	freed   []uint32
	failErr error
}

func newFakeGuest() *fakeGuest {
	return &fakeGuest{mem: make([]byte, 1<<16), next: 1024, handles: map[uint32][2]uint32{}}
}

func (g *fakeGuest) Read(ptr, size uint32) ([]byte, bool) {
	if uint64(ptr)+uint64(size) > uint64(len(g.mem)) {
		return nil, false
	}
	return append([]byte(nil), g.mem[ptr:ptr+size]...), true
}

func (g *fakeGuest) Write(ptr uint32, data []byte) bool {
	if uint64(ptr)+uint64(len(data)) > uint64(len(g.mem)) {
		return false
	}
	copy(g.mem[ptr:], data)
	return true
}

func (g *fakeGuest) WriteUint32Le(ptr, v uint32) bool {
	if uint64(ptr)+4 > uint64(len(g.mem)) {
		return false
	}
	binary.LittleEndian.PutUint32(g.mem[ptr:], v)
	return true
}

func (g *fakeGuest) Alloc(_ context.Context, size uint32) (uint32, uint32, error) {
	if g.failErr != nil {
		return 0, 0, g.failErr
	}
	g.last++
	handle := g.last
	ptr := g.next
	g.next += size
	g.handles[handle] = [2]uint32{ptr, size}
	return handle, ptr, nil
}

func (g *fakeGuest) Free(_ context.Context, handle uint32) error {
	if _, ok := g.handles[handle]; !ok {
		return fmt.Errorf("unknown handle %d", handle)
	}
	delete(g.handles, handle)
	g.freed = append(g.freed, handle)
	return nil
}

// put stores data in guest memory and returns its address
func (g *fakeGuest) put(data []byte) (uint32, uint32) {
	ptr := g.next
	g.next += uint32(len(data))
	copy(g.mem[ptr:], data)
	return ptr, uint32(len(data))
}

// take follows the handle written at destPtr
func (g *fakeGuest) take(t *testing.T, destPtr uint32, size int32) []byte {
	handle := binary.LittleEndian.Uint32(g.mem[destPtr:])
	loc, ok := g.handles[handle]
	require.True(t, ok, "no allocation for handle %d", handle)
	n := size
	if n < 0 {
		n = -n
	}
	require.Equal(t, uint32(n), loc[1])
	return g.mem[loc[0] : loc[0]+loc[1]]
}

const destPtr = 16

func setupExports(t *testing.T) (*Exports, *fakeGuest) {
	sql := sqlhost.NewSQLHost(sqlhost.Options{Logger: lgr.NoOp})
	t.Cleanup(func() { _ = sql.Close() })
	return NewExports(sql, Options{Logger: lgr.NoOp}), newFakeGuest()
}

func TestExports_RoundTrip(t *testing.T) {
	e, g := setupExports(t)
	ctx := context.Background()

	urlPtr, urlLen := g.put([]byte("sqlite://" + path.Join(t.TempDir(), "test.db")))
	size := e.connect(ctx, g, urlPtr, urlLen, destPtr)
	require.Greater(t, size, int32(0))
	var connResp types.ConnectResponse
	require.NoError(t, json.Unmarshal(g.take(t, destPtr, size), &connResp))
	require.Nil(t, connResp.Error)
	h := connResp.Handle

	sqlPtr, sqlLen := g.put([]byte("CREATE TABLE t (v TEXT)"))
	size = e.batchExecute(ctx, g, h, sqlPtr, sqlLen, destPtr)
	require.Greater(t, size, int32(0))
	assert.JSONEq(t, `{}`, string(g.take(t, destPtr, size)))

	insert, err := json.Marshal(types.Query{SQL: "INSERT INTO t VALUES (?)", Binds: []types.Bind{{Tag: 3, Value: types.Text("x")}}})
	require.NoError(t, err)
	qPtr, qLen := g.put(insert)
	size = e.execute(ctx, g, h, qPtr, qLen, destPtr)
	require.Greater(t, size, int32(0))
	assert.JSONEq(t, `{"rows_affected":1}`, string(g.take(t, destPtr, size)))

	sel, err := json.Marshal(types.Query{SQL: "SELECT v FROM t"})
	require.NoError(t, err)
	qPtr, qLen = g.put(sel)
	size = e.query(ctx, g, h, qPtr, qLen, destPtr)
	require.Greater(t, size, int32(0))
	var queryResp types.QueryResponse
	require.NoError(t, json.Unmarshal(g.take(t, destPtr, size), &queryResp))
	require.Nil(t, queryResp.Error)
	require.Len(t, queryResp.Cursor.Rows, 1)
	assert.Equal(t, []byte("x"), queryResp.Cursor.Rows[0].Fields[0])

	size = e.close(ctx, g, h, destPtr)
	require.Greater(t, size, int32(0))
	assert.JSONEq(t, `{}`, string(g.take(t, destPtr, size)))

	size = e.query(ctx, g, h, qPtr, qLen, destPtr)
	require.Greater(t, size, int32(0))
	queryResp = types.QueryResponse{}
	require.NoError(t, json.Unmarshal(g.take(t, destPtr, size), &queryResp))
	require.NotNil(t, queryResp.Error)
	assert.Equal(t, types.CodeConnectionDoesNotExist, queryResp.Error.Code)
}

func TestExports_Failures(t *testing.T) {
	e, g := setupExports(t)
	ctx := context.Background()

	size := e.connect(ctx, g, 1<<20, 10, destPtr)
	require.Less(t, size, int32(0))
	assert.Contains(t, string(g.take(t, destPtr, size)), "out of range")

	size = e.batchExecute(ctx, g, 1, 1<<20, 4, destPtr)
	require.Less(t, size, int32(0))

	// an unwritable destination releases the response buffer
	urlPtr, urlLen := g.put([]byte("sqlite::memory:"))
	live := len(g.handles)
	size = e.connect(ctx, g, urlPtr, urlLen, 1<<20)
	assert.Equal(t, int32(-1), size)
	assert.Len(t, g.freed, 1)
	assert.Equal(t, live, len(g.handles))

	g.failErr = errors.New("guest out of memory")
	size = e.connect(ctx, g, urlPtr, urlLen, destPtr)
	assert.Equal(t, int32(-1), size)
}

func TestExports_Clock(t *testing.T) {
	sql := sqlhost.NewSQLHost(sqlhost.Options{Logger: lgr.NoOp})
	defer sql.Close()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 5, time.UTC)
	e := NewExports(sql, Options{Logger: lgr.NoOp, Now: func() time.Time { return fixed }})
	assert.Equal(t, fixed.UnixNano(), e.clockNow(context.Background()))
}
