package driver

import (
	"errors"
	"path"
	"testing"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/host"
	"github.com/tomyedwab/guestdb/sqlproxy/query"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// setupTestConn connects to a fresh SQLite database through an in-process host
func setupTestConn(t *testing.T) *Conn {
	h := host.NewSQLHost(host.Options{Logger: lgr.NoOp})
	t.Cleanup(func() { _ = h.Close() })

	url := "sqlite://" + path.Join(t.TempDir(), "test.db")
	conn, err := Establish(url, host.Loopback{Host: h}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.BatchExecute(`
		CREATE TABLE todo_item (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL UNIQUE,
			done BOOLEAN NOT NULL DEFAULT 0,
			due TIMESTAMP,
			meta TEXT
		);`))
	return conn
}

func insertTodo(title string, done bool) *query.InsertStatement {
	return query.InsertInto("todo_item", "title", "done").
		Values(query.Val(dialect.Text, title), query.Val(dialect.Bool, done))
}

func count(t *testing.T, conn *Conn) int64 {
	cur, err := conn.Load(query.Select(query.Count(query.Star())).From("todo_item"))
	require.NoError(t, err)
	require.True(t, cur.Next())
	f, ok := cur.Row().Get(0)
	require.True(t, ok)
	n, err := f.Int64()
	require.NoError(t, err)
	return n
}

func TestConn_ExecuteAndLoad(t *testing.T) {
	conn := setupTestConn(t)
	assert.Equal(t, dialect.SQLite, conn.Dialect())

	due := time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC)
	n, err := conn.ExecuteReturningCount(query.InsertInto("todo_item", "title", "done", "due", "meta").Values(
		query.Val(dialect.Text, "milk"),
		query.Val(dialect.Bool, true),
		query.Val(dialect.Timestamp, due),
		query.Val(dialect.JSON, map[string]int{"qty": 2}),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = conn.ExecuteReturningCount(insertTodo("eggs", false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cur, err := conn.Load(query.Select(query.Col("id"), query.Col("title"), query.Col("done"), query.Col("due"), query.Col("meta")).
		From("todo_item").OrderBy(query.Asc(query.Col("id"))))
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Len())

	require.True(t, cur.Next())
	row := cur.Row()
	assert.Equal(t, 5, row.FieldCount())

	title, ok := row.GetByName("title")
	require.True(t, ok)
	s, err := title.Text()
	require.NoError(t, err)
	assert.Equal(t, "milk", s)
	assert.Equal(t, dialect.SQLiteText, title.Tag())

	done, _ := row.GetByName("done")
	b, err := done.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	dueField, _ := row.Get(3)
	ts, err := dueField.Time()
	require.NoError(t, err)
	assert.True(t, due.Equal(ts))

	metaField, _ := row.Get(4)
	var meta map[string]int
	require.NoError(t, metaField.JSON(&meta))
	assert.Equal(t, map[string]int{"qty": 2}, meta)

	_, ok = row.Get(5)
	assert.False(t, ok)
	_, ok = row.Get(-1)
	assert.False(t, ok)
	_, ok = row.GetByName("missing")
	assert.False(t, ok)

	require.True(t, cur.Next())
	var (
		id      int64
		name    string
		isDone  bool
		dueAny  any
		metaVal types.Value
	)
	require.NoError(t, cur.Row().Scan(&id, &name, &isDone, &dueAny, &metaVal))
	assert.Equal(t, int64(2), id)
	assert.Equal(t, "eggs", name)
	assert.False(t, isDone)
	assert.Nil(t, dueAny)
	assert.True(t, metaVal.IsNull())

	nullDue, _ := cur.Row().Get(3)
	assert.True(t, nullDue.IsNull())
	_, err = nullDue.Time()
	assert.Error(t, err)

	assert.False(t, cur.Next())
	assert.False(t, cur.Next())
}

func TestConn_RowOrderPreserved(t *testing.T) {
	conn := setupTestConn(t)
	for _, title := range []string{"a", "b", "c", "d"} {
		_, err := conn.ExecuteReturningCount(insertTodo(title, false))
		require.NoError(t, err)
	}

	cur, err := conn.Load(query.Select(query.Col("title")).From("todo_item").OrderBy(query.Desc(query.Col("title"))))
	require.NoError(t, err)
	var titles []string
	for cur.Next() {
		var s string
		require.NoError(t, cur.Row().Scan(&s))
		titles = append(titles, s)
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, titles)
}

func TestConn_UniqueViolation(t *testing.T) {
	conn := setupTestConn(t)
	_, err := conn.ExecuteReturningCount(insertTodo("milk", false))
	require.NoError(t, err)

	_, err = conn.ExecuteReturningCount(insertTodo("milk", true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUniqueViolation))
	assert.False(t, errors.Is(err, ErrForeignKeyViolation))
	assert.False(t, IsRetryable(err))

	var dbErr *DbError
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, UniqueViolation, dbErr.Kind)
	assert.Equal(t, types.CodeUniqueViolation, dbErr.Code)
	assert.Equal(t, "todo_item", dbErr.Table)
	assert.Equal(t, "title", dbErr.Column)

	assert.Equal(t, int64(1), count(t, conn))
}

func TestConn_BatchInsertSplit(t *testing.T) {
	conn := setupTestConn(t)

	ins := query.InsertInto("todo_item", "title").
		Values(query.Val(dialect.Text, "a")).
		Values(query.Val(dialect.Text, "b")).
		Values(query.Val(dialect.Text, "c"))
	n, err := conn.ExecuteReturningCount(ins)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 0, conn.TransactionDepth())

	cur, err := conn.Load(query.InsertInto("todo_item", "title").
		Values(query.Val(dialect.Text, "d")).
		Values(query.Val(dialect.Text, "e")).
		Returning(query.Col("title")))
	require.NoError(t, err)
	require.Equal(t, 2, cur.Len())
	var titles []string
	for cur.Next() {
		var s string
		require.NoError(t, cur.Row().Scan(&s))
		titles = append(titles, s)
	}
	assert.Equal(t, []string{"d", "e"}, titles)
	assert.Equal(t, int64(5), count(t, conn))
}

func TestConn_BatchInsertRollsBackOnFailure(t *testing.T) {
	conn := setupTestConn(t)
	_, err := conn.ExecuteReturningCount(insertTodo("taken", false))
	require.NoError(t, err)

	ins := query.InsertInto("todo_item", "title").
		Values(query.Val(dialect.Text, "first")).
		Values(query.Val(dialect.Text, "taken")).
		Values(query.Val(dialect.Text, "third"))
	_, err = conn.ExecuteReturningCount(ins)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUniqueViolation))
	assert.Equal(t, 0, conn.TransactionDepth())

	assert.Equal(t, int64(1), count(t, conn))
}

func TestConn_Transaction(t *testing.T) {
	conn := setupTestConn(t)

	err := conn.Transaction(func(c *Conn) error {
		if _, err := c.ExecuteReturningCount(insertTodo("outer", false)); err != nil {
			return err
		}
		innerErr := c.Transaction(func(c *Conn) error {
			assert.Equal(t, 2, c.TransactionDepth())
			if _, err := c.ExecuteReturningCount(insertTodo("inner", false)); err != nil {
				return err
			}
			return errors.New("discard inner")
		})
		assert.EqualError(t, innerErr, "discard inner")
		return c.Transaction(func(c *Conn) error {
			_, err := c.ExecuteReturningCount(insertTodo("kept", false))
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 0, conn.TransactionDepth())

	cur, err := conn.Load(query.Select(query.Col("title")).From("todo_item").OrderBy(query.Asc(query.Col("id"))))
	require.NoError(t, err)
	var titles []string
	for cur.Next() {
		var s string
		require.NoError(t, cur.Row().Scan(&s))
		titles = append(titles, s)
	}
	assert.Equal(t, []string{"outer", "kept"}, titles)

	err = conn.Transaction(func(c *Conn) error {
		_, err := c.ExecuteReturningCount(insertTodo("rolled back", false))
		require.NoError(t, err)
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int64(2), count(t, conn))

	assert.Panics(t, func() {
		_ = conn.Transaction(func(c *Conn) error {
			_, _ = c.ExecuteReturningCount(insertTodo("panicked", false))
			panic("oops")
		})
	})
	assert.Equal(t, 0, conn.TransactionDepth())
	assert.Equal(t, int64(2), count(t, conn))

	assert.Error(t, conn.Commit())
	assert.Error(t, conn.Rollback())
}

func TestConn_Closed(t *testing.T) {
	conn := setupTestConn(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err := conn.Load(query.Select().From("todo_item"))
	assert.True(t, errors.Is(err, ErrClosedConnection))
	assert.True(t, errors.Is(conn.BatchExecute("SELECT 1"), ErrClosedConnection))
}

func TestConn_UnsupportedClause(t *testing.T) {
	conn := setupTestConn(t)
	_, err := conn.ExecuteReturningCount(query.InsertInto("todo_item", "title", "done").
		Values(query.Val(dialect.Text, "x"), query.Default()))
	assert.True(t, errors.Is(err, query.ErrUnsupported))
}

type failingTransport struct {
	connected bool
}

var errNoHost = errors.New("no host")

func (f *failingTransport) Connect(string) ([]byte, error) {
	if f.connected {
		return nil, errNoHost
	}
	f.connected = true
	return []byte(`{"handle":7}`), nil
}
func (f *failingTransport) Query(types.Handle, []byte) ([]byte, error)   { return nil, errNoHost }
func (f *failingTransport) Execute(types.Handle, []byte) ([]byte, error) { return []byte("{"), nil }
func (f *failingTransport) BatchExecute(types.Handle, string) ([]byte, error) {
	return []byte(`{"error":{"unable_to_send_command":"pool exhausted"}}`), nil
}
func (f *failingTransport) Close(types.Handle) ([]byte, error) { return []byte(`{}`), nil }

func TestConn_TransportFailures(t *testing.T) {
	conn, err := Establish("sqlite::memory:", &failingTransport{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.Handle(7), conn.Handle())

	_, err = conn.Load(query.Select().From("t"))
	assert.True(t, errors.Is(err, ErrUnableToSendCommand))
	assert.True(t, errors.Is(err, errNoHost))

	_, err = conn.ExecuteReturningCount(query.DeleteFrom("t"))
	assert.True(t, errors.Is(err, ErrUnableToSendCommand))

	err = conn.BatchExecute("SELECT 1")
	assert.True(t, errors.Is(err, ErrUnableToSendCommand))
	assert.Contains(t, err.Error(), "pool exhausted")

	_, err = Establish("sqlite::memory:", &failingTransport{connected: true}, Options{})
	assert.True(t, errors.Is(err, ErrUnableToSendCommand))

	_, err = Establish("oracle://db", &failingTransport{}, Options{})
	assert.Error(t, err)
}

func TestFromWire(t *testing.T) {
	tbl := []struct {
		code string
		kind Kind
	}{
		{types.CodeUniqueViolation, UniqueViolation},
		{types.CodeForeignKeyViolation, ForeignKeyViolation},
		{types.CodeNotNullViolation, NotNullViolation},
		{types.CodeCheckViolation, CheckViolation},
		{types.CodeSerializationFailure, SerializationFailure},
		{types.CodeReadOnlyTransaction, ReadOnlyTransaction},
		{types.CodeConnectionDoesNotExist, ClosedConnection},
		{types.CodeConnectionFailure, ClosedConnection},
		{"42P01", Unknown},
		{"", Unknown},
	}
	for _, tt := range tbl {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fromWire(&types.DbError{Code: tt.code, Message: "m", Hint: "h", ConstraintName: "c", StatementPosition: 3})
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, "h", err.Hint)
			assert.Equal(t, "c", err.Constraint)
			assert.Equal(t, int32(3), err.Position)
		})
	}

	err := fromWire(&types.DbError{Code: types.CodeSerializationFailure, Message: "could not serialize"})
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, ErrSerializationFailure))
	assert.Equal(t, "serialization failure: could not serialize", err.Error())

	err = fromWire(&types.DbError{UnableToSendCommand: "down"})
	assert.Equal(t, UnableToSendCommand, err.Kind)
	assert.False(t, IsRetryable(err))
}

func TestConn_TimestampColumns(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	before := time.Date(1969, 7, 20, 20, 17, 40, 1, time.UTC)

	tbl := []struct {
		decl string
		tag  types.TypeTag
	}{
		{"TIMESTAMP", dialect.SQLiteTimestamp},
		{"DATETIME", dialect.SQLiteTimestamp},
		{"DATE", dialect.SQLiteTimestamp},
		{"INTEGER", dialect.SQLiteText},
		{"TEXT", dialect.SQLiteText},
		{"", dialect.SQLiteText},
	}
	for _, tt := range tbl {
		t.Run("decl "+tt.decl, func(t *testing.T) {
			conn := setupTestConn(t)
			require.NoError(t, conn.BatchExecute("CREATE TABLE stamp (id INTEGER PRIMARY KEY, at "+tt.decl+");"))

			for _, v := range []time.Time{at, before} {
				_, err := conn.ExecuteReturningCount(query.InsertInto("stamp", "at").Values(query.Val(dialect.Timestamptz, v)))
				require.NoError(t, err)
			}

			cur, err := conn.Load(query.Select(query.Col("at")).From("stamp").OrderBy(query.Asc(query.Col("id"))))
			require.NoError(t, err)
			assert.Equal(t, tt.tag, cur.Columns()[0].Tag)

			var got []time.Time
			for cur.Next() {
				var ts time.Time
				require.NoError(t, cur.Row().Scan(&ts))
				got = append(got, ts)
			}
			require.Len(t, got, 2)
			assert.True(t, at.Equal(got[0]), "got %s", got[0])
			assert.True(t, before.Equal(got[1]), "got %s", got[1])

			// the column still compares against a bound time
			cur, err = conn.Load(query.Select(query.Count(query.Star())).From("stamp").
				Where(query.Eq(query.Col("at"), query.Val(dialect.Timestamptz, at))))
			require.NoError(t, err)
			require.True(t, cur.Next())
			var n int64
			require.NoError(t, cur.Row().Scan(&n))
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestField_Time(t *testing.T) {
	c := types.Column{Name: "at", Tag: dialect.SQLiteText}
	text := func(s string) Field { return Field{col: c, raw: []byte(s), storage: types.StorageText} }

	tbl := []struct {
		raw  string
		want time.Time
	}{
		{"2024-05-06 07:08:09.123456789+00:00", time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)},
		{"2024-05-06T09:08:09+02:00", time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)},
		{"2024-05-06T07:08:09.5Z", time.Date(2024, 5, 6, 7, 8, 9, 500000000, time.UTC)},
		{"2024-05-06 07:08", time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC)},
		{"2024-05-06", time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tbl {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := text(tt.raw).Time()
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := text("yesterday").Time()
	assert.Error(t, err)
}

func TestRow_ScanInt32Overflow(t *testing.T) {
	conn := setupTestConn(t)
	cur, err := conn.Load(query.Raw("SELECT ").Bind(dialect.BigInt, int64(1)<<40).SQL(" AS big, ").Bind(dialect.BigInt, -7).SQL(" AS small"))
	require.NoError(t, err)
	require.True(t, cur.Next())

	var big, small int32
	err = cur.Row().Scan(&big, &small)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows int32")

	var wide int64
	require.NoError(t, cur.Row().Scan(&wide, &small))
	assert.Equal(t, int64(1)<<40, wide)
	assert.Equal(t, int32(-7), small)
}
