package migrate

import (
	"errors"
	"io/fs"
	"path"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/driver"
	"github.com/tomyedwab/guestdb/sqlproxy/host"
	"github.com/tomyedwab/guestdb/sqlproxy/query"
)

func setupTestConn(t *testing.T) *driver.Conn {
	h := host.NewSQLHost(host.Options{Logger: lgr.NoOp})
	t.Cleanup(func() { _ = h.Close() })

	url := "sqlite://" + path.Join(t.TempDir(), "test.db")
	conn, err := driver.Establish(url, host.Loopback{Host: h}, driver.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// fixedClock advances by step on every call
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

type ledgerRow struct {
	number    int64
	name      string
	appliedOn time.Time
	timeTaken int64
}

func ledger(t *testing.T, conn *driver.Conn, app string) []ledgerRow {
	cur, err := conn.Load(query.Select(
		query.Col("migration_number"), query.Col("migration_name"),
		query.Col("applied_on"), query.Col("time_taken")).
		From(ledgerTable).
		Where(query.Eq(query.Col("app_name"), query.Val(dialect.Text, app))).
		OrderBy(query.Asc(query.Col("migration_number"))))
	require.NoError(t, err)

	var rows []ledgerRow
	for cur.Next() {
		var r ledgerRow
		require.NoError(t, cur.Row().Scan(&r.number, &r.name, &r.appliedOn, &r.timeTaken))
		rows = append(rows, r)
	}
	return rows
}

func numbers(rows []ledgerRow) []int64 {
	var out []int64
	for _, r := range rows {
		out = append(out, r.number)
	}
	return out
}

func tableExists(t *testing.T, conn *driver.Conn, name string) bool {
	cur, err := conn.Load(query.Select(query.Count(query.Star())).
		From("sqlite_master").
		Where(query.And(
			query.Eq(query.Col("type"), query.Val(dialect.Text, "table")),
			query.Eq(query.Col("name"), query.Val(dialect.Text, name)))))
	require.NoError(t, err)
	require.True(t, cur.Next())
	f, _ := cur.Row().Get(0)
	n, err := f.Int64()
	require.NoError(t, err)
	return n == 1
}

// steps returns the values inserted into the steps table, in insertion order
func steps(t *testing.T, conn *driver.Conn) []int64 {
	cur, err := conn.Load(query.Select(query.Col("n")).From("steps").OrderBy(query.Asc(query.Col("rowid"))))
	require.NoError(t, err)
	var out []int64
	for cur.Next() {
		var n int64
		require.NoError(t, cur.Row().Scan(&n))
		out = append(out, n)
	}
	return out
}

func insertStep(n int64) func(c *driver.Conn) error {
	return func(c *driver.Conn) error {
		_, err := c.ExecuteReturningCount(query.InsertInto("steps", "n").Values(query.Val(dialect.BigInt, n)))
		return err
	}
}

func TestMigrate_TodoApp(t *testing.T) {
	conn := setupTestConn(t)
	start := time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC)

	sqls := fstest.MapFS{
		"1_init.sql": {Data: []byte(`
			CREATE TABLE todo_item (
				id INTEGER PRIMARY KEY,
				title TEXT NOT NULL,
				done INTEGER NOT NULL DEFAULT 0
			);`)},
		"README.md": {Data: []byte("not a migration")},
	}
	seeded := 0
	funcs := []FuncMigration{{
		Number: 2,
		Name:   "seed",
		Fn: func(c *driver.Conn) error {
			seeded++
			_, err := c.ExecuteReturningCount(query.InsertInto("todo_item", "title").
				Values(query.Val(dialect.Text, "write the docs")))
			return err
		},
	}}

	err := Migrate(conn, "todo", sqls, funcs, Options{Now: fixedClock(start, 5*time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)

	rows := ledger(t, conn, "todo")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].number)
	assert.Equal(t, "init", rows[0].name)
	assert.Equal(t, int64(2), rows[1].number)
	assert.Equal(t, "seed", rows[1].name)
	for _, r := range rows {
		assert.Equal(t, int64(5), r.timeTaken)
		assert.True(t, r.appliedOn.After(start), "applied_on %s", r.appliedOn)
		// every clock reading is start plus whole steps, so nanoseconds survive storage
		assert.Zero(t, r.appliedOn.Sub(start)%(5*time.Millisecond), "applied_on %s", r.appliedOn)
	}

	cur, err := conn.Load(query.Select(query.Col("title")).From("todo_item"))
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
	require.True(t, cur.Next())
	var title string
	require.NoError(t, cur.Row().Scan(&title))
	assert.Equal(t, "write the docs", title)

	// bundled system migrations are recorded under their own name
	assert.Equal(t, []int64{1, 2}, numbers(ledger(t, conn, SystemApp)))
	for _, table := range []string{"fastn_user", "fastn_session", "fastn_email_queue"} {
		assert.True(t, tableExists(t, conn, table), table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := setupTestConn(t)
	sqls := fstest.MapFS{"1.sql": {Data: []byte("CREATE TABLE steps (n INTEGER NOT NULL);")}}
	calls := 0
	funcs := []FuncMigration{{Number: 2, Fn: func(c *driver.Conn) error {
		calls++
		return insertStep(2)(c)
	}}}

	require.NoError(t, Migrate(conn, "app", sqls, funcs, Options{}))
	require.NoError(t, Migrate(conn, "app", sqls, funcs, Options{}))

	assert.Equal(t, 1, calls)
	rows := ledger(t, conn, "app")
	assert.Equal(t, []int64{1, 2}, numbers(rows))
	assert.Equal(t, "1", rows[0].name)
	assert.Equal(t, "2", rows[1].name)
	assert.Equal(t, []int64{1, 2}, numbers(ledger(t, conn, SystemApp)))
	assert.Equal(t, []int64{2}, steps(t, conn))
}

func TestMigrate_InterleavedOrder(t *testing.T) {
	conn := setupTestConn(t)
	sqls := fstest.MapFS{
		"3_three.sql": {Data: []byte("INSERT INTO steps (n) VALUES (3);")},
		"1_one.sql":   {Data: []byte("CREATE TABLE steps (n INTEGER NOT NULL); INSERT INTO steps (n) VALUES (1);")},
	}
	funcs := []FuncMigration{{Number: 2, Name: "two", Fn: insertStep(2)}}

	require.NoError(t, Migrate(conn, "app", sqls, funcs, Options{}))
	assert.Equal(t, []int64{1, 2, 3}, steps(t, conn))
	assert.Equal(t, []int64{1, 2, 3}, numbers(ledger(t, conn, "app")))
}

func TestMigrate_ResumesAfterLatest(t *testing.T) {
	conn := setupTestConn(t)
	sqls := fstest.MapFS{"1_steps.sql": {Data: []byte("CREATE TABLE steps (n INTEGER NOT NULL);")}}
	funcs := []FuncMigration{{Number: 2, Fn: insertStep(2)}}
	require.NoError(t, Migrate(conn, "app", sqls, funcs, Options{}))

	funcs = append(funcs, FuncMigration{Number: 3, Fn: insertStep(3)})
	require.NoError(t, Migrate(conn, "app", sqls, funcs, Options{}))

	assert.Equal(t, []int64{2, 3}, steps(t, conn))
	assert.Equal(t, []int64{1, 2, 3}, numbers(ledger(t, conn, "app")))

	latest, ok, err := LatestApplied(conn, "app")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), latest)

	_, ok, err = LatestApplied(conn, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrate_Duplicate(t *testing.T) {
	tests := []struct {
		name  string
		sqls  fstest.MapFS
		funcs []FuncMigration
	}{
		{
			name:  "sql and function",
			sqls:  fstest.MapFS{"1_init.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")}},
			funcs: []FuncMigration{{Number: 1, Fn: func(*driver.Conn) error { return nil }}},
		},
		{
			name: "two functions",
			funcs: []FuncMigration{
				{Number: 4, Name: "b", Fn: func(*driver.Conn) error { return nil }},
				{Number: 4, Name: "a", Fn: func(*driver.Conn) error { return nil }},
			},
		},
		{
			name: "two files",
			sqls: fstest.MapFS{
				"7_a.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
				"7_b.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := setupTestConn(t)
			var sqls fs.FS
			if tt.sqls != nil {
				sqls = tt.sqls
			}
			err := Migrate(conn, "app", sqls, tt.funcs, Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMigration)

			var invalid *InvalidMigrationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, Duplicate, invalid.Reason)

			assert.Empty(t, ledger(t, conn, "app"))
			assert.False(t, tableExists(t, conn, "a"))
		})
	}
}

func TestMigrate_FailureHaltsRun(t *testing.T) {
	conn := setupTestConn(t)
	sqls := fstest.MapFS{
		"1_steps.sql":  {Data: []byte("CREATE TABLE steps (n INTEGER NOT NULL);")},
		"2_broken.sql": {Data: []byte("CREATE TABLE half (id INTEGER); INSERT INTO missing (x) VALUES (1);")},
		"3_later.sql":  {Data: []byte("INSERT INTO steps (n) VALUES (3);")},
	}

	err := Migrate(conn, "app", sqls, nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailedToApplyMigration)
	assert.NotErrorIs(t, err, ErrFailedToRecordMigration)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "app", merr.App)
	assert.Equal(t, int32(2), merr.Number)
	assert.Equal(t, "broken", merr.Name)

	assert.Equal(t, []int64{1}, numbers(ledger(t, conn, "app")))
	assert.True(t, tableExists(t, conn, "steps"))
	assert.False(t, tableExists(t, conn, "half"), "failed unit must roll back")
	assert.Empty(t, steps(t, conn))
	assert.Equal(t, 0, conn.TransactionDepth())
}

func TestMigrate_RecordFailure(t *testing.T) {
	conn := setupTestConn(t)
	funcs := []FuncMigration{{
		Number: 1,
		Name:   "claims its own ledger row",
		Fn: func(c *driver.Conn) error {
			_, err := c.ExecuteReturningCount(query.InsertInto(ledgerTable,
				"app_name", "migration_number", "migration_name", "applied_on", "time_taken").
				Values(
					query.Val(dialect.Text, "app"),
					query.Val(dialect.Integer, 1),
					query.Val(dialect.Text, "sneaky"),
					query.Val(dialect.Timestamptz, time.Now()),
					query.Val(dialect.BigInt, 0),
				))
			return err
		},
	}}

	err := Migrate(conn, "app", nil, funcs, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailedToRecordMigration)
	assert.ErrorIs(t, err, driver.ErrUniqueViolation)
	assert.Empty(t, ledger(t, conn, "app"))
}

func TestMigrate_InvalidFiles(t *testing.T) {
	conn := setupTestConn(t)
	sqls := fstest.MapFS{
		"abc_init.sql": {Data: []byte("SELECT 1;")},
		"2_bad.sql":    {Data: []byte{0xff, 0xfe, 0x00}},
		"3.sql":        {Data: []byte("SELECT 1;")},
	}
	funcs := []FuncMigration{{Number: 3, Fn: func(*driver.Conn) error { return nil }}}

	err := Migrate(conn, "app", sqls, funcs, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMigration)

	// all problems are reported together
	var reasons []Reason
	var merr *Error
	require.ErrorAs(t, err, &merr)
	var agg interface{ WrappedErrors() []error }
	require.True(t, errors.As(merr.Err, &agg))
	for _, e := range agg.WrappedErrors() {
		var invalid *InvalidMigrationError
		require.ErrorAs(t, e, &invalid)
		reasons = append(reasons, invalid.Reason)
	}
	assert.ElementsMatch(t, []Reason{NonIntegerId, NonUtf8Content, Duplicate}, reasons)
	assert.Empty(t, ledger(t, conn, "app"))
}

func TestParseName(t *testing.T) {
	tests := []struct {
		stem    string
		number  int32
		name    string
		wantErr bool
	}{
		{stem: "1", number: 1, name: "1"},
		{stem: "0002_create_users", number: 2, name: "create_users"},
		{stem: "10_a_b", number: 10, name: "a_b"},
		{stem: "init", wantErr: true},
		{stem: "1-init", wantErr: true},
		{stem: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			n, name, err := parseName(tt.stem)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.number, n)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: ErrFailedToApplyMigration, App: "todo", Number: 3, Name: "index", Err: errors.New("boom")}
	assert.Equal(t, "failed to apply migration: todo migration 3 (index): boom", err.Error())
	assert.ErrorIs(t, err, ErrFailedToApplyMigration)

	err = &Error{Op: ErrCanNotCreateMigrationTable, Err: errors.New("disk full")}
	assert.Equal(t, "can not create migration table: disk full", err.Error())
}

func TestLatestApplied_OutOfRange(t *testing.T) {
	conn := setupTestConn(t)
	require.NoError(t, EnsureTables(conn))
	_, err := conn.ExecuteReturningCount(query.InsertInto(ledgerTable,
		"app_name", "migration_number", "migration_name", "applied_on", "time_taken").
		Values(
			query.Val(dialect.Text, "app"),
			query.Val(dialect.BigInt, int64(1)<<40),
			query.Val(dialect.Text, "huge"),
			query.Val(dialect.Timestamptz, time.Now()),
			query.Val(dialect.BigInt, 0),
		))
	require.NoError(t, err)

	_, _, err = LatestApplied(conn, "app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows int32")

	err = Migrate(conn, "app", nil, nil, Options{})
	assert.ErrorIs(t, err, ErrCanNotFindLatestAppliedMigrationNumber)
}
