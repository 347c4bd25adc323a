// Package migrate applies numbered schema migrations through a driver
// connection and records each applied unit in the fastn_migration ledger.
//
// A migration is either a SQL file named "<number>.sql" or
// "<number>_<name>.sql", or a Go function registered with a number. Both kinds
// share one number space per application. Units run in ascending order, each
// in its own transaction together with its ledger row, so a failure leaves
// every earlier unit committed and the failing one fully rolled back.
package migrate

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/driver"
	"github.com/tomyedwab/guestdb/sqlproxy/query"
)

// SystemApp is the application name under which the bundled system
// migrations are recorded.
const SystemApp = "fastn"

//go:embed migrations
var systemMigrations embed.FS

// FuncMigration is a migration implemented in Go. Fn runs inside the unit's
// transaction and must not commit or roll it back.
type FuncMigration struct {
	Number int32
	Name   string
	Fn     func(c *driver.Conn) error
}

type Options struct {
	// Now is the clock used for applied_on and time_taken. Defaults to time.Now.
	Now    func() time.Time
	Logger lgr.L
}

type unit struct {
	number int32
	name   string
	source string
	sql    string
	fn     func(c *driver.Conn) error
}

// Migrate ensures the bookkeeping tables exist, applies the bundled system
// migrations and then the application's own migrations from sqls and funcs.
// Units already recorded for appName are skipped. sqls may be nil.
func Migrate(c *driver.Conn, appName string, sqls fs.FS, funcs []FuncMigration, opts Options) error {
	opts = opts.withDefaults()
	if err := System(c, opts); err != nil {
		return err
	}
	return migrateApp(c, appName, sqls, funcs, opts)
}

// System ensures the bookkeeping tables exist and applies the bundled system
// migrations for the connection's dialect.
func System(c *driver.Conn, opts Options) error {
	opts = opts.withDefaults()
	if err := EnsureTables(c); err != nil {
		return err
	}
	system, err := fs.Sub(systemMigrations, path.Join("migrations", c.Dialect().Name()))
	if err != nil {
		return &Error{Op: ErrInvalidMigration, App: SystemApp, Err: err}
	}
	return migrateApp(c, SystemApp, system, nil, opts)
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = lgr.NoOp
	}
	return o
}

// EnsureTables creates the migration ledger and the system tables if missing.
func EnsureTables(c *driver.Conn) error {
	if err := c.BatchExecute(bootstrapSQL(c.Dialect())); err != nil {
		return &Error{Op: ErrCanNotCreateMigrationTable, Err: err}
	}
	return nil
}

func migrateApp(c *driver.Conn, appName string, sqls fs.FS, funcs []FuncMigration, opts Options) error {
	units, err := collect(sqls, funcs)
	if err != nil {
		return &Error{Op: ErrInvalidMigration, App: appName, Err: err}
	}

	latest, ok, err := LatestApplied(c, appName)
	if err != nil {
		return &Error{Op: ErrCanNotFindLatestAppliedMigrationNumber, App: appName, Err: err}
	}

	applied := 0
	for _, u := range units {
		if ok && u.number <= latest {
			continue
		}
		if err := apply(c, appName, u, opts); err != nil {
			return err
		}
		applied++
	}
	if applied > 0 {
		opts.Logger.Logf("[INFO] %s: applied %d migration(s)", appName, applied)
	} else {
		opts.Logger.Logf("[DEBUG] %s: schema is up to date", appName)
	}
	return nil
}

// LatestApplied returns the highest migration number recorded for appName.
// ok is false when nothing has been applied yet.
func LatestApplied(c *driver.Conn, appName string) (latest int32, ok bool, err error) {
	cur, err := c.Load(query.Select(query.As(query.Max(query.Col("migration_number")), "latest")).
		From(ledgerTable).
		Where(query.Eq(query.Col("app_name"), query.Val(dialect.Text, appName))))
	if err != nil {
		return 0, false, err
	}
	if !cur.Next() {
		return 0, false, nil
	}
	f, found := cur.Row().Get(0)
	if !found || f.IsNull() {
		return 0, false, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, false, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, false, fmt.Errorf("migration number %d overflows int32", n)
	}
	return int32(n), true, nil
}

func apply(c *driver.Conn, appName string, u unit, opts Options) error {
	start := opts.Now()
	err := c.Transaction(func(tx *driver.Conn) error {
		var err error
		if u.fn != nil {
			err = u.fn(tx)
		} else {
			err = tx.BatchExecute(u.sql)
		}
		if err != nil {
			return &Error{Op: ErrFailedToApplyMigration, App: appName, Number: u.number, Name: u.name, Err: err}
		}

		elapsed := opts.Now().Sub(start).Milliseconds()
		_, err = tx.ExecuteReturningCount(query.InsertInto(ledgerTable,
			"app_name", "migration_number", "migration_name", "applied_on", "time_taken").
			Values(
				query.Val(dialect.Text, appName),
				query.Val(dialect.Integer, u.number),
				query.Val(dialect.Text, u.name),
				query.Val(dialect.Timestamptz, start),
				query.Val(dialect.BigInt, elapsed),
			))
		if err != nil {
			return &Error{Op: ErrFailedToRecordMigration, App: appName, Number: u.number, Name: u.name, Err: err}
		}
		return nil
	})
	if err != nil {
		if merr, ok := err.(*multierror.Error); ok {
			opts.Logger.Logf("[WARN] %s: rollback of migration %d failed: %v", appName, u.number, merr)
		}
		var me *Error
		if errors.As(err, &me) {
			return me
		}
		// begin, commit or rollback failed around the unit
		return &Error{Op: ErrFailedToApplyMigration, App: appName, Number: u.number, Name: u.name, Err: err}
	}

	opts.Logger.Logf("[INFO] %s: applied migration %d (%s) from %s in %dms",
		appName, u.number, u.name, u.source, opts.Now().Sub(start).Milliseconds())
	return nil
}

// collect reads SQL units from sqls, merges them with funcs and returns them
// sorted by number. Every problem found is reported, not only the first.
func collect(sqls fs.FS, funcs []FuncMigration) ([]unit, error) {
	var result *multierror.Error
	var units []unit

	if sqls != nil {
		entries, err := fs.ReadDir(sqls, ".")
		if err != nil {
			return nil, fmt.Errorf("failed to read migration directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			u, err := readSQL(sqls, e.Name())
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			units = append(units, u)
		}
	}

	for _, f := range funcs {
		name := f.Name
		if name == "" {
			name = strconv.Itoa(int(f.Number))
		}
		units = append(units, unit{number: f.Number, name: name, source: "func " + name, fn: f.Fn})
	}

	seen := make(map[int32]string, len(units))
	for _, u := range units {
		if prev, dup := seen[u.number]; dup {
			result = multierror.Append(result, &InvalidMigrationError{
				Reason: Duplicate,
				Source: prev + ", " + u.source,
				Number: u.number,
			})
			continue
		}
		seen[u.number] = u.source
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Slice(units, func(i, j int) bool { return units[i].number < units[j].number })
	return units, nil
}

func readSQL(sqls fs.FS, file string) (unit, error) {
	if !utf8.ValidString(file) {
		return unit{}, &InvalidMigrationError{Reason: NonUtf8Name, Source: strconv.Quote(file)}
	}
	number, name, err := parseName(strings.TrimSuffix(file, ".sql"))
	if err != nil {
		return unit{}, &InvalidMigrationError{Reason: NonIntegerId, Source: file, Err: err}
	}
	content, err := fs.ReadFile(sqls, file)
	if err != nil {
		return unit{}, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if !utf8.Valid(content) {
		return unit{}, &InvalidMigrationError{Reason: NonUtf8Content, Source: file, Number: number}
	}
	return unit{number: number, name: name, source: file, sql: string(content)}, nil
}

// parseName splits "<number>_<name>" or "<number>". A bare number is its own name.
func parseName(stem string) (int32, string, error) {
	id, name, found := strings.Cut(stem, "_")
	if !found {
		name = stem
	}
	n, err := strconv.ParseInt(id, 10, 32)
	if err != nil {
		return 0, "", err
	}
	return int32(n), name, nil
}
