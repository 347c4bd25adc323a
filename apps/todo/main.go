// Command todo is a guest module: a small todo list kept in the host's
// database. It is a reactor, built with GOOS=wasip1 -buildmode=c-shared; the
// host calls its run export after _initialize.
package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/guestdb/migrate"
	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/driver"
	"github.com/tomyedwab/guestdb/sqlproxy/query"
)

const appName = "todo"

//go:embed migrations
var migrations embed.FS

type todo struct {
	ID    int64  `db:"id"`
	Title string `db:"title"`
	Done  bool   `db:"done"`
}

func main() {}

var funcMigrations = []migrate.FuncMigration{
	{Number: 2, Name: "welcome_item", Fn: func(c *driver.Conn) error {
		return addItem(c, "Read the welcome note", time.Unix(0, 0).UTC())
	}},
}

// setup brings the schema up to date.
func setup(c *driver.Conn, now func() time.Time, log lgr.L) error {
	sqls, err := fs.Sub(migrations, path.Join("migrations", c.Dialect().Name()))
	if err != nil {
		return err
	}
	return migrate.Migrate(c, appName, sqls, funcMigrations, migrate.Options{Now: now, Logger: log})
}

// addItem inserts a todo unless one with the same title exists.
func addItem(c *driver.Conn, title string, createdAt time.Time) error {
	_, err := c.ExecuteReturningCount(query.InsertInto("todo_item", "title", "created_at").
		Values(query.Val(dialect.Text, title), query.Val(dialect.Timestamptz, createdAt)).
		OnConflictDoNothing("title"))
	if err != nil {
		return fmt.Errorf("failed to add %q: %w", title, err)
	}
	return nil
}

func completeItem(db *sqlx.DB, title string) (bool, error) {
	res, err := db.Exec(db.Rebind("UPDATE todo_item SET done = ? WHERE title = ?"), true, title)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func listItems(db *sqlx.DB) ([]todo, error) {
	var items []todo
	if err := db.Select(&items, "SELECT id, title, done FROM todo_item ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// runApp migrates, records a visit and completes the welcome item.
func runApp(c *driver.Conn, now func() time.Time, log lgr.L) error {
	if err := setup(c, now, log); err != nil {
		return err
	}

	started := now()
	if err := addItem(c, "Visited at "+started.Format(time.RFC3339), started); err != nil {
		return err
	}

	db := driver.OpenDB(c)
	defer db.Close()

	if _, err := completeItem(db, "Read the welcome note"); err != nil {
		return err
	}
	items, err := listItems(db)
	if err != nil {
		return err
	}
	for _, it := range items {
		log.Logf("[DEBUG] todo %d %q done=%v", it.ID, it.Title, it.Done)
	}
	log.Logf("[INFO] %d todo item(s)", len(items))
	return nil
}
